// Package payments abstracts hosted-checkout providers behind a routing
// manager so checkout does not depend on any single PSP.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider matches the
// routing hints.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem describes a single cart line to include in a hosted
// checkout session. Amount is in minor units.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a hosted
// checkout session for a priced cart.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
	AllowPromotion bool
}

// CheckoutSession represents the PSP session returned to the storefront.
type CheckoutSession struct {
	ID           string
	Provider     string
	ClientSecret string
	RedirectURL  string
	IntentID     string
	ExpiresAt    time.Time
	Raw          map[string]any
}

// LookupRequest identifies a payment for reconciliation against an order.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// PaymentContext carries the hints used to pick a provider for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

// Manager routes each payment call to one of the registered providers.
// Selection order: the caller's preferred provider, then a static currency
// route, then the default, then the sole registered provider.
type Manager struct {
	registry map[string]Provider
	fallback string
	routes   map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.fallback = name }
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			if m.routes == nil {
				m.routes = make(map[string]string, len(routes))
			}
			m.routes[currencyKey(currency)] = strings.TrimSpace(name)
		}
	}
}

// NewManager constructs a Manager over the supplied providers. When Stripe is
// registered it becomes the default unless an option says otherwise.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}

	registry := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		registry[key] = provider
	}

	m := &Manager{registry: registry}
	if _, ok := registry["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func currencyKey(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// pick resolves the provider for a call following the documented selection
// order.
func (m *Manager) pick(hints PaymentContext) (string, Provider, error) {
	if m == nil || len(m.registry) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	candidates := []string{
		providerKey(hints.PreferredProvider),
		providerKey(m.routes[currencyKey(hints.Currency)]),
		providerKey(m.fallback),
	}
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if provider, ok := m.registry[key]; ok {
			return key, provider, nil
		}
	}

	if len(m.registry) == 1 {
		for key, provider := range m.registry {
			return key, provider, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession delegates to the resolved provider and stamps the
// session with the provider key that handled it.
func (m *Manager) CreateCheckoutSession(ctx context.Context, paymentCtx PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.pick(paymentCtx)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := m.pick(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
