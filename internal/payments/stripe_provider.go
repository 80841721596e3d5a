package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// stripeClients groups the two Stripe API surfaces the provider touches.
// Tests inject fakes here instead of dialling Stripe.
type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements Provider against Stripe Checkout and Payment
// Intents.
type StripeProvider struct {
	sc      stripeClients
	account string
	now     func() time.Time
	log     StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sc, err := cfg.resolveClients()
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sc:      sc,
		account: strings.TrimSpace(cfg.AccountID),
		now:     func() time.Time { return clock().UTC() },
		log:     log,
	}, nil
}

func (cfg StripeProviderConfig) resolveClients() (stripeClients, error) {
	if cfg.Clients != nil {
		if cfg.Clients.sessions == nil || cfg.Clients.intents == nil {
			return stripeClients{}, errors.New("stripe: incomplete client configuration")
		}
		return *cfg.Clients, nil
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return stripeClients{}, errors.New("stripe: api key is required")
	}
	sc := client.New(key, cfg.Backends)
	return stripeClients{sessions: sc.CheckoutSessions, intents: sc.PaymentIntents}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for the priced cart.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	session, err := p.sc.sessions.New(p.sessionParams(ctx, req))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}

	p.log(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"currency":      session.Currency,
	})

	// Stripe omits ExpiresAt for some session states; fall back to the
	// documented 30 minute window.
	expiresAt := p.now().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:           session.ID,
		Provider:     "stripe",
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.URL,
		IntentID:     intentID,
		ExpiresAt:    expiresAt,
		Raw:          rawJSON("session", session),
	}, nil
}

func (p *StripeProvider) sessionParams(ctx context.Context, req CheckoutSessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}
	if req.AllowPromotion {
		params.AllowPromotionCodes = stripe.Bool(true)
	}
	params.Metadata = cloneMetadata(req.Metadata)

	params.LineItems = checkoutLineItems(req)
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: cloneMetadata(req.Metadata),
	}
	return params
}

// checkoutLineItems maps cart lines onto Stripe price data. A cart priced
// only at the order level becomes a single synthetic line.
func checkoutLineItems(req CheckoutSessionRequest) []*stripe.CheckoutSessionLineItemParams {
	if len(req.Items) == 0 {
		return []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		}}
	}

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		currency := item.Currency
		if strings.TrimSpace(currency) == "" {
			currency = req.Currency
		}
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(currency)),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		lines = append(lines, line)
	}
	return lines
}

// LookupPayment retrieves a Stripe Payment Intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.sc.intents.Get(req.IntentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

// stripePaymentDetails normalises an intent plus its latest charge into the
// provider-neutral shape stored on orders.
func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	details := PaymentDetails{
		Provider: "stripe",
		IntentID: intent.ID,
		Status:   intentStatus(intent.Status),
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
		Captured: intent.Status == stripe.PaymentIntentStatusSucceeded,
		Raw:      rawJSON("payment_intent", intent),
	}

	if charge := intent.LatestCharge; charge != nil {
		chargeTime := time.Unix(charge.Created, 0).UTC()
		if charge.Paid || charge.Captured {
			details.CapturedAt = &chargeTime
			details.Captured = true
		}
		if charge.Refunded || charge.AmountRefunded > 0 {
			details.RefundedAt = &chargeTime
			if charge.Amount > 0 && charge.AmountRefunded >= charge.Amount {
				details.Status = StatusRefunded
			}
		}
		if details.Currency == "" {
			details.Currency = strings.ToUpper(string(charge.Currency))
		}
	}

	if intent.Status == stripe.PaymentIntentStatusSucceeded && details.Status != StatusRefunded {
		details.Status = StatusSucceeded
	}
	return details
}

func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

// rawJSON round-trips v through JSON to capture the PSP payload as a generic
// map for audit storage. Values that fail to marshal are kept as-is under
// the provided key.
func rawJSON(key string, v any) map[string]any {
	raw := map[string]any{}
	data, err := json.Marshal(v)
	if err != nil {
		raw[key] = v
		return raw
	}
	_ = json.Unmarshal(data, &raw)
	return raw
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
