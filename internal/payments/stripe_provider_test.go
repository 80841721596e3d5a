package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct {
	params  *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.session, f.err
}

type fakeIntentAPI struct {
	id     string
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.id = id
	return f.intent, f.err
}

func newTestStripeProvider(t *testing.T, sessions *fakeSessionAPI, intents *fakeIntentAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clients: &stripeClients{sessions: sessions, intents: intents},
		Clock:   func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeCreateCheckoutSessionMapsCartLines(t *testing.T) {
	sessions := &fakeSessionAPI{session: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		ClientSecret:  "secret_1",
		URL:           "https://checkout.stripe.com/pay/cs_test_1",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	provider := newTestStripeProvider(t, sessions, &fakeIntentAPI{})

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:     134910,
		Currency:   "inr",
		SuccessURL: "https://shop.example.com/done",
		CancelURL:  "https://shop.example.com/cancel",
		Metadata:   map[string]string{"orderId": "ord_1"},
		Items: []CheckoutLineItem{
			{Name: "Walnut serving board", SKU: "SKU-100", Quantity: 2, Amount: 49900},
			{Name: "Gift wrap", Quantity: 0, Amount: 5000, Currency: "inr"},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.ID != "cs_test_1" || session.IntentID != "pi_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Provider != "stripe" {
		t.Fatalf("expected stripe provider, got %q", session.Provider)
	}
	if session.RedirectURL != "https://checkout.stripe.com/pay/cs_test_1" {
		t.Fatalf("unexpected redirect url %q", session.RedirectURL)
	}
	// No ExpiresAt on the session means the 30 minute default applies.
	want := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	if !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, session.ExpiresAt)
	}

	params := sessions.params
	if params == nil || len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %+v", params)
	}
	first := params.LineItems[0]
	if *first.Quantity != 2 || *first.PriceData.UnitAmount != 49900 {
		t.Fatalf("unexpected first line %+v", first)
	}
	if first.PriceData.ProductData.Metadata["sku"] != "SKU-100" {
		t.Fatalf("expected sku metadata, got %+v", first.PriceData.ProductData.Metadata)
	}
	second := params.LineItems[1]
	if *second.Quantity != 1 {
		t.Fatalf("zero quantity should clamp to 1, got %d", *second.Quantity)
	}
	if *second.PriceData.Currency != "inr" {
		t.Fatalf("unexpected currency %q", *second.PriceData.Currency)
	}
	if params.PaymentIntentData == nil || params.PaymentIntentData.Metadata["orderId"] != "ord_1" {
		t.Fatalf("metadata should propagate to the payment intent")
	}
}

func TestStripeCreateCheckoutSessionSyntheticLine(t *testing.T) {
	sessions := &fakeSessionAPI{session: &stripe.CheckoutSession{ID: "cs_test_2"}}
	provider := newTestStripeProvider(t, sessions, &fakeIntentAPI{})

	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		Amount:   25000,
		Currency: "INR",
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	lines := sessions.params.LineItems
	if len(lines) != 1 {
		t.Fatalf("expected synthetic line, got %d", len(lines))
	}
	if *lines[0].PriceData.UnitAmount != 25000 || *lines[0].PriceData.Currency != "inr" {
		t.Fatalf("unexpected synthetic line %+v", lines[0].PriceData)
	}
}

func TestStripeLookupPaymentNormalisesRefund(t *testing.T) {
	intents := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		ID:       "pi_9",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   134910,
		Currency: "inr",
		LatestCharge: &stripe.Charge{
			Created:        time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC).Unix(),
			Paid:           true,
			Captured:       true,
			Amount:         134910,
			AmountRefunded: 134910,
			Refunded:       true,
		},
	}}
	provider := newTestStripeProvider(t, &fakeSessionAPI{}, intents)

	details, err := provider.LookupPayment(context.Background(), LookupRequest{IntentID: "pi_9"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if intents.id != "pi_9" {
		t.Fatalf("expected lookup of pi_9, got %q", intents.id)
	}
	if details.Status != StatusRefunded {
		t.Fatalf("expected refunded status, got %q", details.Status)
	}
	if !details.Captured || details.CapturedAt == nil || details.RefundedAt == nil {
		t.Fatalf("expected capture and refund timestamps, got %+v", details)
	}
	if details.Currency != "INR" {
		t.Fatalf("currency should be upper-cased, got %q", details.Currency)
	}
}

func TestNewStripeProviderRequiresKeyOrClients(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{}}); err == nil {
		t.Fatal("expected error for incomplete clients")
	}
}
