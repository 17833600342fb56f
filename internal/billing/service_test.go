package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/pulsarhq/licensing-backend/internal/records"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

type fakeStripe struct {
	checkoutParams *stripe.CheckoutSessionParams
	portalParams   *stripe.BillingPortalSessionParams
	fail           error
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.checkoutParams = params
	return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/c/session_1"}, nil
}

func (f *fakeStripe) CreatePortalSession(_ context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.portalParams = params
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session_1"}, nil
}

type fixture struct {
	store   *records.MemoryStore
	stripe  *fakeStripe
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := records.NewMemoryStore()
	resolver, err := records.NewResolver(store)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	client := &fakeStripe{}
	service, err := NewService(ServiceParams{
		Resolver:        resolver,
		Stripe:          client,
		PriceID:         "price_sub",
		SuccessURL:      "https://app.example.com/billing/success",
		CancelURL:       "https://app.example.com/billing/cancel",
		PortalReturnURL: "https://app.example.com/settings",
	})
	if err != nil {
		t.Fatalf("new billing service: %v", err)
	}
	return &fixture{store: store, stripe: client, service: service}
}

func TestCheckoutSessionCarriesDeviceHash(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.CheckoutSession(context.Background(), "d1", "buyer@example.com")
	if err != nil {
		t.Fatalf("checkout session: %v", err)
	}
	if result.URL == "" {
		t.Fatalf("expected session url")
	}

	params := f.stripe.checkoutParams
	if params == nil {
		t.Fatalf("expected stripe call")
	}
	if got := stripe.StringValue(params.ClientReferenceID); got != "d1" {
		t.Fatalf("unexpected client reference %q", got)
	}
	if params.Metadata["device_hash"] != "d1" {
		t.Fatalf("expected device_hash metadata, got %v", params.Metadata)
	}
	if params.SubscriptionData == nil || params.SubscriptionData.Metadata["device_hash"] != "d1" {
		t.Fatalf("expected device_hash on subscription metadata")
	}
	if got := stripe.StringValue(params.CustomerEmail); got != "buyer@example.com" {
		t.Fatalf("unexpected customer email %q", got)
	}
	if len(params.LineItems) != 1 || stripe.StringValue(params.LineItems[0].Price) != "price_sub" {
		t.Fatalf("unexpected line items %+v", params.LineItems)
	}
}

func TestCheckoutSessionReusesKnownCustomer(t *testing.T) {
	f := newFixture(t)
	if err := f.store.PutDevice(context.Background(), "d1", records.DeviceRecord{
		DeviceHash:       "d1",
		StripeCustomerID: "cus_1",
		Email:            "owner@example.com",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := f.service.CheckoutSession(context.Background(), "d1", ""); err != nil {
		t.Fatalf("checkout session: %v", err)
	}
	params := f.stripe.checkoutParams
	if got := stripe.StringValue(params.Customer); got != "cus_1" {
		t.Fatalf("expected existing customer reused, got %q", got)
	}
	if params.CustomerEmail != nil {
		t.Fatalf("customer email must not be set alongside a customer id")
	}
}

func TestCheckoutSessionWrapsProviderError(t *testing.T) {
	f := newFixture(t)
	f.stripe.fail = errors.New("stripe is down")

	_, err := f.service.CheckoutSession(context.Background(), "d1", "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeStripe) {
		t.Fatalf("expected stripe_error, got %v", err)
	}
}

func TestPortalSessionRequiresCustomer(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.PortalSession(context.Background(), "d1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeSubscriptionRequired) {
		t.Fatalf("expected subscription_required, got %v", err)
	}

	if err := f.store.PutDevice(context.Background(), "d1", records.DeviceRecord{
		DeviceHash:       "d1",
		StripeCustomerID: "cus_1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	result, err := f.service.PortalSession(context.Background(), "d1")
	if err != nil {
		t.Fatalf("portal session: %v", err)
	}
	if result.URL == "" {
		t.Fatalf("expected portal url")
	}
	if got := stripe.StringValue(f.stripe.portalParams.Customer); got != "cus_1" {
		t.Fatalf("unexpected customer %q", got)
	}
}

func TestSubscriptionSnapshot(t *testing.T) {
	f := newFixture(t)
	now := time.Now().Unix()
	if err := f.store.PutDevice(context.Background(), "d1", records.DeviceRecord{
		DeviceHash:        "d1",
		Status:            "active",
		CurrentPeriodEnd:  records.Ptr(now + 3600),
		CancelAtPeriodEnd: true,
		PlanPriceID:       "price_sub",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot, err := f.service.Subscription(context.Background(), "d1", "")
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if !snapshot.Entitled || snapshot.Status != "active" || !snapshot.CancelAtPeriodEnd {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	// Unknown devices get an empty snapshot, not a 404.
	snapshot, err = f.service.Subscription(context.Background(), "ghost", "")
	if err != nil {
		t.Fatalf("subscription for unknown device: %v", err)
	}
	if snapshot.Entitled || snapshot.Status != "" {
		t.Fatalf("expected empty snapshot, got %+v", snapshot)
	}
}
