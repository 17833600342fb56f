package billing

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"

	pkgstripe "github.com/pulsarhq/licensing-backend/pkg/stripe"
)

// StripeBillingClient exposes the subset of Stripe operations required by
// the billing service.
type StripeBillingClient interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so the billing service
// can be tested.
func NewStripeClient(api *pkgstripe.Client) StripeBillingClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return checkoutsession.New(params)
}

func (w *stripeClientWrapper) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return portalsession.New(params)
}
