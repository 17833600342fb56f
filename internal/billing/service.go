package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/records"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

// SessionResult carries the hosted page URL the client should open.
type SessionResult struct {
	URL string `json:"url"`
}

// SubscriptionSnapshot is the stored view of a device's subscription; it
// never triggers a provider call.
type SubscriptionSnapshot struct {
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	PlanPriceID       string `json:"plan_price_id"`
	Entitled          bool   `json:"entitled"`
}

// ServiceParams wires the billing service dependencies.
type ServiceParams struct {
	Resolver        *records.Resolver
	Stripe          StripeBillingClient
	PriceID         string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Service creates hosted checkout/portal sessions and reads the stored
// subscription snapshot.
type Service struct {
	resolver        *records.Resolver
	stripe          StripeBillingClient
	priceID         string
	successURL      string
	cancelURL       string
	portalReturnURL string
	clock           func() time.Time
}

// NewService validates the params and builds the billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Resolver == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}
	if params.Stripe == nil {
		return nil, fmt.Errorf("stripe client is required")
	}
	if strings.TrimSpace(params.PriceID) == "" {
		return nil, fmt.Errorf("subscription price id is required")
	}
	if strings.TrimSpace(params.SuccessURL) == "" || strings.TrimSpace(params.CancelURL) == "" {
		return nil, fmt.Errorf("checkout success and cancel urls are required")
	}
	if strings.TrimSpace(params.PortalReturnURL) == "" {
		return nil, fmt.Errorf("portal return url is required")
	}
	return &Service{
		resolver:        params.Resolver,
		stripe:          params.Stripe,
		priceID:         params.PriceID,
		successURL:      params.SuccessURL,
		cancelURL:       params.CancelURL,
		portalReturnURL: params.PortalReturnURL,
		clock:           time.Now,
	}, nil
}

// CheckoutSession opens a hosted subscription checkout for the device. The
// device hash rides along as metadata and client reference so the webhook
// can attach the resulting customer back to the record.
func (s *Service) CheckoutSession(ctx context.Context, deviceHash, email string) (*SessionResult, error) {
	if deviceHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash is required")
	}

	res, err := s.resolver.Resolve(ctx, deviceHash, "")
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(deviceHash),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.priceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"device_hash": deviceHash},
		},
	}
	params.AddMetadata("device_hash", deviceHash)

	if res.Record != nil && res.Record.StripeCustomerID != "" {
		params.Customer = stripe.String(res.Record.StripeCustomerID)
	} else {
		if email == "" && res.Record != nil {
			email = res.Record.Email
		}
		if email != "" {
			params.CustomerEmail = stripe.String(email)
		}
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStripe, err, "creating checkout session")
	}
	return &SessionResult{URL: session.URL}, nil
}

// PortalSession opens the hosted billing portal for a device that already
// has a Stripe customer.
func (s *Service) PortalSession(ctx context.Context, deviceHash string) (*SessionResult, error) {
	if deviceHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash is required")
	}

	res, err := s.resolver.Resolve(ctx, deviceHash, "")
	if err != nil {
		return nil, err
	}
	if res.Record == nil || res.Record.StripeCustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSubscriptionRequired, "no billing account exists for this device")
	}

	session, err := s.stripe.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(res.Record.StripeCustomerID),
		ReturnURL: stripe.String(s.portalReturnURL),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStripe, err, "creating portal session")
	}
	return &SessionResult{URL: session.URL}, nil
}

// Subscription returns the stored snapshot with the entitlement evaluated
// at call time.
func (s *Service) Subscription(ctx context.Context, deviceHash, legacyUserID string) (*SubscriptionSnapshot, error) {
	if deviceHash == "" && legacyUserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash or user_id is required")
	}

	res, err := s.resolver.Resolve(ctx, deviceHash, legacyUserID)
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		return &SubscriptionSnapshot{}, nil
	}

	record := res.Record
	return &SubscriptionSnapshot{
		Status:            record.Status,
		CurrentPeriodEnd:  record.CurrentPeriodEnd,
		CancelAtPeriodEnd: record.CancelAtPeriodEnd,
		PlanPriceID:       record.PlanPriceID,
		Entitled:          entitlement.IsEntitled(record.Status, record.CurrentPeriodEnd, s.clock()),
	}, nil
}
