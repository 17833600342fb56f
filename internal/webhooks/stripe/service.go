package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/records"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
)

// metadataDeviceHash is the checkout metadata key carrying the device
// identity through Stripe and back.
const metadataDeviceHash = "device_hash"

type ServiceParams struct {
	Coordinator *records.Coordinator
	Logger      *logger.Logger
}

// Service maps verified Stripe events onto device records. Every write
// goes through the mutation coordinator with the event timestamp, so a
// replayed delivery recomputes the same state instead of moving anything.
type Service struct {
	coordinator *records.Coordinator
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Coordinator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mutation coordinator required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		coordinator: params.Coordinator,
		logg:        params.Logger,
	}, nil
}

// HandleEvent dispatches a signature-verified event. Events that cannot be
// matched to a device are logged and dropped: failing them would only make
// the provider retry a delivery that can never succeed.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStripe, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session, event.Created)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStripe, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, &sub, event.Created)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStripe, err, "decode subscription event")
		}
		return s.handleSubscriptionDeleted(ctx, &sub, event.Created)
	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStripe, err, "decode invoice event")
		}
		return s.handlePaymentFailed(ctx, &invoice, event.Created)
	default:
		return nil
	}
}

// handleCheckoutCompleted attaches the Stripe customer to the device that
// started the checkout and records the customer -> device mapping for
// later events that only carry a customer id.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession, eventTime int64) error {
	customerID := customerIDOf(session.Customer)
	deviceHash, err := s.resolveDeviceHash(ctx, session.Metadata, session.ClientReferenceID, customerID)
	if err != nil {
		return err
	}
	if deviceHash == "" {
		s.logg.Warn(ctx, "checkout completed for unresolvable device, dropping")
		return nil
	}

	email := ""
	if session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		email = session.CustomerEmail
	}

	_, err = s.coordinator.Mutate(ctx, deviceHash, func(records.DeviceRecord, bool, time.Time) records.Outcome {
		update := records.RecordUpdate{DeviceHash: records.Ptr(deviceHash)}
		if customerID != "" {
			update.StripeCustomerID = records.Ptr(customerID)
		}
		if email != "" {
			update.Email = records.Ptr(email)
		}
		return records.Update(update)
	}, records.WithEventTime(eventTime))
	if err != nil {
		return err
	}

	if customerID != "" {
		if err := s.coordinator.Store().PutCustomerMapping(ctx, customerID, deviceHash); err != nil {
			return err
		}
	}
	return nil
}

// syncSubscription maps the provider's subscription snapshot onto the
// record. An active or trialing result permanently forecloses the trial.
func (s *Service) syncSubscription(ctx context.Context, sub *stripe.Subscription, eventTime int64) error {
	customerID := customerIDOf(sub.Customer)
	deviceHash, err := s.resolveDeviceHash(ctx, sub.Metadata, "", customerID)
	if err != nil {
		return err
	}
	if deviceHash == "" {
		s.logg.Warn(ctx, "subscription event for unresolvable device, dropping")
		return nil
	}

	status := string(sub.Status)
	periodEnd := subscriptionPeriodEnd(sub)
	priceID := subscriptionPriceID(sub)

	_, err = s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, _ time.Time) records.Outcome {
		update := records.RecordUpdate{
			DeviceHash:        records.Ptr(deviceHash),
			Status:            records.Ptr(status),
			CancelAtPeriodEnd: records.Ptr(sub.CancelAtPeriodEnd),
			PlanPriceID:       records.Ptr(priceID),
		}
		if customerID != "" {
			update.StripeCustomerID = records.Ptr(customerID)
		}
		if periodEnd != 0 {
			update.CurrentPeriodEnd = records.Ptr(periodEnd)
		}
		if status == entitlement.StatusActive || status == entitlement.StatusTrialing {
			update.Trial = zeroedTrial(current.Trial)
		}
		return records.Update(update)
	}, records.WithEventTime(eventTime))
	return err
}

// handleSubscriptionDeleted forces a canceled state and bumps the epoch so
// every outstanding token dies with the subscription.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription, eventTime int64) error {
	customerID := customerIDOf(sub.Customer)
	deviceHash, err := s.resolveDeviceHash(ctx, sub.Metadata, "", customerID)
	if err != nil {
		return err
	}
	if deviceHash == "" {
		s.logg.Warn(ctx, "subscription deletion for unresolvable device, dropping")
		return nil
	}

	_, err = s.coordinator.Mutate(ctx, deviceHash, func(current records.DeviceRecord, _ bool, now time.Time) records.Outcome {
		nowUnix := now.Unix()
		epoch := current.Epoch + 1
		if nowUnix > epoch {
			epoch = nowUnix
		}
		return records.Update(records.RecordUpdate{
			DeviceHash:       records.Ptr(deviceHash),
			Status:           records.Ptr("canceled"),
			CurrentPeriodEnd: records.Ptr(nowUnix),
			PlanPriceID:      records.Ptr(""),
			Epoch:            records.Ptr(epoch),
		})
	}, records.WithEventTime(eventTime))
	return err
}

// handlePaymentFailed marks the subscription past due without touching the
// period end or trial; the grace window is Stripe's to manage.
func (s *Service) handlePaymentFailed(ctx context.Context, invoice *stripe.Invoice, eventTime int64) error {
	customerID := customerIDOf(invoice.Customer)
	deviceHash, err := s.resolveDeviceHash(ctx, invoice.Metadata, "", customerID)
	if err != nil {
		return err
	}
	if deviceHash == "" {
		s.logg.Warn(ctx, "payment failure for unresolvable device, dropping")
		return nil
	}

	_, err = s.coordinator.Mutate(ctx, deviceHash, func(records.DeviceRecord, bool, time.Time) records.Outcome {
		return records.Update(records.RecordUpdate{
			DeviceHash: records.Ptr(deviceHash),
			Status:     records.Ptr("past_due"),
		})
	}, records.WithEventTime(eventTime))
	return err
}

// resolveDeviceHash prefers explicit metadata, then the checkout client
// reference, then the stored customer -> device mapping.
func (s *Service) resolveDeviceHash(ctx context.Context, metadata map[string]string, clientReference, customerID string) (string, error) {
	if hash := metadata[metadataDeviceHash]; hash != "" {
		return hash, nil
	}
	if clientReference != "" {
		return clientReference, nil
	}
	if customerID == "" {
		return "", nil
	}
	return s.coordinator.Store().GetCustomerMapping(ctx, customerID)
}

func customerIDOf(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return customer.ID
}

func subscriptionPeriodEnd(sub *stripe.Subscription) int64 {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0
	}
	return sub.Items.Data[0].CurrentPeriodEnd
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	if sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

// zeroedTrial shrinks the allowance to nothing while keeping the history
// fields; the merge reducer makes the shrink stick.
func zeroedTrial(current *records.TrialState) *records.TrialState {
	trial := records.TrialState{}
	if current != nil {
		trial = *current
	}
	trial.Allowed = 0
	trial.Remaining = 0
	trial.JTI = ""
	trial.Exp = 0
	return &trial
}
