package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/pulsarhq/licensing-backend/api/responses"
	stripewebhook "github.com/pulsarhq/licensing-backend/internal/webhooks/stripe"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
	"github.com/pulsarhq/licensing-backend/pkg/metrics"
)

const maxWebhookBody = 1 << 20

// EventHandler applies a verified Stripe event to the record store.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// SigningSecretProvider exposes the webhook signing secret.
type SigningSecretProvider interface {
	SigningSecret() string
}

// StripeWebhook verifies the provider signature before any parsing, then
// dispatches the event exactly once per delivery.
func StripeWebhook(svc EventHandler, guard *stripewebhook.IdempotencyGuard, client SigningSecretProvider, m *metrics.LicenseMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "failed to read webhook body"))
			return
		}

		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidRequest, "missing stripe signature"))
			return
		}

		event, err := webhook.ConstructEvent(payload, signature, client.SigningSecret())
		if err != nil {
			m.IncWebhook("unknown", "signature_rejected")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidRequest, err, "webhook signature verification failed"))
			return
		}

		eventType := string(event.Type)
		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}

		if guard != nil {
			seen, err := guard.CheckAndMark(ctx, event.ID)
			if err != nil {
				m.IncWebhook(eventType, "guard_error")
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if seen {
				m.IncWebhook(eventType, "duplicate")
				responses.WriteSuccess(w, map[string]bool{"received": true})
				return
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			// Release the marker so the provider's retry is not swallowed.
			if guard != nil {
				if delErr := guard.Delete(ctx, event.ID); delErr != nil && logg != nil {
					logg.Warn(ctx, "webhook.idempotency_release_failed")
				}
			}
			m.IncWebhook(eventType, "error")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.IncWebhook(eventType, "processed")
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
