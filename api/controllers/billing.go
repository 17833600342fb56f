package controllers

import (
	"net/http"

	"github.com/pulsarhq/licensing-backend/api/responses"
	"github.com/pulsarhq/licensing-backend/api/validators"
	"github.com/pulsarhq/licensing-backend/internal/billing"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
)

type checkoutRequest struct {
	DeviceHash string `json:"device_hash" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
}

type portalRequest struct {
	DeviceHash string `json:"device_hash" validate:"required"`
}

// CreateCheckoutSession returns a Stripe Checkout URL bound to the device.
func CreateCheckoutSession(svc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service not configured"))
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.CheckoutSession(ctx, req.DeviceHash, req.Email)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CreatePortalSession returns a billing portal URL for a subscribed device.
func CreatePortalSession(svc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service not configured"))
			return
		}

		var req portalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.PortalSession(ctx, req.DeviceHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetSubscription returns the stored subscription snapshot for a device.
func GetSubscription(svc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service not configured"))
			return
		}

		deviceHash := r.URL.Query().Get("device_hash")
		userID := r.URL.Query().Get("user_id")
		if deviceHash == "" && userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash or user_id is required"))
			return
		}

		snapshot, err := svc.Subscription(ctx, deviceHash, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}
