package controllers

import (
	"net/http"

	"github.com/pulsarhq/licensing-backend/api/responses"
	"github.com/pulsarhq/licensing-backend/api/validators"
	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
)

type trialRequest struct {
	DeviceHash string `json:"device_hash" validate:"required"`
}

type trialConsumeRequest struct {
	DeviceHash string `json:"device_hash" validate:"required"`
	Token      string `json:"token" validate:"required"`
}

// StartTrial creates the trial allowance for a device if none exists.
func StartTrial(svc *entitlement.TrialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trial service not configured"))
			return
		}

		var req trialRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		state, err := svc.Start(ctx, req.DeviceHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}

// ClaimTrial reserves one trial run and returns the claim token to redeem.
func ClaimTrial(svc *entitlement.TrialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trial service not configured"))
			return
		}

		var req trialRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		token, state, err := svc.Claim(ctx, req.DeviceHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"token": token,
			"trial": state,
		})
	}
}

// ConsumeTrial redeems a claim token and burns one trial run.
func ConsumeTrial(svc *entitlement.TrialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trial service not configured"))
			return
		}

		var req trialConsumeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		state, err := svc.Consume(ctx, req.DeviceHash, req.Token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}
