package controllers

import (
	"net/http"

	"github.com/pulsarhq/licensing-backend/api/responses"
	"github.com/pulsarhq/licensing-backend/api/validators"
	"github.com/pulsarhq/licensing-backend/internal/license"
	"github.com/pulsarhq/licensing-backend/internal/signing"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
	"github.com/pulsarhq/licensing-backend/pkg/metrics"
)

type issueLicenseRequest struct {
	DeviceHash string `json:"device_hash" validate:"required_without=UserID"`
	UserID     string `json:"user_id" validate:"required_without=DeviceHash"`
}

// IssueLicense mints a short-lived license token for an entitled device.
func IssueLicense(svc *license.Service, m *metrics.LicenseMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license service not configured"))
			return
		}

		var req issueLicenseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Issue(ctx, req.DeviceHash, req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.IncIssued()
		responses.WriteSuccess(w, result)
	}
}

// ValidateLicense verifies a bearer token and rechecks the device record
// behind it.
func ValidateLicense(svc *license.Service, m *metrics.LicenseMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license service not configured"))
			return
		}

		token, err := validators.BearerToken(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Validate(ctx, token)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil {
				m.IncValidation(string(typed.Code()))
			} else {
				m.IncValidation("error")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.IncValidation("valid")
		responses.WriteSuccess(w, result)
	}
}

// PublicKeys serves the JWKS document for every configured kid.
func PublicKeys(keys *signing.KeyStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if keys == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeSigningUnavailable, "signing keys not configured"))
			return
		}
		responses.WriteSuccess(w, keys.JWKS())
	}
}

// RevokeLicense blacklists the presented token for its remaining lifetime.
func RevokeLicense(svc *license.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license service not configured"))
			return
		}

		token, err := validators.BearerToken(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.RevokeToken(ctx, token); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"revoked": true})
	}
}
