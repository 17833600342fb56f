package controllers

import (
	"net/http"

	"github.com/pulsarhq/licensing-backend/api/responses"
	"github.com/pulsarhq/licensing-backend/api/validators"
	"github.com/pulsarhq/licensing-backend/internal/license"
	"github.com/pulsarhq/licensing-backend/internal/transfer"
	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
)

type transferCompleteRequest struct {
	DeviceHash    string `json:"device_hash" validate:"required_without=UserID"`
	UserID        string `json:"user_id" validate:"required_without=DeviceHash"`
	Token         string `json:"token" validate:"required"`
	NewDeviceHash string `json:"new_device_hash" validate:"required"`
}

type transferCancelRequest struct {
	DeviceHash string `json:"device_hash" validate:"required"`
}

// InitiateTransfer starts a device-to-device move for the device named in
// the caller's license token and emails the magic link.
func InitiateTransfer(svc *transfer.Service, licenses *license.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || licenses == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service not configured"))
			return
		}

		token, err := validators.BearerToken(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		validation, err := licenses.Validate(ctx, token)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		deviceHash := validation.License.DeviceHash
		if deviceHash == "" {
			deviceHash = validation.License.Subject
		}
		if logg != nil {
			ctx = logg.WithDeviceHash(ctx, deviceHash)
		}

		result, err := svc.Initiate(ctx, deviceHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// TransferAcceptPage renders the landing page that hands the token to the
// desktop app through a deep link.
func TransferAcceptPage(svc *transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service not configured"))
			return
		}

		deviceHash := r.URL.Query().Get("device_hash")
		token := r.URL.Query().Get("token")
		if deviceHash == "" || token == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash and token are required"))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := svc.AcceptPage(w, deviceHash, token); err != nil && logg != nil {
			logg.Error(ctx, "transfer.accept_page", err)
		}
	}
}

// CompleteTransfer re-binds the license to the new device.
func CompleteTransfer(svc *transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service not configured"))
			return
		}

		var req transferCompleteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Complete(ctx, req.DeviceHash, req.UserID, req.Token, req.NewDeviceHash)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CancelTransfer abandons a pending transfer.
func CancelTransfer(svc *transfer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transfer service not configured"))
			return
		}

		var req transferCancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Cancel(ctx, req.DeviceHash); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"cancelled": true})
	}
}
