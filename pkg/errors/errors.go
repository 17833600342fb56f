package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidRequest         Code = "invalid_request"
	CodeDeviceNotFound         Code = "device_not_found"
	CodeUserNotFound           Code = "user_not_found"
	CodeDeviceConflict         Code = "device_conflict"
	CodeStaleEpoch             Code = "stale_epoch"
	CodeTransferAlreadyPending Code = "transfer_already_pending"
	CodeTransferNotPending     Code = "transfer_not_pending"
	CodeTransferTokenInvalid   Code = "transfer_token_invalid"
	CodeTransferTokenExpired   Code = "transfer_token_expired"
	CodeNotEntitled            Code = "not_entitled"
	CodeSubscriptionRequired   Code = "subscription_required"
	CodeTrialExhausted         Code = "trial_exhausted"
	CodeTokenExpired           Code = "token_expired"
	CodeTokenRevoked           Code = "token_revoked"
	CodeInvalidToken           Code = "invalid_token"
	CodeUnknownKey             Code = "unknown_key"
	CodeSigningUnavailable     Code = "signing_unavailable"
	CodeKVUnavailable          Code = "kv_unavailable"
	CodeInternal               Code = "internal_error"
	CodeStripe                 Code = "stripe_error"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeInvalidRequest: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "invalid request",
		DetailsAllowed: true,
	},
	CodeDeviceNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "device not found",
		DetailsAllowed: false,
	},
	CodeUserNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "user not found",
		DetailsAllowed: false,
	},
	CodeDeviceConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "device state conflict",
		DetailsAllowed: false,
	},
	CodeStaleEpoch: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "license epoch is stale",
		DetailsAllowed: false,
	},
	CodeTransferAlreadyPending: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "a transfer is already pending",
		DetailsAllowed: false,
	},
	CodeTransferNotPending: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "no transfer is pending",
		DetailsAllowed: false,
	},
	CodeTransferTokenInvalid: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "transfer token is invalid",
		DetailsAllowed: false,
	},
	CodeTransferTokenExpired: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "transfer token has expired",
		DetailsAllowed: false,
	},
	CodeNotEntitled: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "device is not entitled",
		DetailsAllowed: false,
	},
	CodeSubscriptionRequired: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "a paid subscription is required",
		DetailsAllowed: false,
	},
	CodeTrialExhausted: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "trial is exhausted",
		DetailsAllowed: false,
	},
	CodeTokenExpired: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "token has expired",
		DetailsAllowed: false,
	},
	CodeTokenRevoked: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "token has been revoked",
		DetailsAllowed: false,
	},
	CodeInvalidToken: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "token is invalid",
		DetailsAllowed: false,
	},
	CodeUnknownKey: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "token signed by an unknown key",
		DetailsAllowed: false,
	},
	CodeSigningUnavailable: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "signing unavailable",
		DetailsAllowed: false,
	},
	CodeKVUnavailable: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "storage unavailable",
		DetailsAllowed: false,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
	CodeStripe: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "payment provider error",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
