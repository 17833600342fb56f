package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

type issueBody struct {
	DeviceHash string `json:"device_hash" validate:"required_without=UserID"`
	UserID     string `json:"user_id" validate:"required_without=DeviceHash"`
	Email      string `json:"email" validate:"omitempty,email"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"device_hash":"device-1"}`))

	var body issueBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "device-1", body.DeviceHash)
}

func TestDecodeJSONBody_UnknownField(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"device_hash":"d1","bogus":true}`))

	var body issueBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidRequest))
}

func TestDecodeJSONBody_RequiredWithout(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{}`))

	var body issueBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidRequest))

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "device_hash")
	assert.Contains(t, details, "user_id")
}

func TestDecodeJSONBody_BadEmail(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"device_hash":"d1","email":"not-an-email"}`))

	var body issueBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidRequest))
}
