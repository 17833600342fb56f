package validators

import (
	"net/http"
	"strings"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

// BearerToken extracts the license token from the Authorization header,
// falling back to the `token` query parameter for clients that cannot set
// headers.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", pkgerrors.New(pkgerrors.CodeInvalidToken, "malformed authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeInvalidToken, "missing bearer token")
}
