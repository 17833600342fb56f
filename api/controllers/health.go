package controllers

import (
	"net/http"

	"github.com/pulsarhq/licensing-backend/api/responses"
	"github.com/pulsarhq/licensing-backend/internal/records"
)

// Live reports process liveness.
func Live() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// Ready reports readiness by probing the record store.
func Ready(store records.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if _, err := store.GetDevice(r.Context(), "healthcheck"); err != nil {
				responses.WriteError(r.Context(), nil, w, err)
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
