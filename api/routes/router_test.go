package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v84"

	"github.com/pulsarhq/licensing-backend/internal/billing"
	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/license"
	"github.com/pulsarhq/licensing-backend/internal/records"
	"github.com/pulsarhq/licensing-backend/internal/signing"
	"github.com/pulsarhq/licensing-backend/internal/transfer"
	stripewebhook "github.com/pulsarhq/licensing-backend/internal/webhooks/stripe"
	"github.com/pulsarhq/licensing-backend/pkg/config"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
	"github.com/pulsarhq/licensing-backend/pkg/mailer"
	"github.com/pulsarhq/licensing-backend/pkg/metrics"
)

const testSeed = "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE="

type harness struct {
	router http.Handler
	store  *records.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := records.NewMemoryStore()
	coordinator, err := records.NewCoordinator(store)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	resolver, err := records.NewResolver(store)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	keys, err := signing.NewKeyStore(config.SigningConfig{Key: testSeed, ActiveKid: "primary"})
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	tokens, err := signing.NewService(signing.ServiceParams{
		Keys:       keys,
		Revocation: store,
		Issuer:     "licensing-backend",
	})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	licenses, err := license.NewService(license.ServiceParams{
		Resolver: resolver,
		Store:    store,
		Tokens:   tokens,
		TokenTTL: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("license service: %v", err)
	}

	trials, err := entitlement.NewTrialService(entitlement.TrialServiceParams{
		Coordinator:      coordinator,
		DefaultAllowance: 3,
		ClaimTokenTTL:    15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("trial service: %v", err)
	}

	transfers, err := transfer.NewService(transfer.ServiceParams{
		Coordinator:   coordinator,
		Resolver:      resolver,
		Mailer:        nopMailer{},
		TokenTTL:      15 * time.Minute,
		AcceptBaseURL: "https://licensing.example.com",
		AppScheme:     "pulsar",
	})
	if err != nil {
		t.Fatalf("transfer service: %v", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "licensing-test",
		Level:       zerolog.Disabled,
		Output:      io.Discard,
	})

	webhooks, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Coordinator: coordinator,
		Logger:      logg,
	})
	if err != nil {
		t.Fatalf("webhook service: %v", err)
	}

	billingSvc, err := billing.NewService(billing.ServiceParams{
		Resolver:        resolver,
		Stripe:          fakeBillingClient{},
		PriceID:         "price_pro",
		SuccessURL:      "https://licensing.example.com/success",
		CancelURL:       "https://licensing.example.com/cancel",
		PortalReturnURL: "https://licensing.example.com/account",
	})
	if err != nil {
		t.Fatalf("billing service: %v", err)
	}

	registry := prometheus.NewRegistry()

	router := NewRouter(RouterParams{
		Config:   &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}},
		Logger:   logg,
		Store:    store,
		Keys:     keys,
		Licenses: licenses,
		Trials:   trials,
		Transfer: transfers,
		Billing:  billingSvc,
		Webhooks: webhooks,
		Metrics:  metrics.NewLicenseMetrics(registry),
		Gatherer: registry,
	})

	return &harness{router: router, store: store}
}

func (h *harness) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v (%s)", err, rec.Body.String())
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Error.Code
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(t, http.MethodGet, "/health/live", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/health/ready", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestTrialLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	device := map[string]string{"device_hash": "device-1"}

	rec := h.do(t, http.MethodPost, "/trial/start", device, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var started records.TrialState
	decodeData(t, rec, &started)
	if started.Remaining != 3 {
		t.Fatalf("expected 3 remaining, got %d", started.Remaining)
	}

	rec = h.do(t, http.MethodPost, "/trial/claim", device, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var claimed struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &claimed)
	if claimed.Token == "" {
		t.Fatal("expected a claim token")
	}

	rec = h.do(t, http.MethodPost, "/trial/consume", map[string]string{
		"device_hash": "device-1",
		"token":       claimed.Token,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("consume: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var consumed records.TrialState
	decodeData(t, rec, &consumed)
	if consumed.Remaining != 2 {
		t.Fatalf("expected 2 remaining after consume, got %d", consumed.Remaining)
	}

	// The claim token is single-use.
	rec = h.do(t, http.MethodPost, "/trial/consume", map[string]string{
		"device_hash": "device-1",
		"token":       claimed.Token,
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed consume: expected 401, got %d (%s)", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %s", code)
	}
}

func TestIssueAndValidateOverHTTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	if err := h.store.PutDevice(ctx, "device-1", records.DeviceRecord{
		Email:            "owner@example.com",
		StripeCustomerID: "cus_1",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		DeviceHash:       "device-1",
		Epoch:            1,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/license/issue", map[string]string{"device_hash": "device-1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var issued license.IssueResult
	decodeData(t, rec, &issued)
	if issued.Token == "" || issued.Tier != license.TierPro {
		t.Fatalf("unexpected issue result: %+v", issued)
	}

	rec = h.do(t, http.MethodGet, "/license/validate", nil, map[string]string{
		"Authorization": "Bearer " + issued.Token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var validated license.ValidationResult
	decodeData(t, rec, &validated)
	if !validated.Valid || validated.License == nil || validated.License.DeviceHash != "device-1" {
		t.Fatalf("unexpected validation result: %+v", validated)
	}

	// Query-param fallback for clients that cannot set headers.
	rec = h.do(t, http.MethodGet, "/license/validate?token="+issued.Token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate via query: expected 200, got %d", rec.Code)
	}
}

func TestValidateRejectsRevokedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(24 * time.Hour).Unix()
	if err := h.store.PutDevice(ctx, "device-1", records.DeviceRecord{
		Email:            "owner@example.com",
		Status:           "active",
		CurrentPeriodEnd: &periodEnd,
		DeviceHash:       "device-1",
		Epoch:            1,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/license/issue", map[string]string{"device_hash": "device-1"}, nil)
	var issued license.IssueResult
	decodeData(t, rec, &issued)

	rec = h.do(t, http.MethodPost, "/license/revoke", nil, map[string]string{
		"Authorization": "Bearer " + issued.Token,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/license/validate", nil, map[string]string{
		"Authorization": "Bearer " + issued.Token,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "token_revoked" {
		t.Fatalf("expected token_revoked, got %s", code)
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/license/issue", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestPublicKeyEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/license/public-key", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var jwks signing.JWKS
	decodeData(t, rec, &jwks)
	if len(jwks.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(jwks.Keys))
	}
	key := jwks.Keys[0]
	if key.Kty != "OKP" || key.Crv != "Ed25519" || key.Alg != "EdDSA" || key.Kid != "primary" || key.X == "" {
		t.Fatalf("unexpected JWK: %+v", key)
	}
}

func TestTransferAcceptPage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/transfer/accept?device_hash=device-1&token=tok", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "pulsar://accept-transfer") {
		t.Fatalf("expected deep link in page body: %s", rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/transfer/accept", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without params, got %d", rec.Code)
	}
}

func TestBillingCheckoutAndSubscription(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/billing/checkout", map[string]string{
		"device_hash": "device-1",
		"email":       "owner@example.com",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var session billing.SessionResult
	decodeData(t, rec, &session)
	if session.URL == "" {
		t.Fatal("expected a checkout url")
	}

	rec = h.do(t, http.MethodGet, "/billing/subscription?device_hash=device-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscription: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var snapshot billing.SubscriptionSnapshot
	decodeData(t, rec, &snapshot)
	if snapshot.Entitled {
		t.Fatal("unknown device must not be entitled")
	}

	rec = h.do(t, http.MethodGet, "/billing/subscription", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without identity, got %d", rec.Code)
	}
}

func TestPortalRequiresCustomer(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/billing/portal", map[string]string{"device_hash": "device-1"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "subscription_required" {
		t.Fatalf("expected subscription_required, got %s", code)
	}
}

func TestWebhookRequiresSignature(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/billing/webhook", map[string]string{"id": "evt_1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health/live", nil, nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id header")
	}

	rec = h.do(t, http.MethodGet, "/health/live", nil, map[string]string{"X-Request-Id": "req-123"})
	if got := rec.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("expected request id passthrough, got %q", got)
	}
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, mailer.Message) error {
	return nil
}

type fakeBillingClient struct{}

func (fakeBillingClient) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{URL: fmt.Sprintf("https://checkout.stripe.com/c/%s", stripe.StringValue(params.ClientReferenceID))}, nil
}

func (fakeBillingClient) CreatePortalSession(_ context.Context, _ *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/session"}, nil
}
