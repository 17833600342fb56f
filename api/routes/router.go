package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsarhq/licensing-backend/api/controllers"
	webhookcontrollers "github.com/pulsarhq/licensing-backend/api/controllers/webhooks"
	"github.com/pulsarhq/licensing-backend/api/middleware"
	"github.com/pulsarhq/licensing-backend/internal/billing"
	"github.com/pulsarhq/licensing-backend/internal/entitlement"
	"github.com/pulsarhq/licensing-backend/internal/license"
	"github.com/pulsarhq/licensing-backend/internal/records"
	"github.com/pulsarhq/licensing-backend/internal/signing"
	"github.com/pulsarhq/licensing-backend/internal/transfer"
	stripewebhook "github.com/pulsarhq/licensing-backend/internal/webhooks/stripe"
	"github.com/pulsarhq/licensing-backend/pkg/config"
	"github.com/pulsarhq/licensing-backend/pkg/logger"
	"github.com/pulsarhq/licensing-backend/pkg/metrics"
	pkgstripe "github.com/pulsarhq/licensing-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Store    records.Store
	Keys     *signing.KeyStore
	Licenses *license.Service
	Trials   *entitlement.TrialService
	Transfer *transfer.Service
	Billing  *billing.Service
	Webhooks *stripewebhook.Service
	Guard    *stripewebhook.IdempotencyGuard
	Stripe   *pkgstripe.Client
	Metrics  *metrics.LicenseMetrics
	Gatherer prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)
	if p.Config != nil {
		r.Use(middleware.CORS(p.Config.CORS))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.Live())
		r.Get("/ready", controllers.Ready(p.Store))
	})

	r.Route("/license", func(r chi.Router) {
		r.Post("/issue", controllers.IssueLicense(p.Licenses, p.Metrics, p.Logger))
		r.Get("/validate", controllers.ValidateLicense(p.Licenses, p.Metrics, p.Logger))
		r.Get("/public-key", controllers.PublicKeys(p.Keys, p.Logger))
		r.Post("/revoke", controllers.RevokeLicense(p.Licenses, p.Logger))
	})

	r.Route("/trial", func(r chi.Router) {
		r.Post("/start", controllers.StartTrial(p.Trials, p.Logger))
		r.Post("/claim", controllers.ClaimTrial(p.Trials, p.Logger))
		r.Post("/consume", controllers.ConsumeTrial(p.Trials, p.Logger))
	})

	r.Route("/transfer", func(r chi.Router) {
		r.Post("/initiate", controllers.InitiateTransfer(p.Transfer, p.Licenses, p.Logger))
		r.Get("/accept", controllers.TransferAcceptPage(p.Transfer, p.Logger))
		r.Post("/accept", controllers.CompleteTransfer(p.Transfer, p.Logger))
		r.Post("/complete", controllers.CompleteTransfer(p.Transfer, p.Logger))
		r.Post("/cancel", controllers.CancelTransfer(p.Transfer, p.Logger))
	})

	r.Route("/billing", func(r chi.Router) {
		r.Get("/subscription", controllers.GetSubscription(p.Billing, p.Logger))
		r.Post("/checkout", controllers.CreateCheckoutSession(p.Billing, p.Logger))
		r.Post("/portal", controllers.CreatePortalSession(p.Billing, p.Logger))
		r.Post("/webhook", webhookcontrollers.StripeWebhook(p.Webhooks, p.Guard, p.Stripe, p.Metrics, p.Logger))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
