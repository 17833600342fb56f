package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pulsarhq/licensing-backend/api/routes"
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
	"github.com/pulsarhq/licensing-backend/pkg/redis"
	pkgstripe "github.com/pulsarhq/licensing-backend/pkg/stripe"
)

const webhookIdempotencyTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "licensing-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "licensing-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := records.NewStore(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create record store", err)
		os.Exit(1)
	}
	coordinator, err := records.NewCoordinator(store)
	if err != nil {
		logg.Error(context.Background(), "failed to create mutation coordinator", err)
		os.Exit(1)
	}
	resolver, err := records.NewResolver(store)
	if err != nil {
		logg.Error(context.Background(), "failed to create identity resolver", err)
		os.Exit(1)
	}

	keys, err := signing.NewKeyStore(cfg.Signing)
	if err != nil {
		logg.Error(context.Background(), "failed to load signing keys", err)
		os.Exit(1)
	}
	tokens, err := signing.NewService(signing.ServiceParams{
		Keys:       keys,
		Revocation: store,
		Issuer:     cfg.License.Issuer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create token service", err)
		os.Exit(1)
	}

	licenseService, err := license.NewService(license.ServiceParams{
		Resolver: resolver,
		Store:    store,
		Tokens:   tokens,
		TokenTTL: cfg.License.TokenTTL(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create license service", err)
		os.Exit(1)
	}

	trialService, err := entitlement.NewTrialService(entitlement.TrialServiceParams{
		Coordinator:      coordinator,
		DefaultAllowance: cfg.Trial.DefaultAllowance,
		ClaimTokenTTL:    cfg.Trial.ClaimTokenTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create trial service", err)
		os.Exit(1)
	}

	sender, err := mailer.NewSendgrid(cfg.Sendgrid)
	if err != nil {
		logg.Error(context.Background(), "failed to create mail sender", err)
		os.Exit(1)
	}

	transferService, err := transfer.NewService(transfer.ServiceParams{
		Coordinator:   coordinator,
		Resolver:      resolver,
		Mailer:        sender,
		TokenTTL:      cfg.Transfer.TokenTTL,
		AcceptBaseURL: cfg.Transfer.AcceptBaseURL,
		AppScheme:     cfg.Transfer.AppScheme,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transfer service", err)
		os.Exit(1)
	}

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Resolver:        resolver,
		Stripe:          billing.NewStripeClient(stripeClient),
		PriceID:         stripeClient.SubscriptionPriceID(),
		SuccessURL:      cfg.Stripe.CheckoutSuccessURL,
		CancelURL:       cfg.Stripe.CheckoutCancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Coordinator: coordinator,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting licensing api")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Store:    store,
			Keys:     keys,
			Licenses: licenseService,
			Trials:   trialService,
			Transfer: transferService,
			Billing:  billingService,
			Webhooks: webhookService,
			Guard:    webhookGuard,
			Stripe:   stripeClient,
			Metrics:  metrics.NewLicenseMetrics(registry),
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
