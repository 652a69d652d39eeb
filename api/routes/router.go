package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/reviewflow-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/reviewflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/reviewflow-backend/api/middleware"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
)

// IntegrationService is everything the API needs from the integration
// registry.
type IntegrationService interface {
	controllers.IntegrationService
	controllers.AuthorizationCompleter
	controllers.LocationSyncer
}

// Services bundles the collaborators behind the HTTP surface.
type Services struct {
	Health       map[string]controllers.Pinger
	Idempotency  redis.IdempotencyStore
	Metrics      prometheus.Gatherer
	Integrations IntegrationService
	Locations    controllers.LocationService
	Ledger       controllers.TransactionLister
	TestSend     controllers.TestSendService
	Gateway      webhookcontrollers.Gateway
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, svc.Health, logg))
	})
	if svc.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/oauth/{provider}/callback", controllers.OAuthCallback(svc.Integrations, cfg.Providers.DashboardURL, logg))

	r.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Post("/", webhookcontrollers.ProviderWebhook(svc.Gateway, logg))
		r.Post("/{token}", webhookcontrollers.ProviderWebhook(svc.Gateway, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(svc.Idempotency, logg))

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", controllers.ListIntegrations(svc.Integrations, logg))
			r.Route("/{provider}", func(r chi.Router) {
				r.Delete("/", controllers.DisconnectIntegration(svc.Integrations, logg))
				r.Get("/authorize", controllers.AuthorizeIntegration(svc.Integrations, logg))
				r.Post("/keys", controllers.ConnectIntegrationKeys(svc.Integrations, logg))
				r.Post("/keys/regenerate", controllers.RegenerateIntegrationKey(svc.Integrations, logg))
				r.Post("/consent", controllers.ConfirmIntegrationConsent(svc.Integrations, logg))
				r.Put("/test-mode", controllers.SetIntegrationTestMode(svc.Integrations, logg))
				r.Route("/locations", func(r chi.Router) {
					r.Get("/", controllers.ListLocations(svc.Locations, logg))
					r.Post("/sync", controllers.SyncLocations(svc.Integrations, logg))
					r.Put("/enabled", controllers.SetEnabledLocations(svc.Locations, logg))
				})
			})
		})

		r.Get("/transactions", controllers.ListTransactions(svc.Ledger, logg))

		r.Get("/test-send", controllers.TestSendStatus(svc.TestSend, logg))
		r.Post("/test-send", controllers.TestSend(svc.TestSend, logg))
	})

	return r
}
