package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/transport-fees/internal/billing"
	"github.com/frahmantamala/transport-fees/internal/metrics"
	"github.com/frahmantamala/transport-fees/internal/payment"
	"github.com/frahmantamala/transport-fees/internal/report"
	"github.com/frahmantamala/transport-fees/internal/transport"
	"github.com/frahmantamala/transport-fees/internal/transport/middleware"
	"github.com/frahmantamala/transport-fees/internal/transport/swagger"
	"github.com/frahmantamala/transport-fees/internal/waiver"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Payment       *payment.Handler
	Waiver        *waiver.Handler
	Billing       *billing.Handler
	Report        *report.Handler
	Authenticator middleware.Authenticator
	// OpenAPI validates /api/v1 requests when set.
	OpenAPI     func(http.Handler) http.Handler
	OpenAPISpec []byte
	CORSOrigins []string
	Metrics     bool
}

func RegisterAllRoutes(router *chi.Mux, db *sqlx.DB, h Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)
	base := transport.NewBaseHandler(logger)

	router.Use(middleware.CORS(h.CORSOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	if h.Metrics {
		router.Use(middleware.Metrics)
		router.Handle("/metrics", metrics.Handler())
	}

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(h.OpenAPISpec)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Group(func(api chi.Router) {
			api.Use(middleware.LoggingMiddleware(logger))
			if h.OpenAPI != nil {
				api.Use(h.OpenAPI)
			}

			// The gateway signature is the credential on these two.
			api.Post("/payments/confirm", h.Payment.ConfirmPayment)
			api.Post("/payments/webhook", h.Payment.HandleWebhook)

			api.Group(func(pr chi.Router) {
				pr.Use(middleware.Authenticate(h.Authenticator, base))

				pr.Route("/fees", func(fr chi.Router) {
					fr.Get("/", h.Payment.ListFees)
					fr.Get("/{id}", h.Payment.GetFee)
					fr.Post("/{id}/orders", h.Payment.InitiateOrder)
					fr.Get("/{id}/waivers", h.Waiver.ListForRecord)
					fr.Post("/{id}/waivers", h.Waiver.Submit)

					fr.Group(func(ar chi.Router) {
						ar.Use(middleware.RequireAdmin(base))
						ar.Post("/generate", h.Billing.Generate)
						ar.Post("/{id}/manual-payment", h.Payment.ManualPayment)
						ar.Delete("/{id}", h.Payment.DeleteFee)
					})
				})

				pr.Group(func(ar chi.Router) {
					ar.Use(middleware.RequireAdmin(base))

					ar.Get("/waivers", h.Waiver.ListPending)
					ar.Patch("/waivers/{id}/approve", h.Waiver.Approve)
					ar.Patch("/waivers/{id}/reject", h.Waiver.Reject)

					ar.Route("/reports", func(rr chi.Router) {
						rr.Get("/summary", h.Report.Summary)
						rr.Get("/outstanding", h.Report.Outstanding)
						rr.Get("/breakdown", h.Report.Breakdown)
						rr.Get("/collection.csv", h.Report.CollectionCSV)
					})
					ar.Post("/reminders", h.Report.SendReminders)
				})
			})
		})
	})
}
