package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/transport-fees/api"
	"github.com/frahmantamala/transport-fees/internal/billing"
	"github.com/frahmantamala/transport-fees/internal/payment"
	"github.com/frahmantamala/transport-fees/internal/report"
	"github.com/frahmantamala/transport-fees/internal/transport/middleware"
	"github.com/frahmantamala/transport-fees/internal/transport/rest"
	"github.com/frahmantamala/transport-fees/internal/waiver"
)

const shutdownGrace = 30 * time.Second

var withSweep bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the fee engine HTTP API",
	Long:  `Serve the billing, payment, waiver and report API until SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(cmd.Context()); err != nil {
			slog.Error("Server exited", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&withSweep, "with-sweep", false, "run the overdue fine sweep inside the server process")
}

// serve runs the listener and the optional sweep loop in one errgroup. A
// signal or a listener failure cancels the group; the server then gets
// shutdownGrace to finish in-flight requests.
func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := mustLoadConfig()
	deps, err := initializeDependencies(cfg)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	router, err := setupRoutes(deps)
	if err != nil {
		return fmt.Errorf("set up routes: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server", "address", server.Addr, "payment_provider", cfg.Payment.Provider, "sweep", withSweep)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if withSweep {
		g.Go(func() error {
			runSweepLoop(ctx, deps, cfg.Worker.SweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	doc, err := middleware.LoadOpenAPI(context.Background(), api.OpenAPI)
	if err != nil {
		return nil, err
	}
	validator, err := middleware.OpenAPIValidator(doc, deps.Logger)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, deps.DB, rest.Handlers{
		Payment:       payment.NewHandler(deps.Payments, deps.Logger),
		Waiver:        waiver.NewHandler(deps.Waivers, deps.Logger),
		Billing:       billing.NewHandler(deps.Generator, deps.Logger),
		Report:        report.NewHandler(deps.Reports, deps.Logger),
		Authenticator: deps.Auth,
		OpenAPI:       validator,
		OpenAPISpec:   api.OpenAPI,
		CORSOrigins:   deps.Config.Server.Origins(),
		Metrics:       deps.Config.Observability.Metrics.Enabled,
	}, deps.Logger)
	return router, nil
}
