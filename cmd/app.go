package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/audit"
	auditpg "github.com/frahmantamala/transport-fees/internal/audit/postgres"
	"github.com/frahmantamala/transport-fees/internal/auth"
	"github.com/frahmantamala/transport-fees/internal/billing"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	dirpg "github.com/frahmantamala/transport-fees/internal/directory/postgres"
	"github.com/frahmantamala/transport-fees/internal/fine"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	ledgerpg "github.com/frahmantamala/transport-fees/internal/ledger/postgres"
	"github.com/frahmantamala/transport-fees/internal/notify"
	"github.com/frahmantamala/transport-fees/internal/payment"
	paymentpg "github.com/frahmantamala/transport-fees/internal/payment/postgres"
	"github.com/frahmantamala/transport-fees/internal/paymentgateway"
	"github.com/frahmantamala/transport-fees/internal/report"
	reportpg "github.com/frahmantamala/transport-fees/internal/report/postgres"
	"github.com/frahmantamala/transport-fees/internal/waiver"
	waiverpg "github.com/frahmantamala/transport-fees/internal/waiver/postgres"
	"github.com/frahmantamala/transport-fees/pkg/logger"
)

// Dependencies is the wired engine shared by every command.
type Dependencies struct {
	Config    *internal.Config
	Gorm      *gorm.DB
	DB        *sqlx.DB
	Logger    *slog.Logger
	Bus       *events.EventBus
	Relay     *notify.Relay
	Directory *dirpg.StudentDirectory
	Ledger    *ledger.Store
	Generator *billing.Generator
	Payments  *payment.Service
	Waivers   *waiver.Service
	Reports   *report.Service
	Tokens    *auth.JWTTokenGenerator
	Auth      *auth.Service
}

func initializeDependencies(cfg *internal.Config) (*Dependencies, error) {
	lg := logger.LoggerWrapper()

	gdb, db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	policy, err := fine.PolicyFromConfig(cfg.Fine)
	if err != nil {
		return nil, fmt.Errorf("invalid fine policy: %w", err)
	}
	approval, err := waiver.ParsePolicy(cfg.Waiver.ApprovalPolicy)
	if err != nil {
		return nil, err
	}
	gateway, err := paymentgateway.New(cfg.Payment)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(lg)
	relay := notify.NewRelay(notify.Config{
		WebhookURL: cfg.Notification.WebhookURL,
		Workers:    cfg.Notification.Workers,
		QueueSize:  cfg.Notification.QueueSize,
		Timeout:    cfg.Notification.Timeout,
	}, lg)
	relay.Subscribe(bus)

	directory := dirpg.NewStudentDirectory(db)
	records := ledgerpg.NewFeeRecordRepository(gdb)
	ledgerStore := ledger.NewStore(records, store.NewTxManager(gdb), lg)
	recorder := audit.NewRecorder(auditpg.NewAuditRepository(gdb), lg)

	tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, time.Hour)
	tokens.Leeway = cfg.Security.TokenLeeway

	return &Dependencies{
		Config:    cfg,
		Gorm:      gdb,
		DB:        db,
		Logger:    lg,
		Bus:       bus,
		Relay:     relay,
		Directory: directory,
		Ledger:    ledgerStore,
		Generator: billing.NewGenerator(records, directory, bus, recorder, billing.Config{
			Currency:      cfg.Payment.Currency,
			DefaultDueDay: cfg.Billing.DefaultDueDay,
			Concurrency:   cfg.Billing.GenerationConcurrency,
		}, lg),
		Payments: payment.NewService(ledgerStore, gateway, paymentpg.NewGatewayEventRepository(gdb), bus, recorder, policy, payment.Config{
			GatewayTimeout:    cfg.Payment.GatewayTimeout,
			EnforceSequential: cfg.Payment.EnforceSequential,
		}, lg),
		Waivers: waiver.NewService(ledgerStore, waiverpg.NewWaiverRepository(gdb), bus, recorder, approval, lg),
		Reports: report.NewService(reportpg.NewReportRepository(db), directory, bus, report.Config{
			DirectoryTimeout:  cfg.Report.DirectoryTimeout,
			LookupConcurrency: cfg.Report.LookupConcurrency,
		}, lg),
		Tokens: tokens,
		Auth:   auth.NewService(tokens, directory, lg),
	}, nil
}

// Close drains in-flight event handlers and queued notifications before
// stopping the relay.
func (d *Dependencies) Close() {
	d.Bus.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Relay.Drain(ctx); err != nil {
		d.Logger.Warn("notification relay did not drain", "error", err)
	}
	d.Relay.Shutdown()
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

// initDB opens one pgx pool and shares it between gorm and sqlx.
func initDB(cfg internal.DatabaseConfig) (*gorm.DB, *sqlx.DB, error) {
	const driver = "pgx"

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: driver,
		DSN:        cfg.GetDSN(),
	}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// verify connection; close underlying *sql.DB on failure
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return gdb, sqlx.NewDb(sqlDB, driver), nil
}
