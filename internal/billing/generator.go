// Package billing issues fee records for a billing period.
package billing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/transport-fees/internal"
	auditmodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/audit"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/directory"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	"github.com/frahmantamala/transport-fees/internal/metrics"
)

const dateLayout = time.DateOnly

type Auditor interface {
	Record(ctx context.Context, action, actorID string, recordID *string, details map[string]interface{}) error
}

type Config struct {
	Currency      string
	DefaultDueDay int
	Concurrency   int
}

type GenerateRequest struct {
	Period  string `json:"period"`
	DueDate string `json:"due_date,omitempty"`
}

type Skipped struct {
	StudentRef string `json:"student_ref"`
	Reason     string `json:"reason"`
}

type GenerateResult struct {
	Period   string    `json:"period"`
	DueDate  string    `json:"due_date"`
	Created  int       `json:"created"`
	Existing int       `json:"existing"`
	Skipped  []Skipped `json:"skipped"`
}

type Generator struct {
	records   ledger.RepositoryAPI
	directory directory.Directory
	publisher events.Publisher
	auditor   Auditor
	cfg       Config
	logger    *slog.Logger
}

func NewGenerator(records ledger.RepositoryAPI, dir directory.Directory, publisher events.Publisher, auditor Auditor, cfg Config, logger *slog.Logger) *Generator {
	if cfg.DefaultDueDay <= 0 {
		cfg.DefaultDueDay = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Generator{
		records:   records,
		directory: dir,
		publisher: publisher,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger,
	}
}

// ResolveDueDate parses the period and the optional override. Without an
// override the due date is the configured day of the period's month.
func (g *Generator) ResolveDueDate(period, override string) (time.Time, error) {
	start, err := feerecord.PeriodStart(strings.TrimSpace(period))
	if err != nil {
		return time.Time{}, internal.ErrInvalidPeriod.WithDetails(map[string]string{"period": period})
	}
	if override == "" {
		return start.AddDate(0, 0, g.cfg.DefaultDueDay-1), nil
	}
	due, err := time.Parse(dateLayout, strings.TrimSpace(override))
	if err != nil {
		return time.Time{}, internal.ErrInvalidDueDate.WithDetails(map[string]string{"due_date": override})
	}
	if due.Before(start) {
		return time.Time{}, internal.ErrInvalidDueDate.WithMessage("due date cannot be before the start of the billing period")
	}
	return due, nil
}

// Generate creates one pending record per active student for the period.
// Students that already have a record are counted as existing; per-student
// failures are reported in Skipped and never abort the run.
func (g *Generator) Generate(ctx context.Context, caller internal.Caller, req GenerateRequest) (*GenerateResult, error) {
	if !caller.IsAdmin() {
		return nil, internal.ErrForbidden
	}

	period := strings.TrimSpace(req.Period)
	dueDate, err := g.ResolveDueDate(period, req.DueDate)
	if err != nil {
		return nil, err
	}

	students, err := g.directory.ActiveStudents(ctx, period)
	if err != nil {
		g.logger.Error("failed to load active students", "period", period, "error", err)
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		return nil, internal.ErrDirectoryUnavailable.WithCause(err)
	}

	result := &GenerateResult{Period: period, DueDate: dueDate.Format(dateLayout), Skipped: []Skipped{}}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, s := range students {
		eg.Go(func() error {
			created, reason := g.generateOne(egCtx, s, period, dueDate)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case reason != "":
				result.Skipped = append(result.Skipped, Skipped{StudentRef: s.Ref, Reason: reason})
				metrics.FeesGenerated.WithLabelValues("skipped").Inc()
			case created:
				result.Created++
				metrics.FeesGenerated.WithLabelValues("created").Inc()
			default:
				result.Existing++
				metrics.FeesGenerated.WithLabelValues("existing").Inc()
			}
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(result.Skipped, func(i, j int) bool {
		return result.Skipped[i].StudentRef < result.Skipped[j].StudentRef
	})

	if g.auditor != nil {
		details := map[string]interface{}{
			"period":   period,
			"due_date": result.DueDate,
			"created":  result.Created,
			"existing": result.Existing,
			"skipped":  len(result.Skipped),
		}
		if err := g.auditor.Record(ctx, auditmodel.ActionFeesGenerated, caller.UserID, nil, details); err != nil {
			g.logger.Warn("fee generation audit entry not written", "period", period, "error", err)
		}
	}

	g.logger.Info("fee generation finished",
		"period", period,
		"due_date", result.DueDate,
		"created", result.Created,
		"existing", result.Existing,
		"skipped", len(result.Skipped))
	return result, nil
}

func (g *Generator) generateOne(ctx context.Context, s student.Student, period string, dueDate time.Time) (bool, string) {
	if !s.MonthlyFee.Valid {
		g.logger.Warn("skipping student without monthly fee", "student_ref", s.Ref, "period", period)
		return false, "monthly fee not set"
	}
	if !s.MonthlyFee.Decimal.IsPositive() {
		g.logger.Warn("skipping student with non-positive monthly fee", "student_ref", s.Ref, "period", period, "monthly_fee", s.MonthlyFee.Decimal.String())
		return false, "monthly fee must be greater than zero"
	}

	r := feerecord.New(uuid.NewString(), s.Ref, period, g.cfg.Currency, s.MonthlyFee.Decimal, dueDate)
	created, err := g.records.CreateIfAbsent(ctx, r)
	if err != nil {
		g.logger.Error("failed to create fee record", "student_ref", s.Ref, "period", period, "error", err)
		return false, "store error"
	}
	if created && g.publisher != nil {
		if err := g.publisher.Publish(ctx, events.NewFeeGeneratedEvent(r)); err != nil {
			g.logger.Warn("fee generated event not published", "record_id", r.ID, "error", err)
		}
	}
	return created, ""
}
