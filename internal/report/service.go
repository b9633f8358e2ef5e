package report

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/common/validation"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
	"github.com/frahmantamala/transport-fees/internal/core/events"
)

var unpaid = []string{string(feerecord.StatusPending), string(feerecord.StatusFailed)}

type Config struct {
	DirectoryTimeout  time.Duration
	LookupConcurrency int
}

type Service struct {
	repo      RepositoryAPI
	lookup    AssignmentLookup
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger
}

func NewService(repo RepositoryAPI, lookup AssignmentLookup, publisher events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = 3 * time.Second
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 8
	}
	return &Service{repo: repo, lookup: lookup, publisher: publisher, cfg: cfg, logger: logger}
}

func authorize(caller internal.Caller, period string) error {
	if !caller.IsAdmin() {
		return internal.ErrForbidden
	}
	if appErr := validation.ValidatePeriod(period); appErr != nil {
		return appErr
	}
	return nil
}

func (s *Service) Summary(ctx context.Context, caller internal.Caller, period string) (*Summary, error) {
	if err := authorize(caller, period); err != nil {
		return nil, err
	}

	summary, err := s.repo.Summary(ctx, period)
	if err != nil {
		s.logger.Error("failed to build summary", "period", period, "error", err)
		return nil, internal.NewInternalError("failed to build summary", err)
	}
	waived, err := s.repo.FinesWaived(ctx, period)
	if err != nil {
		s.logger.Error("failed to total waived fines", "period", period, "error", err)
		return nil, internal.NewInternalError("failed to build summary", err)
	}
	summary.FinesWaived = waived
	return summary, nil
}

func (s *Service) Outstanding(ctx context.Context, caller internal.Caller, period string) ([]Row, error) {
	if err := authorize(caller, period); err != nil {
		return nil, err
	}

	rows, err := s.repo.Rows(ctx, period, unpaid...)
	if err != nil {
		s.logger.Error("failed to list outstanding records", "period", period, "error", err)
		return nil, internal.NewInternalError("failed to list outstanding records", err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Breakdown groups the period by route and bus. Directory lookups run
// concurrently under one deadline; a failed lookup degrades the result to
// partial instead of failing it.
func (s *Service) Breakdown(ctx context.Context, caller internal.Caller, period string) (*Breakdown, error) {
	if err := authorize(caller, period); err != nil {
		return nil, err
	}

	rows, err := s.repo.Rows(ctx, period)
	if err != nil {
		s.logger.Error("failed to load records for breakdown", "period", period, "error", err)
		return nil, internal.NewInternalError("failed to build breakdown", err)
	}

	refs := make(map[string]struct{})
	for _, row := range rows {
		refs[row.StudentRef] = struct{}{}
	}

	lookupCtx, cancel := internal.WithTimeout(ctx, s.cfg.DirectoryTimeout)
	defer cancel()

	var (
		mu          sync.Mutex
		assignments = make(map[string]student.Assignment, len(refs))
		failures    []LookupError
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.LookupConcurrency)
	for ref := range refs {
		g.Go(func() error {
			a, err := s.lookup.RouteAssignment(lookupCtx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, LookupError{StudentRef: ref, Error: err.Error()})
				return nil
			}
			assignments[ref] = a
			return nil
		})
	}
	_ = g.Wait()

	routes := newGrouping()
	buses := newGrouping()
	for _, row := range rows {
		a, ok := assignments[row.StudentRef]
		if !ok {
			a = student.Student{Ref: row.StudentRef}.Assignment()
		}
		routes.add(a.RouteID, a.RouteName, row)
		buses.add(a.BusID, a.BusLabel, row)
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].StudentRef < failures[j].StudentRef })
	if len(failures) > 0 {
		s.logger.Warn("breakdown is partial", "period", period, "failed_lookups", len(failures))
	}

	return &Breakdown{
		Period:  period,
		Routes:  routes.sorted(),
		Buses:   buses.sorted(),
		Partial: len(failures) > 0,
		Errors:  failures,
	}, nil
}

type grouping map[string]*Group

func newGrouping() grouping {
	return make(grouping)
}

func (g grouping) add(id, label string, row Row) {
	grp, ok := g[id]
	if !ok {
		grp = &Group{ID: id, Label: label, CapturedTotal: decimal.Zero, OutstandingTotal: decimal.Zero}
		g[id] = grp
	}
	switch feerecord.Status(row.Status) {
	case feerecord.StatusCaptured:
		grp.CapturedTotal = grp.CapturedTotal.Add(row.TotalAmount)
		grp.CapturedCount++
	case feerecord.StatusPending, feerecord.StatusFailed:
		grp.OutstandingTotal = grp.OutstandingTotal.Add(row.TotalAmount)
		grp.OutstandingCount++
	}
}

func (g grouping) sorted() []Group {
	out := make([]Group, 0, len(g))
	for _, grp := range g {
		out = append(out, *grp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var csvHeader = []string{
	"record_id", "student_ref", "billing_period", "status",
	"base_amount", "fine_amount", "total_amount", "currency",
	"due_date", "payment_method", "receipt_number", "paid_at",
}

// CollectionCSV writes every record of the period as CSV.
func (s *Service) CollectionCSV(ctx context.Context, caller internal.Caller, period string, w io.Writer) error {
	if err := authorize(caller, period); err != nil {
		return err
	}

	rows, err := s.repo.Rows(ctx, period)
	if err != nil {
		s.logger.Error("failed to load records for export", "period", period, "error", err)
		return internal.NewInternalError("failed to export collection report", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return internal.NewInternalError("failed to write collection report", err)
	}
	for _, row := range rows {
		paidAt := ""
		if row.PaidAt != nil {
			paidAt = row.PaidAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			row.RecordID,
			row.StudentRef,
			row.BillingPeriod,
			row.Status,
			row.BaseAmount.StringFixed(2),
			row.FineAmount.StringFixed(2),
			row.TotalAmount.StringFixed(2),
			row.Currency,
			row.DueDate.UTC().Format(time.DateOnly),
			deref(row.PaymentMethod),
			deref(row.ReceiptNumber),
			paidAt,
		}
		if err := cw.Write(record); err != nil {
			return internal.NewInternalError("failed to write collection report", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return internal.NewInternalError("failed to write collection report", err)
	}
	return nil
}

// SendReminders publishes a reminder for every unpaid record of the period
// and returns how many were sent.
func (s *Service) SendReminders(ctx context.Context, caller internal.Caller, period string) (int, error) {
	if err := authorize(caller, period); err != nil {
		return 0, err
	}

	rows, err := s.repo.Rows(ctx, period, unpaid...)
	if err != nil {
		s.logger.Error("failed to list records for reminders", "period", period, "error", err)
		return 0, internal.NewInternalError("failed to send reminders", err)
	}

	sent := 0
	for _, row := range rows {
		rec := &feerecord.FeeRecord{
			ID:            row.RecordID,
			StudentRef:    row.StudentRef,
			BillingPeriod: row.BillingPeriod,
			BaseAmount:    row.BaseAmount,
			FineAmount:    row.FineAmount,
			TotalAmount:   row.TotalAmount,
			Currency:      row.Currency,
			DueDate:       row.DueDate,
			Status:        feerecord.Status(row.Status),
		}
		if err := s.publisher.Publish(ctx, events.NewFeeReminderEvent(rec)); err != nil {
			s.logger.Warn("reminder not published", "record_id", row.RecordID, "error", err)
			continue
		}
		sent++
	}

	s.logger.Info("reminders sent", "period", period, "sent", sent, "candidates", len(rows))
	return sent, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
