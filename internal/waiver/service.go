package waiver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/transport-fees/internal"
	auditmodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/audit"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	"github.com/frahmantamala/transport-fees/internal/metrics"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type Service struct {
	ledger    *ledger.Store
	repo      RepositoryAPI
	publisher events.Publisher
	auditor   Auditor
	policy    ApprovalPolicy
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(store *ledger.Store, repo RepositoryAPI, publisher events.Publisher, auditor Auditor, policy ApprovalPolicy, logger *slog.Logger) *Service {
	if policy == "" {
		policy = PolicyRetainBase
	}
	return &Service{
		ledger:    store,
		repo:      repo,
		publisher: publisher,
		auditor:   auditor,
		policy:    policy,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// WithClock replaces the service clock. Used by tests and batch jobs that
// resolve on a fixed date.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

var _ ServiceAPI = (*Service)(nil)

func (s *Service) publish(ctx context.Context, eventType string, req *waiver.Request, rec *feerecord.FeeRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewWaiverEvent(eventType, req, rec)); err != nil {
		s.logger.Warn("failed to publish waiver event", "event_type", eventType, "waiver_id", req.ID, "error", err)
	}
}

// Submit files a waiver request for the fine on an unpaid record. Only one
// request per record may be open at a time.
func (s *Service) Submit(ctx context.Context, caller internal.Caller, recordID string, in SubmitRequest) (*waiver.Request, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var created *waiver.Request
	rec, err := s.ledger.Mutate(ctx, recordID, func(txCtx context.Context, r *feerecord.FeeRecord) error {
		if !caller.CanAccessStudent(r.StudentRef) {
			return internal.ErrForbidden
		}
		switch r.Status {
		case feerecord.StatusCaptured:
			return internal.ErrRecordAlreadyCaptured
		case feerecord.StatusWaived:
			return internal.ErrInvalidStatusTransition
		}
		if r.FineWaivedAt != nil || !r.FineAmount.IsPositive() {
			return internal.ErrNoFineToWaive
		}

		pending, err := s.repo.HasPending(txCtx, r.ID)
		if err != nil {
			return err
		}
		if pending {
			return internal.ErrWaiverAlreadyPending
		}

		created = &waiver.Request{
			ID:            uuid.NewString(),
			FeeRecordID:   r.ID,
			RequestedBy:   caller.UserID,
			Reason:        in.Reason,
			FineAtRequest: r.FineAmount,
			Status:        waiver.StatusPending,
		}
		if err := s.repo.Create(txCtx, created); err != nil {
			return err
		}
		return ledger.ErrUnchanged
	})
	if err != nil {
		s.logger.Warn("waiver submission refused", "record_id", recordID, "user_id", caller.UserID, "error", err)
		return nil, err
	}

	s.logger.Info("waiver requested",
		"waiver_id", created.ID,
		"record_id", rec.ID,
		"student_ref", rec.StudentRef,
		"fine_amount", created.FineAtRequest.String())
	s.publish(ctx, events.EventTypeWaiverSubmitted, created, rec)
	return created, nil
}

// Approve zeroes the fine on the request's record. Under PolicyForgive the
// record is also excused.
func (s *Service) Approve(ctx context.Context, caller internal.Caller, requestID string, in ResolveRequest) (*Decision, error) {
	return s.resolve(ctx, caller, requestID, in, waiver.StatusApproved)
}

// Reject closes the request and leaves the record untouched.
func (s *Service) Reject(ctx context.Context, caller internal.Caller, requestID string, in ResolveRequest) (*Decision, error) {
	return s.resolve(ctx, caller, requestID, in, waiver.StatusRejected)
}

func (s *Service) resolve(ctx context.Context, caller internal.Caller, requestID string, in ResolveRequest, decision waiver.Status) (*Decision, error) {
	if !caller.IsAdmin() {
		return nil, internal.ErrForbidden
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	found, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var resolved *waiver.Request
	rec, err := s.ledger.Mutate(ctx, found.FeeRecordID, func(txCtx context.Context, r *feerecord.FeeRecord) error {
		req, err := s.repo.GetByID(txCtx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsResolved() {
			return internal.ErrRequestAlreadyResolved
		}
		if decision == waiver.StatusApproved && r.Status == feerecord.StatusCaptured {
			return internal.ErrRecordAlreadyCaptured
		}

		req.Resolve(decision, caller.UserID, in.Note, now)
		if err := s.repo.Resolve(txCtx, req); err != nil {
			return err
		}
		resolved = req

		action := auditmodel.ActionWaiverRejected
		if decision == waiver.StatusApproved {
			action = auditmodel.ActionWaiverApproved
			s.applyApproval(r, now)
		}
		if s.auditor != nil {
			if err := s.auditor.Record(txCtx, action, caller.UserID, &r.ID, map[string]interface{}{
				"waiver_id":       req.ID,
				"fine_at_request": req.FineAtRequest.String(),
				"note":            in.Note,
				"policy":          string(s.policy),
				"record_status":   string(r.Status),
			}); err != nil {
				return err
			}
		}

		if decision == waiver.StatusRejected {
			return ledger.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("waiver resolution refused", "waiver_id", requestID, "decision", decision, "error", err)
		return nil, err
	}

	metrics.WaiverDecisions.WithLabelValues(string(decision)).Inc()
	s.logger.Info("waiver resolved",
		"waiver_id", resolved.ID,
		"record_id", rec.ID,
		"decision", decision,
		"resolved_by", caller.UserID,
		"total_amount", rec.TotalAmount.String())

	eventType := events.EventTypeWaiverRejected
	if decision == waiver.StatusApproved {
		eventType = events.EventTypeWaiverApproved
	}
	s.publish(ctx, eventType, resolved, rec)
	return &Decision{Request: resolved, Record: rec}, nil
}

func (s *Service) applyApproval(r *feerecord.FeeRecord, now time.Time) {
	r.WaiveFine(now)
	switch s.policy {
	case PolicyForgive:
		r.Status = feerecord.StatusWaived
		r.OrderAttemptRef = nil
	default:
		if r.Status == feerecord.StatusFailed {
			r.Status = feerecord.StatusPending
		}
	}
}

func (s *Service) ListForRecord(ctx context.Context, caller internal.Caller, recordID string) ([]*waiver.Request, error) {
	rec, err := s.ledger.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessStudent(rec.StudentRef) {
		return nil, internal.ErrForbidden
	}

	requests, err := s.repo.ListForRecord(ctx, recordID)
	if err != nil {
		s.logger.Error("failed to list waivers", "record_id", recordID, "error", err)
		return nil, internal.NewInternalError("failed to list waiver requests", err)
	}
	if requests == nil {
		requests = []*waiver.Request{}
	}
	return requests, nil
}

func (s *Service) ListPending(ctx context.Context, caller internal.Caller, limit, offset int) (*PendingList, error) {
	if !caller.IsAdmin() {
		return nil, internal.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if limit > maxPendingLimit {
		limit = maxPendingLimit
	}
	if offset < 0 {
		offset = 0
	}

	requests, total, err := s.repo.ListPending(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list pending waivers", "error", err)
		return nil, internal.NewInternalError("failed to list waiver requests", err)
	}
	if requests == nil {
		requests = []*waiver.Request{}
	}
	return &PendingList{Requests: requests, Total: total, Limit: limit, Offset: offset}, nil
}
