package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/transport-fees/internal"
	auditmodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/audit"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/fine"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	"github.com/frahmantamala/transport-fees/internal/metrics"
	"github.com/frahmantamala/transport-fees/internal/paymentgateway"
)

const (
	defaultGatewayMethod = "gateway"
	defaultManualMethod  = "Manual"
	sweepBatchSize       = 200
)

type Config struct {
	GatewayTimeout    time.Duration
	EnforceSequential bool
	// Now is the clock used for fine assessment and capture timestamps.
	Now func() time.Time
}

type Service struct {
	ledger        *ledger.Store
	gateway       paymentgateway.Gateway
	gatewayEvents GatewayEventRepository
	publisher     events.Publisher
	auditor       Auditor
	policy        fine.Policy
	cfg           Config
	logger        *slog.Logger
}

func NewService(
	store *ledger.Store,
	gateway paymentgateway.Gateway,
	gatewayEvents GatewayEventRepository,
	publisher events.Publisher,
	auditor Auditor,
	policy fine.Policy,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		ledger:        store,
		gateway:       gateway,
		gatewayEvents: gatewayEvents,
		publisher:     publisher,
		auditor:       auditor,
		policy:        policy,
		cfg:           cfg,
		logger:        logger,
	}
}

var _ ServiceAPI = (*Service)(nil)

// assessFine raises the record's fine to what the policy charges at now.
func (s *Service) assessFine(r *feerecord.FeeRecord, now time.Time) {
	amount := fine.Compute(r.DueDate, now, r.BaseAmount, s.policy)
	if r.AssessFine(amount, now) {
		metrics.FinesAssessed.Inc()
		s.logger.Info("fine assessed",
			"record_id", r.ID,
			"fine_amount", r.FineAmount.String(),
			"total_amount", r.TotalAmount.String())
	}
}

// receiptNumber is the human-facing payment receipt, REC-<year>-<6 hex>.
func receiptNumber(at time.Time) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("REC-%d-%s", at.Year(), token)
}

// orderReceipt identifies one order attempt at the gateway. It stays within
// the 40 character receipt limit.
func orderReceipt(recordID, attempt string) string {
	compact := strings.ReplaceAll(recordID, "-", "")
	if len(compact) > 32 {
		compact = compact[:32]
	}
	return compact + "-" + strings.ReplaceAll(attempt, "-", "")[:6]
}

// offlineReference derives a manual payment reference from up to eight
// characters of the record id.
func offlineReference(recordID string) string {
	compact := strings.ReplaceAll(recordID, "-", "")
	return "OFFLINE-" + strings.ToUpper(compact[:min(len(compact), 8)])
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func (s *Service) audit(ctx context.Context, action, actorID string, recordID string, details map[string]interface{}) error {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.Record(ctx, action, actorID, &recordID, details)
}

// InitiateOrder opens a gateway order for the record's current total. The
// record is marked with a fresh attempt token before the gateway call and
// reconciled afterwards; no lock is held while the gateway is called.
func (s *Service) InitiateOrder(ctx context.Context, caller internal.Caller, recordID string) (*OrderResult, error) {
	attempt := uuid.NewString()
	now := s.cfg.Now()

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
		if s.cfg.EnforceSequential {
			unpaid, err := s.ledger.Repo().HasUnpaidBefore(txCtx, r.StudentRef, r.BillingPeriod)
			if err != nil {
				return err
			}
			if unpaid {
				return internal.ErrEarlierPeriodUnpaid
			}
		}
		s.assessFine(r, now)
		r.BeginAttempt(attempt, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := internal.WithTimeout(ctx, s.cfg.GatewayTimeout)
	started := time.Now()
	order, err := s.gateway.OpenOrder(gwCtx, paymentgateway.OrderRequest{
		Amount:   rec.TotalAmount,
		Currency: rec.Currency,
		Receipt:  orderReceipt(rec.ID, attempt),
		Metadata: map[string]string{
			"record_id":      rec.ID,
			"student_ref":    rec.StudentRef,
			"billing_period": rec.BillingPeriod,
		},
	})
	cancel()
	metrics.ObserveGateway(s.gateway.Name(), started)

	if err != nil {
		metrics.OrdersOpened.WithLabelValues(s.gateway.Name(), "error").Inc()
		s.logger.Error("gateway order failed",
			"record_id", recordID,
			"provider", s.gateway.Name(),
			"error", err)
		s.abandonAttempt(context.WithoutCancel(ctx), recordID, attempt)
		if errors.Is(err, internal.ErrInvalidAmount) {
			return nil, err
		}
		return nil, internal.ErrGatewayUnavailable.WithCause(err)
	}

	rec, err = s.ledger.Mutate(context.WithoutCancel(ctx), recordID, func(_ context.Context, r *feerecord.FeeRecord) error {
		if !r.AttemptMatches(attempt) {
			return internal.ErrOrderSuperseded
		}
		r.GatewayOrderRef = &order.Ref
		return nil
	})
	if err != nil {
		metrics.OrdersOpened.WithLabelValues(s.gateway.Name(), "superseded").Inc()
		s.logger.Warn("discarding gateway order",
			"record_id", recordID,
			"order_ref", order.Ref,
			"error", err)
		return nil, err
	}

	metrics.OrdersOpened.WithLabelValues(s.gateway.Name(), "opened").Inc()
	s.logger.Info("gateway order opened",
		"record_id", rec.ID,
		"order_ref", order.Ref,
		"amount", rec.TotalAmount.String())

	return &OrderResult{
		RecordID:     rec.ID,
		Provider:     s.gateway.Name(),
		OrderRef:     order.Ref,
		Amount:       rec.TotalAmount,
		FineAmount:   rec.FineAmount,
		Currency:     rec.Currency,
		ClientParams: order.ClientParams,
	}, nil
}

// abandonAttempt clears the attempt token after a failed gateway call so a
// retry starts clean.
func (s *Service) abandonAttempt(ctx context.Context, recordID, attempt string) {
	_, err := s.ledger.Mutate(ctx, recordID, func(_ context.Context, r *feerecord.FeeRecord) error {
		if !r.AttemptMatches(attempt) {
			return ledger.ErrUnchanged
		}
		r.OrderAttemptRef = nil
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to clear abandoned order attempt", "record_id", recordID, "error", err)
	}
}

func (s *Service) rejectSignature(source, recordID, orderRef string) error {
	metrics.SignatureRejections.WithLabelValues(source).Inc()
	s.logger.Warn("payment signature rejected",
		"source", source,
		"record_id", recordID,
		"order_ref", orderRef,
		"provider", s.gateway.Name())
	return internal.ErrSignatureInvalid
}

// ConfirmPayment captures the record once the gateway signature checks out.
// A repeat of an already applied confirmation succeeds without changes.
func (s *Service) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*feerecord.FeeRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	captured := false
	rec, err := s.ledger.Mutate(ctx, req.RecordID, func(_ context.Context, r *feerecord.FeeRecord) error {
		switch r.Status {
		case feerecord.StatusCaptured:
			sameOrder := r.OrderMatches(req.OrderRef) && r.GatewayPaymentRef != nil && *r.GatewayPaymentRef == req.PaymentRef
			if !sameOrder {
				return internal.ErrRecordAlreadyCaptured
			}
			if !s.gateway.VerifyPayment(req.OrderRef, req.PaymentRef, req.Signature) {
				return s.rejectSignature("confirm", r.ID, req.OrderRef)
			}
			return ledger.ErrUnchanged
		case feerecord.StatusWaived:
			return internal.ErrInvalidStatusTransition
		}

		if !r.OrderMatches(req.OrderRef) {
			return internal.ErrOrderMismatch
		}
		if !s.gateway.VerifyPayment(req.OrderRef, req.PaymentRef, req.Signature) {
			return s.rejectSignature("confirm", r.ID, req.OrderRef)
		}

		method := strings.TrimSpace(req.Method)
		if method == "" {
			method = defaultGatewayMethod
		}
		r.Capture(method, req.PaymentRef, receiptNumber(now), now)
		captured = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if captured {
		s.afterCapture(ctx, rec, "gateway")
	}
	return rec, nil
}

func (s *Service) afterCapture(ctx context.Context, rec *feerecord.FeeRecord, channel string) {
	metrics.PaymentsCaptured.WithLabelValues(channel).Inc()
	s.logger.Info("fee record captured",
		"record_id", rec.ID,
		"student_ref", rec.StudentRef,
		"channel", channel,
		"total_amount", rec.TotalAmount.String(),
		"receipt_number", *rec.ReceiptNumber)
	s.publish(ctx, events.NewPaymentCapturedEvent(rec))
}

// HandleWebhook processes a provider notification. Each provider event is
// applied at most once.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if !s.gateway.VerifyWebhook(body, signature) {
		return nil, s.rejectSignature("webhook", "", "")
	}

	hook, err := s.gateway.ParseWebhook(body)
	if err != nil {
		return nil, internal.NewValidationError("invalid webhook payload", internal.ErrCodeValidationFailed).WithCause(err)
	}

	stored, err := s.gatewayEvents.Record(ctx, &gatewayevent.Event{
		Provider:  s.gateway.Name(),
		EventID:   hook.ID,
		EventType: hook.Type,
		OrderRef:  hook.OrderRef,
		Payload:   body,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to record gateway event", err)
	}
	if stored.ProcessedAt != nil {
		s.logger.Info("duplicate webhook delivery", "event_id", hook.ID, "order_ref", hook.OrderRef)
		return &WebhookResult{Status: WebhookDuplicate, EventID: hook.ID}, nil
	}

	result := &WebhookResult{Status: WebhookProcessed, EventID: hook.ID}
	switch hook.Type {
	case paymentgateway.EventPaymentCaptured:
		rec, err := s.captureByOrder(ctx, hook)
		if err != nil {
			if !errors.Is(err, internal.ErrRecordNotFound) {
				return nil, err
			}
			s.logger.Warn("webhook for unknown order", "event_id", hook.ID, "order_ref", hook.OrderRef)
			result.Status = WebhookIgnored
		} else {
			result.RecordID = rec.ID
		}
	case paymentgateway.EventPaymentFailed:
		rec, err := s.MarkFailed(ctx, hook.OrderRef, hook.Reason)
		if err != nil {
			if !errors.Is(err, internal.ErrRecordNotFound) {
				return nil, err
			}
			result.Status = WebhookIgnored
		} else {
			result.RecordID = rec.ID
		}
	default:
		s.logger.Debug("ignoring webhook event", "event_type", hook.Type, "event_id", hook.ID)
		result.Status = WebhookIgnored
	}

	if err := s.gatewayEvents.MarkProcessed(ctx, stored.ID); err != nil {
		s.logger.Warn("failed to mark gateway event processed", "event_id", hook.ID, "error", err)
	}
	return result, nil
}

func (s *Service) captureByOrder(ctx context.Context, hook *paymentgateway.WebhookEvent) (*feerecord.FeeRecord, error) {
	found, err := s.ledger.Repo().GetByOrderRef(ctx, hook.OrderRef)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	captured := false
	rec, err := s.ledger.Mutate(ctx, found.ID, func(_ context.Context, r *feerecord.FeeRecord) error {
		if r.Status == feerecord.StatusCaptured {
			return ledger.ErrUnchanged
		}
		if r.Status == feerecord.StatusWaived {
			s.logger.Warn("payment captured for waived record", "record_id", r.ID, "order_ref", hook.OrderRef)
			return ledger.ErrUnchanged
		}
		if !r.OrderMatches(hook.OrderRef) {
			return internal.ErrOrderMismatch
		}
		method := hook.Method
		if method == "" {
			method = defaultGatewayMethod
		}
		r.Capture(method, hook.PaymentRef, receiptNumber(now), now)
		captured = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if captured {
		s.afterCapture(ctx, rec, "webhook")
	}
	return rec, nil
}

// MarkFailed records a failed payment for the record's current order.
// Notifications for stale orders or settled records are ignored.
func (s *Service) MarkFailed(ctx context.Context, orderRef, reason string) (*feerecord.FeeRecord, error) {
	found, err := s.ledger.Repo().GetByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "payment failed"
	}

	failed := false
	rec, err := s.ledger.Mutate(ctx, found.ID, func(_ context.Context, r *feerecord.FeeRecord) error {
		if r.Status != feerecord.StatusPending || !r.OrderMatches(orderRef) {
			return ledger.ErrUnchanged
		}
		r.MarkFailed(reason)
		failed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failed {
		s.logger.Info("fee payment failed", "record_id", rec.ID, "order_ref", orderRef, "reason", reason)
		s.publish(ctx, events.NewPaymentFailedEvent(rec, reason))
	}
	return rec, nil
}

// MarkManualPayment captures the record without gateway verification, for
// offline collections.
func (s *Service) MarkManualPayment(ctx context.Context, caller internal.Caller, recordID string, req ManualPaymentRequest) (*feerecord.FeeRecord, error) {
	if !caller.IsAdmin() {
		return nil, internal.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	rec, err := s.ledger.Mutate(ctx, recordID, func(txCtx context.Context, r *feerecord.FeeRecord) error {
		switch r.Status {
		case feerecord.StatusCaptured:
			return internal.ErrRecordAlreadyCaptured
		case feerecord.StatusWaived:
			return internal.ErrInvalidStatusTransition
		}

		method := strings.TrimSpace(req.Method)
		if method == "" {
			method = defaultManualMethod
		}
		reference := strings.TrimSpace(req.Reference)
		if reference == "" {
			reference = offlineReference(r.ID)
		}

		s.assessFine(r, now)
		r.Capture(method, reference, receiptNumber(now), now)

		return s.audit(txCtx, auditmodel.ActionManualPayment, caller.UserID, r.ID, map[string]interface{}{
			"method":       method,
			"reference":    reference,
			"notes":        req.Notes,
			"total_amount": r.TotalAmount.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCapture(ctx, rec, "manual")
	return rec, nil
}

// DeleteRecord removes an unpaid pending record that never received a
// payment reference.
func (s *Service) DeleteRecord(ctx context.Context, caller internal.Caller, recordID string) error {
	if !caller.IsAdmin() {
		return internal.ErrForbidden
	}

	removed, err := s.ledger.Remove(ctx, recordID, func(txCtx context.Context, r *feerecord.FeeRecord) error {
		if r.Status != feerecord.StatusPending || r.GatewayPaymentRef != nil || r.PaidAt != nil {
			return internal.ErrRecordNotDeletable
		}
		return s.audit(txCtx, auditmodel.ActionRecordDeleted, caller.UserID, r.ID, map[string]interface{}{
			"student_ref":    r.StudentRef,
			"billing_period": r.BillingPeriod,
			"total_amount":   r.TotalAmount.String(),
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("fee record deleted", "record_id", removed.ID, "actor_id", caller.UserID)
	return nil
}

func (s *Service) GetRecord(ctx context.Context, caller internal.Caller, recordID string) (*feerecord.FeeRecord, error) {
	rec, err := s.ledger.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessStudent(rec.StudentRef) {
		return nil, internal.ErrForbidden
	}
	return rec, nil
}

// ListRecords lists records visible to the caller. Guardians are scoped to
// their own students.
func (s *Service) ListRecords(ctx context.Context, caller internal.Caller, q ListQuery) (*ListResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.normalize()

	filter := ledger.Filter{
		Status: feerecord.Status(q.Status),
		Period: q.Period,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	switch {
	case q.StudentRef != "":
		if !caller.CanAccessStudent(q.StudentRef) {
			return nil, internal.ErrForbidden
		}
		filter.StudentRefs = []string{q.StudentRef}
	case !caller.IsAdmin():
		filter.StudentRefs = caller.StudentRefs
		if filter.StudentRefs == nil {
			filter.StudentRefs = []string{}
		}
	}

	records, total, err := s.ledger.Repo().List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list fee records", "error", err)
		return nil, internal.NewInternalError("failed to list fee records", err)
	}
	if records == nil {
		records = []*feerecord.FeeRecord{}
	}
	return &ListResult{Records: records, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// AssessOverdue raises fines on every unpaid record past due at asOf.
func (s *Service) AssessOverdue(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	result := &SweepResult{}
	for offset := 0; ; offset += sweepBatchSize {
		batch, err := s.ledger.Repo().ListOverdue(ctx, asOf, sweepBatchSize, offset)
		if err != nil {
			return result, internal.NewInternalError("failed to list overdue records", err)
		}

		for _, candidate := range batch {
			result.Scanned++
			raised := false
			_, err := s.ledger.Mutate(ctx, candidate.ID, func(_ context.Context, r *feerecord.FeeRecord) error {
				amount := fine.Compute(r.DueDate, asOf, r.BaseAmount, s.policy)
				hadOrder := r.OrderOpen()
				if !r.AssessFine(amount, asOf) {
					return ledger.ErrUnchanged
				}
				if hadOrder {
					s.logger.Info("open order superseded by fine", "record_id", r.ID, "total_amount", r.TotalAmount.String())
				}
				raised = true
				return nil
			})
			if err != nil {
				result.Failed++
				s.logger.Warn("fine sweep skipped record", "record_id", candidate.ID, "error", err)
				continue
			}
			if raised {
				result.Raised++
				metrics.FinesAssessed.Inc()
			}
		}

		if len(batch) < sweepBatchSize {
			break
		}
	}

	s.logger.Info("fine sweep finished",
		"as_of", asOf.Format(time.DateOnly),
		"scanned", result.Scanned,
		"raised", result.Raised,
		"failed", result.Failed)
	return result, nil
}
