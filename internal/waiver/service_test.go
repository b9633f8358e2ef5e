package waiver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	waivermodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	ledgerpg "github.com/frahmantamala/transport-fees/internal/ledger/postgres"
	"github.com/frahmantamala/transport-fees/internal/waiver"
	waiverpg "github.com/frahmantamala/transport-fees/internal/waiver/postgres"
)

func TestWaiver(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Waiver Suite")
}

type capturingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *capturingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.EventType())
	return nil
}

type countingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *countingAuditor) Record(_ context.Context, action, _ string, _ *string, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

var _ = Describe("Waiver Service", func() {
	var (
		db        *gorm.DB
		records   *ledgerpg.FeeRecordRepository
		repo      *waiverpg.WaiverRepository
		publisher *capturingPublisher
		auditor   *countingAuditor
		ctx       context.Context

		admin    = internal.Caller{UserID: "admin-1", Role: internal.RoleAdmin}
		guardian = internal.Caller{UserID: "g-1", Role: internal.RoleGuardian, StudentRefs: []string{"stu-1"}}
		resolved = time.Date(2024, 7, 16, 8, 0, 0, 0, time.UTC)
	)

	build := func(policy waiver.ApprovalPolicy) *waiver.Service {
		lg := slog.New(slog.NewTextHandler(io.Discard, nil))
		st := ledger.NewStore(records, store.NewTxManager(db), lg)
		return waiver.NewService(st, repo, publisher, auditor, policy, lg).
			WithClock(func() time.Time { return resolved })
	}

	seed := func(id string, fineAmount int64, status feerecord.Status) {
		r := feerecord.New(id, "stu-1", "2024-07", "INR", decimal.NewFromInt(2500), time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
		r.AssessFine(decimal.NewFromInt(fineAmount), time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC))
		r.Status = status
		_, err := records.CreateIfAbsent(ctx, r)
		Expect(err).ToNot(HaveOccurred())
	}

	load := func(id string) *feerecord.FeeRecord {
		r, err := records.GetByID(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).ToNot(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&feerecord.FeeRecord{}, &waivermodel.Request{})).To(Succeed())

		records = ledgerpg.NewFeeRecordRepository(db)
		repo = waiverpg.NewWaiverRepository(db)
		publisher = &capturingPublisher{}
		auditor = &countingAuditor{}
		ctx = context.Background()
	})

	Context("with the retain_base policy", func() {
		var svc *waiver.Service

		BeforeEach(func() {
			svc = build(waiver.PolicyRetainBase)
			seed("rec-1", 250, feerecord.StatusPending)
		})

		It("zeroes the fine and keeps the base payable", func() {
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			Expect(req.Status).To(Equal(waivermodel.StatusPending))
			Expect(req.FineAtRequest.Equal(decimal.NewFromInt(250))).To(BeTrue())

			decision, err := svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{Note: "confirmed with driver"})
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Request.Status).To(Equal(waivermodel.StatusApproved))
			Expect(*decision.Request.ResolvedBy).To(Equal("admin-1"))

			r := load("rec-1")
			Expect(r.FineAmount.IsZero()).To(BeTrue())
			Expect(r.TotalAmount.Equal(decimal.NewFromInt(2500))).To(BeTrue())
			Expect(r.Status).To(Equal(feerecord.StatusPending))
			Expect(r.FineWaivedAt).ToNot(BeNil())

			Expect(publisher.types).To(Equal([]string{events.EventTypeWaiverSubmitted, events.EventTypeWaiverApproved}))
			Expect(auditor.actions).To(ConsistOf("waiver.approved"))
		})

		It("supersedes an order opened for the fined total", func() {
			order := "order_1"
			Expect(db.Model(&feerecord.FeeRecord{}).Where("id = ?", "rec-1").Update("gateway_order_ref", order).Error).To(Succeed())
			Expect(load("rec-1").OrderMatches(order)).To(BeTrue())

			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(err).ToNot(HaveOccurred())

			r := load("rec-1")
			Expect(r.TotalAmount.Equal(decimal.NewFromInt(2500))).To(BeTrue())
			Expect(r.GatewayOrderRef).To(BeNil())
			Expect(r.OrderMatches(order)).To(BeFalse())
		})

		It("keeps the open order on rejection", func() {
			Expect(db.Model(&feerecord.FeeRecord{}).Where("id = ?", "rec-1").Update("gateway_order_ref", "order_1").Error).To(Succeed())
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "forgot"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Reject(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(err).ToNot(HaveOccurred())
			Expect(load("rec-1").OrderMatches("order_1")).To(BeTrue())
		})

		It("returns a failed record to pending on approval", func() {
			Expect(db.Model(&feerecord.FeeRecord{}).Where("id = ?", "rec-1").Update("status", feerecord.StatusFailed).Error).To(Succeed())
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "card declined twice"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(err).ToNot(HaveOccurred())
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("leaves the record untouched on rejection", func() {
			before := load("rec-1")
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "forgot"})
			Expect(err).ToNot(HaveOccurred())

			decision, err := svc.Reject(ctx, admin, req.ID, waiver.ResolveRequest{Note: "no grounds"})
			Expect(err).ToNot(HaveOccurred())
			Expect(decision.Request.Status).To(Equal(waivermodel.StatusRejected))

			after := load("rec-1")
			Expect(after.Version).To(Equal(before.Version))
			Expect(after.TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
		})

		It("refuses a second resolution", func() {
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Reject(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(errors.Is(err, internal.ErrRequestAlreadyResolved)).To(BeTrue())
		})

		It("allows only one open request per record", func() {
			_, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown again"})
			Expect(errors.Is(err, internal.ErrWaiverAlreadyPending)).To(BeTrue())

			list, err := svc.ListForRecord(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(list).To(HaveLen(1))
		})

		It("refuses approval once the record is captured", func() {
			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			Expect(db.Model(&feerecord.FeeRecord{}).Where("id = ?", "rec-1").Update("status", feerecord.StatusCaptured).Error).To(Succeed())

			_, err = svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{})
			Expect(errors.Is(err, internal.ErrRecordAlreadyCaptured)).To(BeTrue())
			stored, err := repo.GetByID(ctx, req.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.Status).To(Equal(waivermodel.StatusPending))
		})

		It("checks who may submit and resolve", func() {
			stranger := internal.Caller{UserID: "g-2", Role: internal.RoleGuardian, StudentRefs: []string{"stu-2"}}
			_, err := svc.Submit(ctx, stranger, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())

			req, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "bus breakdown"})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.Approve(ctx, guardian, req.ID, waiver.ResolveRequest{})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())

			_, err = svc.ListPending(ctx, guardian, 10, 0)
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			pending, err := svc.ListPending(ctx, admin, 0, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending.Total).To(Equal(int64(1)))
			Expect(pending.Limit).To(Equal(50))
		})

		It("validates the reason", func() {
			_, err := svc.Submit(ctx, guardian, "rec-1", waiver.SubmitRequest{Reason: "  x "})
			Expect(errors.Is(err, internal.ErrInvalidReason)).To(BeTrue())
		})

		It("reports unknown requests", func() {
			_, err := svc.Approve(ctx, admin, "missing", waiver.ResolveRequest{})
			Expect(errors.Is(err, internal.ErrWaiverNotFound)).To(BeTrue())
		})
	})

	It("refuses records without a fine", func() {
		svc := build(waiver.PolicyRetainBase)
		seed("rec-0", 0, feerecord.StatusPending)
		_, err := svc.Submit(ctx, guardian, "rec-0", waiver.SubmitRequest{Reason: "bus breakdown"})
		Expect(errors.Is(err, internal.ErrNoFineToWaive)).To(BeTrue())
	})

	It("excuses the record under the forgive policy", func() {
		svc := build(waiver.PolicyForgive)
		seed("rec-1", 250, feerecord.StatusPending)
		req, err := svc.Submit(ctx, admin, "rec-1", waiver.SubmitRequest{Reason: "hardship"})
		Expect(err).ToNot(HaveOccurred())
		_, err = svc.Approve(ctx, admin, req.ID, waiver.ResolveRequest{})
		Expect(err).ToNot(HaveOccurred())

		r := load("rec-1")
		Expect(r.Status).To(Equal(feerecord.StatusWaived))
		Expect(r.TotalAmount.Equal(r.BaseAmount)).To(BeTrue())
	})

	It("parses approval policies", func() {
		p, err := waiver.ParsePolicy("")
		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(waiver.PolicyRetainBase))
		_, err = waiver.ParsePolicy("forget")
		Expect(err).To(HaveOccurred())
	})
})
