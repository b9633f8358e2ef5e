package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/ledger"
)

// mockRepository keeps records in memory and enforces the version check.
type mockRepository struct {
	mu        sync.Mutex
	records   map[string]feerecord.FeeRecord
	updates   int
	updateErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{records: make(map[string]feerecord.FeeRecord)}
}

func (m *mockRepository) CreateIfAbsent(_ context.Context, r *feerecord.FeeRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.StudentRef == r.StudentRef && existing.BillingPeriod == r.BillingPeriod {
			return false, nil
		}
	}
	m.records[r.ID] = *r
	return true, nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*feerecord.FeeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, internal.ErrRecordNotFound
	}
	return &r, nil
}

func (m *mockRepository) GetByOrderRef(context.Context, string) (*feerecord.FeeRecord, error) {
	return nil, internal.ErrRecordNotFound
}

func (m *mockRepository) List(context.Context, ledger.Filter) ([]*feerecord.FeeRecord, int64, error) {
	return nil, 0, nil
}

func (m *mockRepository) ListOverdue(context.Context, time.Time, int, int) ([]*feerecord.FeeRecord, error) {
	return nil, nil
}

func (m *mockRepository) HasUnpaidBefore(context.Context, string, string) (bool, error) {
	return false, nil
}

func (m *mockRepository) Update(_ context.Context, r *feerecord.FeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	existing, ok := m.records[r.ID]
	if !ok || existing.Version != r.Version {
		return internal.ErrConcurrentModification
	}
	r.Version++
	m.records[r.ID] = *r
	m.updates++
	return nil
}

func (m *mockRepository) Delete(_ context.Context, r *feerecord.FeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, r.ID)
	return nil
}

var _ = Describe("Store", func() {
	var (
		repo  *mockRepository
		store *ledger.Store
		rec   *feerecord.FeeRecord
		ctx   context.Context
	)

	BeforeEach(func() {
		repo = newMockRepository()
		store = ledger.NewStore(repo, nil, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
		rec = feerecord.New("rec-1", "stu-1", "2024-07", "INR", decimal.NewFromInt(2500), time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
		_, _ = repo.CreateIfAbsent(context.Background(), rec)
		ctx = context.Background()
	})

	Describe("Mutate", func() {
		It("persists the change and recomputes the total", func() {
			out, err := store.Mutate(ctx, "rec-1", func(_ context.Context, r *feerecord.FeeRecord) error {
				r.FineAmount = decimal.NewFromInt(300)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.TotalAmount.Equal(decimal.NewFromInt(2800))).To(BeTrue())
			Expect(out.Version).To(Equal(int64(2)))
		})

		It("skips the write when the callback reports no change", func() {
			out, err := store.Mutate(ctx, "rec-1", func(context.Context, *feerecord.FeeRecord) error {
				return ledger.ErrUnchanged
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Version).To(Equal(int64(1)))
			Expect(repo.updates).To(Equal(0))
		})

		It("passes domain errors through untouched", func() {
			_, err := store.Mutate(ctx, "rec-1", func(context.Context, *feerecord.FeeRecord) error {
				return internal.ErrRecordAlreadyCaptured
			})
			Expect(errors.Is(err, internal.ErrRecordAlreadyCaptured)).To(BeTrue())
		})

		It("wraps storage failures as internal errors", func() {
			repo.updateErr = errors.New("disk full")
			_, err := store.Mutate(ctx, "rec-1", func(context.Context, *feerecord.FeeRecord) error { return nil })
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeInternal))
		})

		It("returns not found for unknown records", func() {
			_, err := store.Mutate(ctx, "missing", func(context.Context, *feerecord.FeeRecord) error { return nil })
			Expect(errors.Is(err, internal.ErrRecordNotFound)).To(BeTrue())
		})

		It("serializes concurrent mutations of the same record", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := store.Mutate(ctx, "rec-1", func(_ context.Context, r *feerecord.FeeRecord) error {
						r.FineAmount = r.FineAmount.Add(decimal.NewFromInt(1))
						return nil
					})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			final, err := store.Get(ctx, "rec-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(final.FineAmount.Equal(decimal.NewFromInt(20))).To(BeTrue())
			Expect(final.TotalAmount.Equal(decimal.NewFromInt(2520))).To(BeTrue())
			Expect(final.Version).To(Equal(int64(21)))
		})
	})

	Describe("Remove", func() {
		It("refuses when the check fails", func() {
			_, err := store.Remove(ctx, "rec-1", func(context.Context, *feerecord.FeeRecord) error {
				return internal.ErrRecordNotDeletable
			})
			Expect(errors.Is(err, internal.ErrRecordNotDeletable)).To(BeTrue())
			_, err = store.Get(ctx, "rec-1")
			Expect(err).NotTo(HaveOccurred())
		})

		It("deletes when the check passes", func() {
			removed, err := store.Remove(ctx, "rec-1", func(context.Context, *feerecord.FeeRecord) error { return nil })
			Expect(err).NotTo(HaveOccurred())
			Expect(removed.ID).To(Equal("rec-1"))
			_, err = store.Get(ctx, "rec-1")
			Expect(errors.Is(err, internal.ErrRecordNotFound)).To(BeTrue())
		})
	})
})

var _ = Describe("FeeRecord", func() {
	var rec *feerecord.FeeRecord

	BeforeEach(func() {
		rec = feerecord.New("rec-1", "stu-1", "2024-07", "INR", decimal.NewFromInt(2500), time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
	})

	It("starts pending with total equal to base", func() {
		Expect(rec.Status).To(Equal(feerecord.StatusPending))
		Expect(rec.FineAmount.IsZero()).To(BeTrue())
		Expect(rec.TotalAmount.Equal(rec.BaseAmount)).To(BeTrue())
	})

	It("only raises the fine through assessment", func() {
		now := time.Now().UTC()
		Expect(rec.AssessFine(decimal.NewFromInt(250), now)).To(BeTrue())
		Expect(rec.AssessFine(decimal.NewFromInt(100), now)).To(BeFalse())
		Expect(rec.FineAmount.Equal(decimal.NewFromInt(250))).To(BeTrue())
		Expect(rec.TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
	})

	It("never reassesses a waived fine", func() {
		now := time.Now().UTC()
		rec.AssessFine(decimal.NewFromInt(250), now)
		rec.WaiveFine(now)
		Expect(rec.AssessFine(decimal.NewFromInt(500), now)).To(BeFalse())
		Expect(rec.TotalAmount.Equal(rec.BaseAmount)).To(BeTrue())
	})

	It("freezes the fine on capture", func() {
		now := time.Now().UTC()
		rec.AssessFine(decimal.NewFromInt(250), now)
		rec.Capture("upi", "pay_1", "REC-2024-ABC123", now)
		Expect(rec.PaidAt).NotTo(BeNil())
		Expect(rec.AssessFine(decimal.NewFromInt(400), now)).To(BeFalse())
		Expect(rec.TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
	})

	It("supersedes an open order when assessment changes the total", func() {
		order, attempt := "order_1", "attempt-1"
		rec.GatewayOrderRef, rec.OrderAttemptRef = &order, &attempt
		Expect(rec.OrderOpen()).To(BeTrue())

		Expect(rec.AssessFine(decimal.NewFromInt(250), time.Now().UTC())).To(BeTrue())
		Expect(rec.OrderOpen()).To(BeFalse())
		Expect(rec.OrderMatches("order_1")).To(BeFalse())
	})

	It("keeps the open order when assessment changes nothing", func() {
		rec.AssessFine(decimal.NewFromInt(250), time.Now().UTC())
		order := "order_1"
		rec.GatewayOrderRef = &order

		Expect(rec.AssessFine(decimal.NewFromInt(250), time.Now().UTC())).To(BeFalse())
		Expect(rec.OrderMatches("order_1")).To(BeTrue())
	})

	It("supersedes an open order when the fine is waived", func() {
		rec.AssessFine(decimal.NewFromInt(250), time.Now().UTC())
		order := "order_1"
		rec.GatewayOrderRef = &order

		rec.WaiveFine(time.Now().UTC())
		Expect(rec.TotalAmount.Equal(decimal.NewFromInt(2500))).To(BeTrue())
		Expect(rec.GatewayOrderRef).To(BeNil())
	})

	It("moves a failed record back to pending on a fresh attempt", func() {
		order := "order_old"
		rec.GatewayOrderRef = &order
		rec.MarkFailed("card declined")
		rec.BeginAttempt("attempt-2", time.Now().UTC())
		Expect(rec.Status).To(Equal(feerecord.StatusPending))
		Expect(rec.GatewayOrderRef).To(BeNil())
		Expect(rec.AttemptMatches("attempt-2")).To(BeTrue())
		Expect(rec.FailureReason).To(BeNil())
	})

	DescribeTable("status transitions",
		func(from, to feerecord.Status, allowed bool) {
			Expect(from.CanTransitionTo(to)).To(Equal(allowed))
		},
		Entry("pending to captured", feerecord.StatusPending, feerecord.StatusCaptured, true),
		Entry("pending to failed", feerecord.StatusPending, feerecord.StatusFailed, true),
		Entry("failed to pending", feerecord.StatusFailed, feerecord.StatusPending, true),
		Entry("failed to waived", feerecord.StatusFailed, feerecord.StatusWaived, true),
		Entry("captured to pending", feerecord.StatusCaptured, feerecord.StatusPending, false),
		Entry("waived to captured", feerecord.StatusWaived, feerecord.StatusCaptured, false),
	)
})
