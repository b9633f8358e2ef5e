package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	"github.com/frahmantamala/transport-fees/internal/fine"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	ledgerpg "github.com/frahmantamala/transport-fees/internal/ledger/postgres"
	"github.com/frahmantamala/transport-fees/internal/payment"
	paymentpg "github.com/frahmantamala/transport-fees/internal/payment/postgres"
)

var _ = Describe("Service", func() {
	var (
		repo      *ledgerpg.FeeRecordRepository
		gateway   *fakeGateway
		publisher *recordingPublisher
		auditor   *recordingAuditor
		svc       *payment.Service
		now       time.Time
		ctx       context.Context

		admin    = internal.Caller{UserID: "admin-1", Role: internal.RoleAdmin}
		guardian = internal.Caller{UserID: "g-1", Role: internal.RoleGuardian, StudentRefs: []string{"stu-1"}}
		stranger = internal.Caller{UserID: "g-2", Role: internal.RoleGuardian, StudentRefs: []string{"stu-9"}}
	)

	newService := func(cfg payment.Config) *payment.Service {
		db := openTestDB()
		repo = ledgerpg.NewFeeRecordRepository(db)
		st := ledger.NewStore(repo, store.NewTxManager(db), quietLogger())
		cfg.Now = func() time.Time { return now }
		return payment.NewService(st, gateway, paymentpg.NewGatewayEventRepository(db), publisher, auditor, fine.DefaultPolicy(), cfg, quietLogger())
	}

	BeforeEach(func() {
		gateway = &fakeGateway{}
		publisher = &recordingPublisher{}
		auditor = &recordingAuditor{}
		now = time.Date(2024, 7, 15, 9, 30, 0, 0, time.UTC)
		ctx = context.Background()
		svc = newService(payment.Config{GatewayTimeout: time.Second})

		_, err := repo.CreateIfAbsent(ctx, julyRecord("rec-1", "stu-1"))
		Expect(err).ToNot(HaveOccurred())
	})

	load := func(id string) *feerecord.FeeRecord {
		r, err := repo.GetByID(ctx, id)
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	Describe("InitiateOrder", func() {
		It("assesses the fine and opens an order for the new total", func() {
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.OrderRef).To(Equal("order_1"))
			Expect(res.FineAmount.Equal(decimal.NewFromInt(250))).To(BeTrue())
			Expect(res.Amount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
			Expect(gateway.last.Amount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
			Expect(len(gateway.last.Receipt)).To(BeNumerically("<=", 40))

			r := load("rec-1")
			Expect(*r.GatewayOrderRef).To(Equal("order_1"))
			Expect(r.TotalAmount.Equal(r.BaseAmount.Add(r.FineAmount))).To(BeTrue())
		})

		It("charges no fine on or before the due date", func() {
			now = time.Date(2024, 7, 10, 23, 0, 0, 0, time.UTC)
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Amount.Equal(decimal.NewFromInt(2500))).To(BeTrue())
		})

		It("replaces the previous order on a fresh attempt", func() {
			_, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.OrderRef).To(Equal("order_2"))
			Expect(*load("rec-1").GatewayOrderRef).To(Equal("order_2"))
		})

		It("rejects callers outside the student's guardianship", func() {
			_, err := svc.InitiateOrder(ctx, stranger, "rec-1")
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			Expect(gateway.opened).To(Equal(0))
		})

		It("reports missing records", func() {
			_, err := svc.InitiateOrder(ctx, admin, "nope")
			Expect(errors.Is(err, internal.ErrRecordNotFound)).To(BeTrue())
		})

		It("refuses captured records", func() {
			_, err := svc.MarkManualPayment(ctx, admin, "rec-1", payment.ManualPaymentRequest{})
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(errors.Is(err, internal.ErrRecordAlreadyCaptured)).To(BeTrue())
		})

		It("treats a gateway timeout as retryable", func() {
			svc = newService(payment.Config{GatewayTimeout: 20 * time.Millisecond})
			_, err := repo.CreateIfAbsent(ctx, julyRecord("rec-1", "stu-1"))
			Expect(err).ToNot(HaveOccurred())

			gateway.slow = true
			_, err = svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(errors.Is(err, internal.ErrGatewayUnavailable)).To(BeTrue())

			r := load("rec-1")
			Expect(r.Status).To(Equal(feerecord.StatusPending))
			Expect(r.GatewayOrderRef).To(BeNil())
			Expect(r.OrderAttemptRef).To(BeNil())

			gateway.slow = false
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(*load("rec-1").GatewayOrderRef).To(Equal(res.OrderRef))
		})

		It("maps gateway errors to GatewayUnavailable", func() {
			gateway.openErr = errors.New("connection reset")
			_, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(errors.Is(err, internal.ErrGatewayUnavailable)).To(BeTrue())
		})

		It("lets a newer attempt supersede one still in flight", func() {
			var newer *payment.OrderResult
			gateway.onOpen = func() {
				var err error
				newer, err = svc.InitiateOrder(ctx, guardian, "rec-1")
				Expect(err).ToNot(HaveOccurred())
			}

			_, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(errors.Is(err, internal.ErrOrderSuperseded)).To(BeTrue())
			Expect(newer.OrderRef).To(Equal("order_2"))
			Expect(*load("rec-1").GatewayOrderRef).To(Equal("order_2"))
		})

		It("blocks skipping an earlier unpaid month when configured", func() {
			svc = newService(payment.Config{EnforceSequential: true})
			june := feerecord.New("rec-june", "stu-1", "2024-06", "INR", decimal.NewFromInt(2500), time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
			_, err := repo.CreateIfAbsent(ctx, june)
			Expect(err).ToNot(HaveOccurred())
			_, err = repo.CreateIfAbsent(ctx, julyRecord("rec-1", "stu-1"))
			Expect(err).ToNot(HaveOccurred())

			_, err = svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(errors.Is(err, internal.ErrEarlierPeriodUnpaid)).To(BeTrue())

			_, err = svc.InitiateOrder(ctx, guardian, "rec-june")
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("ConfirmPayment", func() {
		var orderRef string

		BeforeEach(func() {
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			orderRef = res.OrderRef
		})

		confirm := func(sig string) (*feerecord.FeeRecord, error) {
			return svc.ConfirmPayment(ctx, payment.ConfirmRequest{
				RecordID:   "rec-1",
				OrderRef:   orderRef,
				PaymentRef: "pay_1",
				Signature:  sig,
				Method:     "upi",
			})
		}

		It("captures with a valid signature and freezes the fine", func() {
			r, err := confirm(sign(orderRef, "pay_1"))
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Status).To(Equal(feerecord.StatusCaptured))
			Expect(r.PaidAt).ToNot(BeNil())
			Expect(*r.PaymentMethod).To(Equal("upi"))
			Expect(r.TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
			Expect(*r.ReceiptNumber).To(MatchRegexp(`^REC-2024-[0-9A-F]{6}$`))
			Expect(publisher.types()).To(ContainElement(events.EventTypePaymentCaptured))

			now = now.AddDate(0, 1, 0)
			sweep, err := svc.AssessOverdue(ctx, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(sweep.Scanned).To(Equal(0))
			Expect(load("rec-1").TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
		})

		It("is idempotent for the same confirmation", func() {
			first, err := confirm(sign(orderRef, "pay_1"))
			Expect(err).ToNot(HaveOccurred())
			second, err := confirm(sign(orderRef, "pay_1"))
			Expect(err).ToNot(HaveOccurred())

			Expect(second.Version).To(Equal(first.Version))
			Expect(*second.ReceiptNumber).To(Equal(*first.ReceiptNumber))
			Expect(second.PaidAt.Equal(*first.PaidAt)).To(BeTrue())
			captured := 0
			for _, t := range publisher.types() {
				if t == events.EventTypePaymentCaptured {
					captured++
				}
			}
			Expect(captured).To(Equal(1))
		})

		It("captures exactly once under concurrent duplicate callbacks", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := confirm(sign(orderRef, "pay_1"))
					Expect(err).ToNot(HaveOccurred())
				}()
			}
			wg.Wait()
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusCaptured))
			Expect(publisher.types()).To(HaveLen(1))
		})

		It("never captures on a tampered signature", func() {
			_, err := confirm(sign(orderRef, "pay_2"))
			Expect(errors.Is(err, internal.ErrSignatureInvalid)).To(BeTrue())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeSecurity))
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("rejects a confirmation for another order", func() {
			_, err := svc.ConfirmPayment(ctx, payment.ConfirmRequest{RecordID: "rec-1", OrderRef: "order_other", PaymentRef: "pay_1", Signature: sign("order_other", "pay_1")})
			Expect(errors.Is(err, internal.ErrOrderMismatch)).To(BeTrue())
		})

		It("rejects a second, different capture", func() {
			_, err := confirm(sign(orderRef, "pay_1"))
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.ConfirmPayment(ctx, payment.ConfirmRequest{RecordID: "rec-1", OrderRef: orderRef, PaymentRef: "pay_2", Signature: sign(orderRef, "pay_2")})
			Expect(errors.Is(err, internal.ErrRecordAlreadyCaptured)).To(BeTrue())
		})

		It("validates required fields", func() {
			_, err := svc.ConfirmPayment(ctx, payment.ConfirmRequest{RecordID: "rec-1"})
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("HandleWebhook", func() {
		var orderRef string

		BeforeEach(func() {
			res, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			orderRef = res.OrderRef
		})

		body := func(id, typ string) []byte {
			return []byte(fmt.Sprintf(`{"ID":%q,"Type":%q,"OrderRef":%q,"PaymentRef":"pay_9","Method":"card","Reason":"declined"}`, id, typ, orderRef))
		}

		It("rejects bad signatures", func() {
			_, err := svc.HandleWebhook(ctx, body("evt-1", "payment.captured"), "bad")
			Expect(errors.Is(err, internal.ErrSignatureInvalid)).To(BeTrue())
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("captures the record and ignores redelivery", func() {
			res, err := svc.HandleWebhook(ctx, body("evt-1", "payment.captured"), "good")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(payment.WebhookProcessed))
			Expect(res.RecordID).To(Equal("rec-1"))
			r := load("rec-1")
			Expect(r.Status).To(Equal(feerecord.StatusCaptured))
			Expect(*r.PaymentMethod).To(Equal("card"))

			res, err = svc.HandleWebhook(ctx, body("evt-1", "payment.captured"), "good")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(payment.WebhookDuplicate))
			Expect(load("rec-1").Version).To(Equal(r.Version))
		})

		It("marks failures and allows a retry", func() {
			_, err := svc.HandleWebhook(ctx, body("evt-2", "payment.failed"), "good")
			Expect(err).ToNot(HaveOccurred())
			r := load("rec-1")
			Expect(r.Status).To(Equal(feerecord.StatusFailed))
			Expect(*r.FailureReason).To(Equal("declined"))
			Expect(publisher.types()).To(ContainElement(events.EventTypePaymentFailed))

			_, err = svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("acknowledges unknown orders and event types", func() {
			res, err := svc.HandleWebhook(ctx, []byte(`{"ID":"evt-3","Type":"payment.captured","OrderRef":"order_unknown"}`), "good")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(payment.WebhookIgnored))

			res, err = svc.HandleWebhook(ctx, body("evt-4", "refund.created"), "good")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(payment.WebhookIgnored))
		})
	})

	Describe("MarkManualPayment", func() {
		It("captures with defaults and writes an audit entry", func() {
			r, err := svc.MarkManualPayment(ctx, admin, "rec-1", payment.ManualPaymentRequest{Notes: "cash at office"})
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Status).To(Equal(feerecord.StatusCaptured))
			Expect(*r.PaymentMethod).To(Equal("Manual"))
			Expect(*r.GatewayPaymentRef).To(Equal("OFFLINE-REC1"))
			Expect(r.FineAmount.Equal(decimal.NewFromInt(250))).To(BeTrue())
			Expect(auditor.calls).To(ContainElement(auditCall{Action: "fee.manual_payment", ActorID: "admin-1", RecordID: "rec-1"}))
		})

		It("derives the offline reference from long record ids", func() {
			_, err := repo.CreateIfAbsent(ctx, julyRecord("3f2a9c1e-77b0-4d21-9a55-0c1d2e3f4a5b", "stu-3"))
			Expect(err).ToNot(HaveOccurred())
			r, err := svc.MarkManualPayment(ctx, admin, "3f2a9c1e-77b0-4d21-9a55-0c1d2e3f4a5b", payment.ManualPaymentRequest{})
			Expect(err).ToNot(HaveOccurred())
			Expect(*r.GatewayPaymentRef).To(Equal("OFFLINE-3F2A9C1E"))
		})

		It("requires an administrator", func() {
			_, err := svc.MarkManualPayment(ctx, guardian, "rec-1", payment.ManualPaymentRequest{})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})
	})

	Describe("DeleteRecord", func() {
		It("deletes pending unpaid records", func() {
			Expect(svc.DeleteRecord(ctx, admin, "rec-1")).To(Succeed())
			_, err := repo.GetByID(ctx, "rec-1")
			Expect(errors.Is(err, internal.ErrRecordNotFound)).To(BeTrue())
			Expect(auditor.calls).To(HaveLen(1))
		})

		It("keeps the record when the audit entry cannot be written", func() {
			auditor.err = errors.New("audit store unavailable")
			Expect(svc.DeleteRecord(ctx, admin, "rec-1")).ToNot(Succeed())
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("refuses captured records with a state conflict", func() {
			_, err := svc.MarkManualPayment(ctx, admin, "rec-1", payment.ManualPaymentRequest{})
			Expect(err).ToNot(HaveOccurred())
			err = svc.DeleteRecord(ctx, admin, "rec-1")
			Expect(errors.Is(err, internal.ErrRecordNotDeletable)).To(BeTrue())
			appErr, _ := internal.IsAppError(err)
			Expect(appErr.Type).To(Equal(internal.ErrorTypeConflict))
		})

		It("requires an administrator", func() {
			Expect(errors.Is(svc.DeleteRecord(ctx, guardian, "rec-1"), internal.ErrForbidden)).To(BeTrue())
		})
	})

	Describe("reads", func() {
		BeforeEach(func() {
			_, err := repo.CreateIfAbsent(ctx, julyRecord("rec-2", "stu-2"))
			Expect(err).ToNot(HaveOccurred())
		})

		It("scopes guardians to their students", func() {
			res, err := svc.ListRecords(ctx, guardian, payment.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Total).To(Equal(int64(1)))
			Expect(res.Records[0].StudentRef).To(Equal("stu-1"))

			_, err = svc.ListRecords(ctx, guardian, payment.ListQuery{StudentRef: "stu-2"})
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())

			_, err = svc.GetRecord(ctx, guardian, "rec-2")
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})

		It("lets admins see everything and filter", func() {
			res, err := svc.ListRecords(ctx, admin, payment.ListQuery{Period: "2024-07", Status: "pending"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Total).To(Equal(int64(2)))
			Expect(res.Limit).To(Equal(50))
		})

		It("shows guardians with no students nothing", func() {
			res, err := svc.ListRecords(ctx, internal.Caller{UserID: "g-x", Role: internal.RoleGuardian}, payment.ListQuery{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Records).To(BeEmpty())
		})

		It("validates filters", func() {
			_, err := svc.ListRecords(ctx, admin, payment.ListQuery{Status: "paid"})
			Expect(err).To(HaveOccurred())
			_, err = svc.ListRecords(ctx, admin, payment.ListQuery{Period: "July"})
			Expect(errors.Is(err, internal.ErrInvalidPeriod)).To(BeTrue())
		})
	})

	Describe("AssessOverdue", func() {
		It("raises fines monotonically and keeps totals consistent", func() {
			res, err := svc.AssessOverdue(ctx, time.Date(2024, 7, 12, 0, 0, 0, 0, time.UTC))
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Raised).To(Equal(1))

			res, err = svc.AssessOverdue(ctx, time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC))
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Scanned).To(Equal(1))
			Expect(res.Raised).To(Equal(0))

			r := load("rec-1")
			Expect(r.FineAmount.Equal(decimal.NewFromInt(250))).To(BeTrue())
			Expect(r.TotalAmount.Equal(decimal.NewFromInt(2750))).To(BeTrue())
		})

		It("supersedes an order opened before the fine was raised", func() {
			now = time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
			first, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Amount.Equal(decimal.NewFromInt(2500))).To(BeTrue())

			now = time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)
			res, err := svc.AssessOverdue(ctx, now)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Raised).To(Equal(1))
			Expect(load("rec-1").GatewayOrderRef).To(BeNil())

			_, err = svc.ConfirmPayment(ctx, payment.ConfirmRequest{RecordID: "rec-1", OrderRef: first.OrderRef, PaymentRef: "pay_1", Signature: sign(first.OrderRef, "pay_1")})
			Expect(errors.Is(err, internal.ErrOrderMismatch)).To(BeTrue())
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))

			second, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.last.Amount.Equal(decimal.NewFromInt(2750))).To(BeTrue())

			r, err := svc.ConfirmPayment(ctx, payment.ConfirmRequest{RecordID: "rec-1", OrderRef: second.OrderRef, PaymentRef: "pay_2", Signature: sign(second.OrderRef, "pay_2")})
			Expect(err).ToNot(HaveOccurred())
			Expect(r.TotalAmount.Equal(gateway.last.Amount)).To(BeTrue())
		})

		It("ignores a webhook capture for a superseded order", func() {
			now = time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
			first, err := svc.InitiateOrder(ctx, guardian, "rec-1")
			Expect(err).ToNot(HaveOccurred())
			_, err = svc.AssessOverdue(ctx, time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC))
			Expect(err).ToNot(HaveOccurred())

			hook := fmt.Sprintf(`{"ID":"evt-stale","Type":"payment.captured","OrderRef":%q,"PaymentRef":"pay_1"}`, first.OrderRef)
			res, err := svc.HandleWebhook(ctx, []byte(hook), "good")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Status).To(Equal(payment.WebhookIgnored))
			Expect(load("rec-1").Status).To(Equal(feerecord.StatusPending))
		})

		It("leaves records that are not yet due", func() {
			res, err := svc.AssessOverdue(ctx, time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC))
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Scanned).To(Equal(0))
			Expect(load("rec-1").FineAmount.IsZero()).To(BeTrue())
		})
	})
})
