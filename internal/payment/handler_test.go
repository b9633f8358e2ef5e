package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	"github.com/frahmantamala/transport-fees/internal/fine"
	"github.com/frahmantamala/transport-fees/internal/ledger"
	ledgerpg "github.com/frahmantamala/transport-fees/internal/ledger/postgres"
	"github.com/frahmantamala/transport-fees/internal/payment"
	paymentpg "github.com/frahmantamala/transport-fees/internal/payment/postgres"
)

type errorBody struct {
	Error struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}

var _ = Describe("Payment Handler Integration", func() {
	var (
		router *chi.Mux
		caller *internal.Caller
	)

	BeforeEach(func() {
		db := openTestDB()
		repo := ledgerpg.NewFeeRecordRepository(db)
		st := ledger.NewStore(repo, store.NewTxManager(db), quietLogger())
		svc := payment.NewService(st, &fakeGateway{}, paymentpg.NewGatewayEventRepository(db), &recordingPublisher{}, &recordingAuditor{}, fine.DefaultPolicy(), payment.Config{
			Now: func() time.Time { return time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC) },
		}, quietLogger())
		handler := payment.NewHandler(svc, quietLogger())

		_, err := repo.CreateIfAbsent(context.Background(), julyRecord("rec-1", "stu-1"))
		Expect(err).ToNot(HaveOccurred())

		caller = &internal.Caller{UserID: "g-1", Role: internal.RoleGuardian, StudentRefs: []string{"stu-1"}}
		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if caller != nil {
					r = r.WithContext(internal.ContextWithCaller(r.Context(), *caller))
				}
				next.ServeHTTP(w, r)
			})
		})
		router.Get("/fees", handler.ListFees)
		router.Get("/fees/{id}", handler.GetFee)
		router.Post("/fees/{id}/orders", handler.InitiateOrder)
		router.Post("/fees/{id}/manual-payment", handler.ManualPayment)
		router.Delete("/fees/{id}", handler.DeleteFee)
		router.Post("/payments/confirm", handler.ConfirmPayment)
		router.Post("/payments/webhook", handler.HandleWebhook)
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decodeError := func(w *httptest.ResponseRecorder) errorBody {
		var e errorBody
		Expect(json.NewDecoder(w.Body).Decode(&e)).To(Succeed())
		return e
	}

	It("opens an order and confirms it", func() {
		w := do(http.MethodPost, "/fees/rec-1/orders", nil)
		Expect(w.Code).To(Equal(http.StatusCreated))
		var order payment.OrderResult
		Expect(json.NewDecoder(w.Body).Decode(&order)).To(Succeed())
		Expect(order.Amount.String()).To(Equal("2750"))

		w = do(http.MethodPost, "/payments/confirm", payment.ConfirmRequest{
			RecordID:   "rec-1",
			OrderRef:   order.OrderRef,
			PaymentRef: "pay_1",
			Signature:  sign(order.OrderRef, "pay_1"),
		})
		Expect(w.Code).To(Equal(http.StatusOK))
		var rec feerecord.FeeRecord
		Expect(json.NewDecoder(w.Body).Decode(&rec)).To(Succeed())
		Expect(rec.Status).To(Equal(feerecord.StatusCaptured))
	})

	It("answers a tampered confirmation with a security error", func() {
		w := do(http.MethodPost, "/fees/rec-1/orders", nil)
		Expect(w.Code).To(Equal(http.StatusCreated))
		var order payment.OrderResult
		Expect(json.NewDecoder(w.Body).Decode(&order)).To(Succeed())

		w = do(http.MethodPost, "/payments/confirm", payment.ConfirmRequest{
			RecordID:   "rec-1",
			OrderRef:   order.OrderRef,
			PaymentRef: "pay_1",
			Signature:  "forged",
		})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		e := decodeError(w)
		Expect(e.Error.Type).To(Equal(string(internal.ErrorTypeSecurity)))
		Expect(e.Error.Code).To(Equal(string(internal.ErrCodeSignatureInvalid)))
	})

	It("rejects malformed bodies", func() {
		req := httptest.NewRequest(http.MethodPost, "/payments/confirm", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("maps missing records to 404", func() {
		w := do(http.MethodGet, "/fees/unknown", nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeRecordNotFound)))
	})

	It("requires an authenticated caller", func() {
		caller = nil
		w := do(http.MethodGet, "/fees", nil)
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("forbids guardians from admin operations", func() {
		w := do(http.MethodDelete, "/fees/rec-1", nil)
		Expect(w.Code).To(Equal(http.StatusForbidden))

		w = do(http.MethodPost, "/fees/rec-1/manual-payment", payment.ManualPaymentRequest{})
		Expect(w.Code).To(Equal(http.StatusForbidden))
	})

	It("lets admins record manual payments and then refuses deletion", func() {
		caller = &internal.Caller{UserID: "admin-1", Role: internal.RoleAdmin}
		w := do(http.MethodPost, "/fees/rec-1/manual-payment", payment.ManualPaymentRequest{Method: "cash"})
		Expect(w.Code).To(Equal(http.StatusOK))

		w = do(http.MethodDelete, "/fees/rec-1", nil)
		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeRecordNotDeletable)))
	})

	It("lists only the guardian's records", func() {
		w := do(http.MethodGet, "/fees?limit=10", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		var res payment.ListResult
		Expect(json.NewDecoder(w.Body).Decode(&res)).To(Succeed())
		Expect(res.Total).To(Equal(int64(1)))
		Expect(res.Limit).To(Equal(10))
	})

	It("acknowledges signed webhooks", func() {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(`{"ID":"evt-1","Type":"refund.created"}`))
		req.Header.Set("X-Razorpay-Signature", "good")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))

		var res payment.WebhookResult
		Expect(json.NewDecoder(w.Body).Decode(&res)).To(Succeed())
		Expect(res.Status).To(Equal(payment.WebhookIgnored))
	})

	It("rejects unsigned webhooks", func() {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(`{"ID":"evt-1"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
