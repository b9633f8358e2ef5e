package paymentgateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
)

// snapCreator is the slice of snap.Client the adapter uses.
type snapCreator interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

// Midtrans opens Snap transactions. Gross amounts are whole currency units.
type Midtrans struct {
	serverKey string
	clientKey string
	snap      snapCreator
}

func NewMidtrans(cfg internal.MidtransConfig) *Midtrans {
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}
	var client snap.Client
	client.New(cfg.ServerKey, env)
	return &Midtrans{serverKey: cfg.ServerKey, clientKey: cfg.ClientKey, snap: &client}
}

func (g *Midtrans) Name() string {
	return ProviderMidtrans
}

type snapResult struct {
	resp *snap.Response
	err  error
}

// OpenOrder uses the receipt as the Snap order id. The SDK call takes no
// context, so it runs in its own goroutine and is abandoned on cancellation.
func (g *Midtrans) OpenOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	gross := req.Amount.Round(0).IntPart()
	if gross <= 0 {
		return nil, internal.ErrInvalidAmount
	}

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Receipt,
			GrossAmt: gross,
		},
		Items: &[]midtrans.ItemDetails{{
			ID:    req.Receipt,
			Price: gross,
			Qty:   1,
			Name:  "Transport fee " + req.Metadata["billing_period"],
		}},
	}
	if ref := req.Metadata["student_ref"]; ref != "" {
		snapReq.CustomField1 = ref
	}

	done := make(chan snapResult, 1)
	go func() {
		resp, mErr := g.snap.CreateTransaction(snapReq)
		if mErr != nil {
			done <- snapResult{err: errors.New(mErr.Error())}
			return
		}
		done <- snapResult{resp: resp}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("snap create transaction failed: %w", res.err)
		}
		return &Order{
			Ref:      req.Receipt,
			Amount:   decimal.NewFromInt(gross),
			Currency: req.Currency,
			ClientParams: map[string]interface{}{
				"token":        res.resp.Token,
				"redirect_url": res.resp.RedirectURL,
				"client_key":   g.clientKey,
			},
		}, nil
	}
}

func (g *Midtrans) signature(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + g.serverKey))
	return hex.EncodeToString(sum[:])
}

// midtransSettledStatus is the status_code Midtrans signs for a completed
// payment. Pending (201) and denied (202) notifications carry valid
// signatures too and must not capture.
const midtransSettledStatus = "200"

// VerifyPayment expects paymentRef as "status_code|gross_amount", the two
// values Midtrans signs alongside the order id.
func (g *Midtrans) VerifyPayment(orderRef, paymentRef, signature string) bool {
	statusCode, gross, ok := strings.Cut(paymentRef, "|")
	if !ok || g.serverKey == "" || orderRef == "" || statusCode != midtransSettledStatus {
		return false
	}
	return equalHex(g.signature(orderRef, statusCode, gross), signature)
}

type midtransNotification struct {
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
	StatusMessage     string `json:"status_message"`
}

// VerifyWebhook checks the signature_key carried in the body. The header
// signature is used instead when present.
func (g *Midtrans) VerifyWebhook(body []byte, signature string) bool {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil || g.serverKey == "" {
		return false
	}
	if signature == "" {
		signature = n.SignatureKey
	}
	return equalHex(g.signature(n.OrderID, n.StatusCode, n.GrossAmount), signature)
}

func (g *Midtrans) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("invalid midtrans notification: %w", err)
	}

	event := &WebhookEvent{
		ID:         n.TransactionID + ":" + n.TransactionStatus,
		Type:       "midtrans." + n.TransactionStatus,
		OrderRef:   n.OrderID,
		PaymentRef: n.TransactionID,
		Method:     n.PaymentType,
		Reason:     n.StatusMessage,
	}
	switch n.TransactionStatus {
	case "settlement":
		event.Type = EventPaymentCaptured
	case "capture":
		if n.FraudStatus == "" || n.FraudStatus == "accept" {
			event.Type = EventPaymentCaptured
		}
	case "deny", "cancel", "expire", "failure":
		event.Type = EventPaymentFailed
		if event.Reason == "" {
			event.Reason = "transaction " + n.TransactionStatus
		}
	}
	return event, nil
}
