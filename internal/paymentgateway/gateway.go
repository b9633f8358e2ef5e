// Package paymentgateway opens orders with an external payment processor and
// verifies the signatures it attaches to completion notifications.
package paymentgateway

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderMidtrans = "midtrans"
)

// Webhook event types the payment service acts on.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Metadata map[string]string
}

// Order is an opened gateway order. ClientParams are what a checkout
// widget needs and never include secrets.
type Order struct {
	Ref          string                 `json:"order_ref"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency"`
	ClientParams map[string]interface{} `json:"client_params"`
}

type WebhookEvent struct {
	ID         string
	Type       string
	OrderRef   string
	PaymentRef string
	Method     string
	Reason     string
}

type Gateway interface {
	Name() string
	OpenOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifyPayment(orderRef, paymentRef, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// New builds the gateway named by cfg.Provider.
func New(cfg internal.PaymentConfig) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderRazorpay:
		return NewRazorpay(cfg.Razorpay, nil), nil
	case ProviderMidtrans:
		return NewMidtrans(cfg.Midtrans), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// equalHex compares two hex digests in constant time.
func equalHex(expected, got string) bool {
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	have, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err != nil || len(have) == 0 {
		return false
	}
	return hmac.Equal(want, have)
}
