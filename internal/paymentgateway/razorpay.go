package paymentgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
)

const defaultRazorpayURL = "https://api.razorpay.com"

var hundred = decimal.NewFromInt(100)

// Razorpay talks to the Orders API. Amounts go over the wire in minor units.
type Razorpay struct {
	apiURL        string
	keyID         string
	keySecret     string
	webhookSecret string
	client        *http.Client
}

func NewRazorpay(cfg internal.RazorpayConfig, client *http.Client) *Razorpay {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultRazorpayURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Razorpay{
		apiURL:        apiURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		client:        client,
	}
}

func (g *Razorpay) Name() string {
	return ProviderRazorpay
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (g *Razorpay) OpenOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	minor := req.Amount.Mul(hundred).Round(0).IntPart()
	if minor <= 0 {
		return nil, internal.ErrInvalidAmount
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   minor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("razorpay returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var order razorpayOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("razorpay order response carried no id")
	}

	return &Order{
		Ref:      order.ID,
		Amount:   decimal.New(order.Amount, -2),
		Currency: order.Currency,
		ClientParams: map[string]interface{}{
			"key_id":   g.keyID,
			"order_id": order.ID,
			"amount":   order.Amount,
			"currency": order.Currency,
		},
	}, nil
}

func (g *Razorpay) sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayment checks the checkout signature, an HMAC-SHA256 of
// "order_id|payment_id" keyed with the API secret.
func (g *Razorpay) VerifyPayment(orderRef, paymentRef, signature string) bool {
	if g.keySecret == "" || orderRef == "" || paymentRef == "" {
		return false
	}
	return equalHex(g.sign(g.keySecret, orderRef+"|"+paymentRef), signature)
}

func (g *Razorpay) VerifyWebhook(body []byte, signature string) bool {
	if g.webhookSecret == "" || len(body) == 0 {
		return false
	}
	return equalHex(g.sign(g.webhookSecret, string(body)), signature)
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Method           string `json:"method"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (g *Razorpay) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("invalid razorpay webhook payload: %w", err)
	}
	entity := hook.Payload.Payment.Entity

	eventType := hook.Event
	if eventType == "order.paid" {
		eventType = EventPaymentCaptured
	}
	return &WebhookEvent{
		ID:         hook.Event + ":" + entity.ID,
		Type:       eventType,
		OrderRef:   entity.OrderID,
		PaymentRef: entity.ID,
		Method:     entity.Method,
		Reason:     entity.ErrorDescription,
	}, nil
}
