package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/entitle/payment"
)

// IyzicoSignatureHeader carries the hex HMAC-SHA256 of the body.
const IyzicoSignatureHeader = "X-Iyz-Signature"

// Iyzico verifies iyzico webhook deliveries.
type Iyzico struct {
	secretKey    string
	checkoutBase string
}

// NewIyzico creates an iyzico gateway. baseURL selects the sandbox or
// live payment form host; empty means sandbox.
func NewIyzico(secretKey, baseURL string) *Iyzico {
	if baseURL == "" {
		baseURL = "https://sandbox-api.iyzipay.com"
	}
	return &Iyzico{
		secretKey:    secretKey,
		checkoutBase: strings.TrimRight(baseURL, "/") + "/payment/form/",
	}
}

func (g *Iyzico) Provider() payment.Provider { return payment.ProviderIyzico }

func (g *Iyzico) CheckoutURL(p *payment.Payment) (string, error) {
	if p.Key == "" {
		return "", fmt.Errorf("%w: payment key is empty", ErrMalformed)
	}
	return g.checkoutBase + p.Key, nil
}

type iyzicoNotification struct {
	EventType      string `json:"iyziEventType"`
	ReferenceCode  string `json:"iyziReferenceCode"`
	PaymentID      string `json:"paymentId"`
	ConversationID string `json:"paymentConversationId"`
	Status         string `json:"status"`
}

func (g *Iyzico) ParseEvent(header http.Header, payload []byte) (*payment.Event, error) {
	if !g.verify(header.Get(IyzicoSignatureHeader), payload) {
		return nil, ErrSignature
	}

	var n iyzicoNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n.ConversationID == "" {
		return nil, fmt.Errorf("%w: iyzico notification has no conversation id", ErrMalformed)
	}

	var status payment.Status
	switch strings.ToUpper(n.Status) {
	case "SUCCESS":
		status = payment.StatusCompleted
	case "FAILURE":
		status = payment.StatusFailed
	case "CANCELLED", "CANCEL":
		status = payment.StatusCancelled
	case "REFUNDED", "REFUND":
		status = payment.StatusRefunded
	default:
		return nil, fmt.Errorf("%w: iyzico status %q", ErrIgnored, n.Status)
	}

	return &payment.Event{
		Provider:          payment.ProviderIyzico,
		EventType:         n.EventType,
		EventID:           n.ReferenceCode,
		PaymentKey:        n.ConversationID,
		ProviderPaymentID: n.PaymentID,
		NewStatus:         status,
		Raw:               payload,
	}, nil
}

// Sign returns the signature header value for payload.
func (g *Iyzico) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Iyzico) verify(sig string, payload []byte) bool {
	if sig == "" || g.secretKey == "" {
		return false
	}
	want, err := hex.DecodeString(g.Sign(payload))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
