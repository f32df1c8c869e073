package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/xraph/entitle/payment"
)

// PayTR verifies PayTR callback notifications. PayTR posts a form body
// whose hash field signs merchant_oid, the merchant salt, status and
// total_amount.
type PayTR struct {
	merchantKey  string
	merchantSalt string
	checkoutBase string
}

func NewPayTR(merchantKey, merchantSalt string) *PayTR {
	return &PayTR{
		merchantKey:  merchantKey,
		merchantSalt: merchantSalt,
		checkoutBase: "https://www.paytr.com/odeme/",
	}
}

func (g *PayTR) Provider() payment.Provider { return payment.ProviderPayTR }

func (g *PayTR) CheckoutURL(p *payment.Payment) (string, error) {
	if p.Key == "" {
		return "", fmt.Errorf("%w: payment key is empty", ErrMalformed)
	}
	return g.checkoutBase + p.Key, nil
}

// Hash computes the callback hash for the given fields.
func (g *PayTR) Hash(merchantOID, status, totalAmount string) string {
	mac := hmac.New(sha256.New, []byte(g.merchantKey))
	mac.Write([]byte(merchantOID + g.merchantSalt + status + totalAmount))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseEvent verifies the hash. PayTR assigns no event id, so duplicate
// deliveries are keyed by reference and status.
func (g *PayTR) ParseEvent(_ http.Header, payload []byte) (*payment.Event, error) {
	form, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	oid := form.Get("merchant_oid")
	status := form.Get("status")
	total := form.Get("total_amount")
	if oid == "" || status == "" {
		return nil, fmt.Errorf("%w: paytr callback is missing merchant_oid or status", ErrMalformed)
	}

	if !hmac.Equal([]byte(g.Hash(oid, status, total)), []byte(form.Get("hash"))) {
		return nil, ErrSignature
	}

	var next payment.Status
	switch status {
	case "success":
		next = payment.StatusCompleted
	case "failed":
		next = payment.StatusFailed
	default:
		return nil, fmt.Errorf("%w: paytr status %q", ErrIgnored, status)
	}

	return &payment.Event{
		Provider:   payment.ProviderPayTR,
		EventType:  "callback." + status,
		PaymentKey: oid,
		NewStatus:  next,
		Raw:        payload,
	}, nil
}
