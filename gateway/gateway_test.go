package gateway_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
)

const stripeSecret = "whsec_test"

func stripeHeader(t *testing.T, payload []byte) http.Header {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(stripeSecret))
	mac.Write([]byte(ts + "." + string(payload)))
	h := http.Header{}
	h.Set(gateway.StripeSignatureHeader, "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func stripePayload(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, eventID, eventType, object))
}

func TestStripeParseEvent(t *testing.T) {
	g := gateway.NewStripe(stripeSecret)

	tests := []struct {
		name       string
		eventType  string
		object     string
		wantStatus payment.Status
		wantPSP    string
	}{
		{"succeeded", "payment_intent.succeeded", `{"id":"pi_1","metadata":{"payment_id":"key-1"}}`, payment.StatusCompleted, "pi_1"},
		{"failed", "payment_intent.payment_failed", `{"id":"pi_2","metadata":{"payment_id":"key-1"}}`, payment.StatusFailed, "pi_2"},
		{"canceled", "payment_intent.canceled", `{"id":"pi_3","metadata":{"payment_id":"key-1"}}`, payment.StatusCancelled, "pi_3"},
		{"refunded", "charge.refunded", `{"id":"ch_1","payment_intent":"pi_1","metadata":{"payment_id":"key-1"}}`, payment.StatusRefunded, "pi_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := stripePayload("evt_"+tt.name, tt.eventType, tt.object)
			ev, err := g.ParseEvent(stripeHeader(t, payload), payload)
			require.NoError(t, err)
			assert.Equal(t, payment.ProviderStripe, ev.Provider)
			assert.Equal(t, "evt_"+tt.name, ev.EventID)
			assert.Equal(t, "key-1", ev.PaymentKey)
			assert.Equal(t, tt.wantStatus, ev.NewStatus)
			assert.Equal(t, tt.wantPSP, ev.ProviderPaymentID)
			assert.NoError(t, ev.Validate())
		})
	}
}

func TestStripeRejectsBadSignature(t *testing.T) {
	g := gateway.NewStripe(stripeSecret)
	payload := stripePayload("evt_1", "payment_intent.succeeded", `{"id":"pi_1","metadata":{"payment_id":"k"}}`)
	h := http.Header{}
	h.Set(gateway.StripeSignatureHeader, "t=1,v1=deadbeef")

	_, err := g.ParseEvent(h, payload)
	assert.ErrorIs(t, err, gateway.ErrSignature)
}

func TestStripeIgnoresOtherEvents(t *testing.T) {
	g := gateway.NewStripe(stripeSecret)
	payload := stripePayload("evt_1", "customer.created", `{"id":"cus_1"}`)

	_, err := g.ParseEvent(stripeHeader(t, payload), payload)
	assert.ErrorIs(t, err, gateway.ErrIgnored)
}

func TestStripeRequiresPaymentKey(t *testing.T) {
	g := gateway.NewStripe(stripeSecret)
	payload := stripePayload("evt_1", "payment_intent.succeeded", `{"id":"pi_1","metadata":{}}`)

	_, err := g.ParseEvent(stripeHeader(t, payload), payload)
	assert.ErrorIs(t, err, gateway.ErrMalformed)
}

func TestIyzicoParseEvent(t *testing.T) {
	g := gateway.NewIyzico("iyz-secret", "")
	payload := []byte(`{"iyziEventType":"CHECKOUT_FORM_AUTH","iyziReferenceCode":"ref-9","paymentId":"123","paymentConversationId":"key-2","status":"SUCCESS"}`)

	h := http.Header{}
	h.Set(gateway.IyzicoSignatureHeader, g.Sign(payload))
	ev, err := g.ParseEvent(h, payload)
	require.NoError(t, err)
	assert.Equal(t, "ref-9", ev.EventID)
	assert.Equal(t, "key-2", ev.PaymentKey)
	assert.Equal(t, "123", ev.ProviderPaymentID)
	assert.Equal(t, payment.StatusCompleted, ev.NewStatus)

	h.Set(gateway.IyzicoSignatureHeader, gateway.NewIyzico("other", "").Sign(payload))
	_, err = g.ParseEvent(h, payload)
	assert.ErrorIs(t, err, gateway.ErrSignature)

	_, err = g.ParseEvent(http.Header{}, payload)
	assert.ErrorIs(t, err, gateway.ErrSignature)
}

func TestPayTRParseEvent(t *testing.T) {
	g := gateway.NewPayTR("merchant-key", "salt")

	form := url.Values{}
	form.Set("merchant_oid", "key-3")
	form.Set("status", "success")
	form.Set("total_amount", "9900")
	form.Set("hash", g.Hash("key-3", "success", "9900"))

	ev, err := g.ParseEvent(nil, []byte(form.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "key-3", ev.PaymentKey)
	assert.Equal(t, payment.StatusCompleted, ev.NewStatus)
	assert.Empty(t, ev.EventID)
	assert.Equal(t, "key-3:completed", ev.DedupKey())

	form.Set("total_amount", "1")
	_, err = g.ParseEvent(nil, []byte(form.Encode()))
	assert.ErrorIs(t, err, gateway.ErrSignature)
}

func TestCheckoutURLs(t *testing.T) {
	p := &payment.Payment{Key: "abc"}

	tests := []struct {
		g    gateway.Gateway
		want string
	}{
		{gateway.NewStripe(stripeSecret), "https://checkout.stripe.com/pay/abc"},
		{gateway.NewIyzico("s", ""), "https://sandbox-api.iyzipay.com/payment/form/abc"},
		{gateway.NewPayTR("k", "s"), "https://www.paytr.com/odeme/abc"},
	}
	for _, tt := range tests {
		t.Run(string(tt.g.Provider()), func(t *testing.T) {
			got, err := tt.g.CheckoutURL(p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := gateway.NewStripe(stripeSecret).CheckoutURL(&payment.Payment{})
	assert.ErrorIs(t, err, gateway.ErrMalformed)
}

func TestRegistry(t *testing.T) {
	r := gateway.NewRegistry(gateway.NewStripe(stripeSecret), gateway.NewPayTR("k", "s"))

	g, err := r.Get(payment.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, g.Provider())

	_, err = r.Get(payment.ProviderIyzico)
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)

	assert.Equal(t, []payment.Provider{payment.ProviderPayTR, payment.ProviderStripe}, r.Providers())
}
