package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/entitle/payment"
)

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// MetadataPaymentKey is the metadata field that links a provider object
// back to the payment record.
const MetadataPaymentKey = "payment_id"

// Stripe verifies Stripe webhook deliveries.
type Stripe struct {
	webhookSecret string
	checkoutBase  string
}

// NewStripe creates a Stripe gateway using the endpoint's signing secret.
func NewStripe(webhookSecret string) *Stripe {
	return &Stripe{
		webhookSecret: webhookSecret,
		checkoutBase:  "https://checkout.stripe.com/pay/",
	}
}

func (s *Stripe) Provider() payment.Provider { return payment.ProviderStripe }

func (s *Stripe) CheckoutURL(p *payment.Payment) (string, error) {
	if p.Key == "" {
		return "", fmt.Errorf("%w: payment key is empty", ErrMalformed)
	}
	return s.checkoutBase + p.Key, nil
}

// stripeObject covers the fields shared by payment intents and charges.
type stripeObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseEvent validates the signature and maps payment intent and refund
// events onto payment statuses.
func (s *Stripe) ParseEvent(header http.Header, payload []byte) (*payment.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(StripeSignatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	var status payment.Status
	switch string(event.Type) {
	case "payment_intent.succeeded":
		status = payment.StatusCompleted
	case "payment_intent.payment_failed":
		status = payment.StatusFailed
	case "payment_intent.canceled":
		status = payment.StatusCancelled
	case "charge.refunded":
		status = payment.StatusRefunded
	default:
		return nil, fmt.Errorf("%w: stripe %s", ErrIgnored, event.Type)
	}

	if event.Data == nil {
		return nil, fmt.Errorf("%w: stripe event has no data", ErrMalformed)
	}
	var obj stripeObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	key := obj.Metadata[MetadataPaymentKey]
	if key == "" {
		return nil, fmt.Errorf("%w: stripe object %s has no %s metadata", ErrMalformed, obj.ID, MetadataPaymentKey)
	}
	providerID := obj.ID
	if obj.PaymentIntent != "" {
		providerID = obj.PaymentIntent
	}

	return &payment.Event{
		Provider:          payment.ProviderStripe,
		EventType:         string(event.Type),
		EventID:           event.ID,
		PaymentKey:        key,
		ProviderPaymentID: providerID,
		NewStatus:         status,
		Raw:               payload,
	}, nil
}
