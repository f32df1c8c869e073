package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/types"
)

func TestCanTransition(t *testing.T) {
	all := []payment.Status{
		payment.StatusPending, payment.StatusCompleted, payment.StatusFailed,
		payment.StatusCancelled, payment.StatusRefunded,
	}
	allowed := map[[2]payment.Status]bool{
		{payment.StatusPending, payment.StatusCompleted}:   true,
		{payment.StatusPending, payment.StatusFailed}:      true,
		{payment.StatusPending, payment.StatusCancelled}:   true,
		{payment.StatusCompleted, payment.StatusRefunded}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]payment.Status{from, to}]
			assert.Equal(t, want, payment.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestEventValidate(t *testing.T) {
	ok := payment.Event{Provider: payment.ProviderStripe, PaymentKey: "k", NewStatus: payment.StatusCompleted}
	assert.NoError(t, ok.Validate())

	pending := ok
	pending.NewStatus = payment.StatusPending
	assert.Error(t, pending.Validate())

	noRef := ok
	noRef.PaymentKey = ""
	assert.Error(t, noRef.Validate())
}

func TestDedupKey(t *testing.T) {
	e := payment.Event{EventID: "evt_1", PaymentKey: "k", NewStatus: payment.StatusCompleted}
	assert.Equal(t, "evt_1", e.DedupKey())

	e.EventID = ""
	assert.Equal(t, "k:completed", e.DedupKey())
}

func TestRequestValidate(t *testing.T) {
	base := payment.Request{SubjectID: "u1", Amount: types.TRY(9900)}

	sub := base
	sub.Type = payment.TypeSubscription
	assert.Error(t, sub.Validate())
	sub.SubscriptionID = id.NewSubscriptionID()
	assert.NoError(t, sub.Validate())

	wf := base
	wf.Type = payment.TypeWorkflowPurchase
	assert.Error(t, wf.Validate())
	wf.WorkflowID = "wf-1"
	assert.NoError(t, wf.Validate())

	bad := base
	bad.Type = "gift"
	assert.Error(t, bad.Validate())

	free := base
	free.Type = payment.TypeOneTime
	free.Amount = types.TRY(0)
	assert.Error(t, free.Validate())
}
