package billing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutSessionPayload(eventID, clientRef, promoCode string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"created": 1767225600,
		"data": {
			"object": {
				"id": "cs_test_1",
				"client_reference_id": %q,
				"customer": "cus_900",
				"customer_details": { "email": "buyer@example.com" },
				"subscription": "sub_900",
				"amount_total": 7990,
				"metadata": { "plan": "monthly", "promo_code": %q }
			}
		}
	}`, eventID, clientRef, promoCode)
}

func subscriptionPayload(eventID, eventType, status string, periodEnd int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"created": 1767225600,
		"data": {
			"object": {
				"id": "sub_900",
				"customer": "cus_900",
				"status": %q,
				"current_period_end": %d,
				"items": {
					"data": [
						{ "price": { "nickname": "Premium Monthly", "recurring": { "interval": "month" } } }
					]
				},
				"metadata": { "account_id": "acc-9" }
			}
		}
	}`, eventID, eventType, status, periodEnd)
}

func TestNormalizePaymentEvent_CheckoutCompleted(t *testing.T) {
	ev, err := NormalizePaymentEvent([]byte(checkoutSessionPayload("evt_100", "acc-9", "PAPERCLIP")))
	require.NoError(t, err)

	assert.Equal(t, "evt_100", ev.EventID)
	assert.Equal(t, EventCheckoutCompleted, ev.Kind)
	assert.Equal(t, "acc-9", ev.AccountIDHint)
	assert.Equal(t, "buyer@example.com", ev.EmailHint)
	assert.Equal(t, "cus_900", ev.ProviderCustomerRef)
	assert.Equal(t, "sub_900", ev.ProviderSubscriptionRef)
	assert.Equal(t, "monthly", ev.PlanLabel)
	assert.Equal(t, "PAPERCLIP", ev.PromoCode)
	assert.Equal(t, int64(7990), ev.OrderAmount)
}

func TestNormalizePaymentEvent_SubscriptionLifecycle(t *testing.T) {
	periodEnd := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).Unix()

	ev, err := NormalizePaymentEvent([]byte(subscriptionPayload("evt_101", "customer.subscription.created", "active", periodEnd)))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, ev.Kind)
	assert.Equal(t, "cus_900", ev.ProviderCustomerRef)
	assert.Equal(t, "sub_900", ev.ProviderSubscriptionRef)
	assert.Equal(t, "active", ev.ProviderStatus)
	assert.Equal(t, "monthly", ev.PlanLabel)
	require.NotNil(t, ev.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, ev.CurrentPeriodEnd.Unix())

	ev, err = NormalizePaymentEvent([]byte(subscriptionPayload("evt_102", "customer.subscription.updated", "unpaid", periodEnd)))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, ev.Kind)
	assert.Equal(t, "unpaid", ev.ProviderStatus)

	// Deletion normalizes to an updated event with canceled status.
	ev, err = NormalizePaymentEvent([]byte(subscriptionPayload("evt_103", "customer.subscription.deleted", "active", periodEnd)))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionUpdated, ev.Kind)
	assert.Equal(t, "canceled", ev.ProviderStatus)
}

func TestNormalizePaymentEvent_RejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "{"},
		{name: "missing id", payload: `{"type":"checkout.session.completed","data":{"object":{}}}`},
		{name: "missing data", payload: `{"id":"evt_1","type":"checkout.session.completed"}`},
		{name: "no correlation data", payload: `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`},
	}

	for _, tt := range tests {
		if _, err := NormalizePaymentEvent([]byte(tt.payload)); err == nil {
			t.Fatalf("%s: expected normalization to fail", tt.name)
		}
	}
}

func TestNormalizePaymentEvent_IgnoresUnhandledTypes(t *testing.T) {
	payload := `{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	_, err := NormalizePaymentEvent([]byte(payload))
	assert.ErrorIs(t, err, ErrIgnoredEvent)
}

func TestProviderStatusEntitles(t *testing.T) {
	for _, status := range []string{"active", "trialing", "past_due"} {
		if !providerStatusEntitles(status) {
			t.Fatalf("expected status %q to entitle", status)
		}
	}
	for _, status := range []string{"canceled", "unpaid", "incomplete_expired", "paused"} {
		if providerStatusEntitles(status) {
			t.Fatalf("expected status %q not to entitle", status)
		}
	}
}
