package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// NormalizePaymentEvent converts a raw provider webhook envelope into the
// normalized PaymentEvent. It is strict: malformed payloads are rejected here
// so the reconciler never branches on optional wire fields.
func NormalizePaymentEvent(payload []byte) (*PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid webhook envelope: %w", err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, errors.New("webhook envelope missing event id")
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("webhook envelope missing event data")
	}

	ev := &PaymentEvent{
		EventID:    event.ID,
		ReceivedAt: time.Now(),
		RawPayload: string(payload),
	}
	if event.Created > 0 {
		ev.ReceivedAt = time.Unix(event.Created, 0)
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		ev.Kind = EventCheckoutCompleted
		if err := normalizeCheckoutSession(event.Data.Raw, ev); err != nil {
			return nil, err
		}
	case "customer.subscription.created":
		ev.Kind = EventSubscriptionCreated
		if err := normalizeSubscription(event.Data.Raw, ev); err != nil {
			return nil, err
		}
	case "customer.subscription.updated":
		ev.Kind = EventSubscriptionUpdated
		if err := normalizeSubscription(event.Data.Raw, ev); err != nil {
			return nil, err
		}
	case "customer.subscription.deleted":
		// Deletion is re-derivation to a canceled subscription.
		ev.Kind = EventSubscriptionUpdated
		if err := normalizeSubscription(event.Data.Raw, ev); err != nil {
			return nil, err
		}
		ev.ProviderStatus = "canceled"
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredEvent, event.Type)
	}

	return ev, nil
}

func normalizeCheckoutSession(raw json.RawMessage, ev *PaymentEvent) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("invalid checkout session payload: %w", err)
	}

	ev.AccountIDHint = strings.TrimSpace(session.ClientReferenceID)
	if ev.AccountIDHint == "" {
		ev.AccountIDHint = strings.TrimSpace(session.Metadata["account_id"])
	}
	if session.CustomerDetails != nil {
		ev.EmailHint = strings.TrimSpace(session.CustomerDetails.Email)
	}
	if ev.EmailHint == "" {
		ev.EmailHint = strings.TrimSpace(session.CustomerEmail)
	}
	if session.Customer != nil {
		ev.ProviderCustomerRef = session.Customer.ID
	}
	if session.Subscription != nil {
		ev.ProviderSubscriptionRef = session.Subscription.ID
	}
	ev.PlanLabel = strings.TrimSpace(session.Metadata["plan"])
	ev.PromoCode = strings.TrimSpace(session.Metadata["promo_code"])
	ev.OrderAmount = session.AmountTotal

	if ev.ProviderCustomerRef == "" && ev.AccountIDHint == "" && ev.EmailHint == "" {
		return errors.New("checkout session carries no correlation data")
	}
	return nil
}

func normalizeSubscription(raw json.RawMessage, ev *PaymentEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("invalid subscription payload: %w", err)
	}
	if strings.TrimSpace(sub.ID) == "" {
		return errors.New("subscription payload missing id")
	}

	ev.ProviderSubscriptionRef = sub.ID
	if sub.Customer != nil {
		ev.ProviderCustomerRef = sub.Customer.ID
	}
	ev.AccountIDHint = strings.TrimSpace(sub.Metadata["account_id"])
	ev.PromoCode = strings.TrimSpace(sub.Metadata["promo_code"])
	ev.ProviderStatus = string(sub.Status)
	ev.PlanLabel = planLabelFromSubscription(&sub)
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0)
		ev.CurrentPeriodEnd = &end
	}

	if ev.ProviderCustomerRef == "" && ev.AccountIDHint == "" {
		return errors.New("subscription payload carries no correlation data")
	}
	return nil
}

// planLabelFromSubscription maps provider price data to the internal billing
// period label.
func planLabelFromSubscription(sub *stripe.Subscription) string {
	if label := strings.TrimSpace(sub.Metadata["plan"]); label != "" {
		return label
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	price := sub.Items.Data[0].Price
	if price == nil {
		return ""
	}
	if price.Recurring != nil {
		switch price.Recurring.Interval {
		case stripe.PriceRecurringIntervalMonth:
			return "monthly"
		case stripe.PriceRecurringIntervalYear:
			return "yearly"
		}
	}
	return strings.ToLower(strings.TrimSpace(price.Nickname))
}
