package billing

import "time"

type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionCreated EventKind = "subscription_created"
	EventSubscriptionUpdated EventKind = "subscription_updated"
)

// PaymentEvent is the normalized inbound notification, decoupled from the
// provider's wire shape. It is the reconciler's only input type.
type PaymentEvent struct {
	EventID                 string
	Kind                    EventKind
	AccountIDHint           string
	EmailHint               string
	ProviderCustomerRef     string
	ProviderSubscriptionRef string
	PlanLabel               string
	PromoCode               string
	ProviderStatus          string
	CurrentPeriodEnd        *time.Time
	OrderAmount             int64
	ReceivedAt              time.Time
	RawPayload              string
	SignatureValid          bool
}

// Outcome reports what processing an event did, or previously did for a
// redelivered event.
type Outcome struct {
	EventID            string `json:"event_id"`
	Duplicate          bool   `json:"duplicate"`
	Status             string `json:"status"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	CurrentPlan        string `json:"current_plan,omitempty"`
	Error              string `json:"error,omitempty"`
}
