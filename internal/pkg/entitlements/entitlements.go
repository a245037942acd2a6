package entitlements

import (
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
)

type Status string

const (
	StatusFree    Status = "free"
	StatusPremium Status = "premium"
)

// Snapshot is the read-only entitlement projection exposed to the front end.
// It never carries internal provider references.
type Snapshot struct {
	AccountID           string     `json:"account_id"`
	SubscriptionStatus  string     `json:"subscription_status"`
	CurrentPlan         string     `json:"current_plan,omitempty"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

// IsEntitled reports whether the account counts as premium at the given time.
// A premium row with an elapsed end date is not entitled, regardless of what
// the status column says.
func IsEntitled(a *models.Account, now time.Time) bool {
	if a == nil || a.SubscriptionStatus != models.SubscriptionStatusPremium {
		return false
	}
	if a.SubscriptionEndDate != nil && !a.SubscriptionEndDate.After(now) {
		return false
	}
	return true
}

// SnapshotFor projects an account into its public entitlement view, applying
// the expiry guard so a stale premium row reads back as free.
func SnapshotFor(a *models.Account, now time.Time) Snapshot {
	s := Snapshot{
		AccountID:          a.PublicID,
		SubscriptionStatus: string(StatusFree),
	}
	if IsEntitled(a, now) {
		s.SubscriptionStatus = string(StatusPremium)
		s.CurrentPlan = a.CurrentPlan
		s.SubscriptionEndDate = a.SubscriptionEndDate
	}
	return s
}
