package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MarcusWeller/teachplan/app/models"
)

func premiumAccount(end *time.Time) *models.Account {
	return &models.Account{
		PublicID:            "a4f0e9d2-3f7b-4a6d-9a1e-000000000001",
		SubscriptionStatus:  models.SubscriptionStatusPremium,
		CurrentPlan:         "monthly",
		SubscriptionEndDate: end,
	}
}

func TestIsEntitled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, IsEntitled(premiumAccount(&future), now))
	assert.True(t, IsEntitled(premiumAccount(nil), now), "open-ended premium stays entitled")
	assert.False(t, IsEntitled(premiumAccount(&past), now), "elapsed end date is not entitled")
	assert.False(t, IsEntitled(premiumAccount(&now), now), "end date equal to now is not entitled")
	assert.False(t, IsEntitled(&models.Account{SubscriptionStatus: models.SubscriptionStatusFree}, now))
	assert.False(t, IsEntitled(nil, now))
}

func TestSnapshotFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	s := SnapshotFor(premiumAccount(&future), now)
	assert.Equal(t, string(StatusPremium), s.SubscriptionStatus)
	assert.Equal(t, "monthly", s.CurrentPlan)
	assert.Equal(t, &future, s.SubscriptionEndDate)
	assert.Equal(t, "a4f0e9d2-3f7b-4a6d-9a1e-000000000001", s.AccountID)
}

func TestSnapshotForExpiredReadsBackAsFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	s := SnapshotFor(premiumAccount(&past), now)
	assert.Equal(t, string(StatusFree), s.SubscriptionStatus)
	assert.Empty(t, s.CurrentPlan)
	assert.Nil(t, s.SubscriptionEndDate)
}
