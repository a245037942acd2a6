package models

import "time"

// PromoRedemption is a ledger entry, the unit of idempotency for promo
// application. AccountID is nil for pending (pre-authentication) redemptions
// keyed only by fingerprint; binding to an account happens exactly once.
type PromoRedemption struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Code         string     `gorm:"type:varchar(64);not null;index:idx_promo_redemptions_code_account,priority:1" json:"code"`
	AccountID    *uint      `gorm:"index:idx_promo_redemptions_code_account,priority:2" json:"account_id,omitempty"`
	Fingerprint  string     `gorm:"type:varchar(128);not null;default:'';index" json:"fingerprint,omitempty"`
	ModKind      string     `gorm:"type:varchar(32);not null" json:"mod_kind"`
	ModMonths    int        `gorm:"not null;default:0" json:"mod_months,omitempty"`
	ModAmountOff int64      `gorm:"not null;default:0" json:"mod_amount_off,omitempty"`
	AppliedAt    *time.Time `gorm:"type:timestamp;default:null" json:"applied_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Pending reports whether this redemption is still waiting for an account.
func (r *PromoRedemption) Pending() bool {
	return r.AccountID == nil
}
