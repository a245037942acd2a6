package models

import (
	"strings"
	"time"
)

const (
	PromoKindFreeSubscription = "free_subscription"
	PromoKindDiscountPercent  = "discount_percent"
)

// PromoCode is a named grant definition. Exactly one of FreeMonths/PercentOff
// is populated, matching Kind.
type PromoCode struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	Code                     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Kind                     string     `gorm:"type:varchar(32);not null" json:"kind"`
	FreeMonths               int        `gorm:"not null;default:0" json:"free_months,omitempty"`
	PercentOff               int        `gorm:"not null;default:0" json:"percent_off,omitempty"`
	Active                   bool       `gorm:"not null;default:true;index" json:"active"`
	MaxRedemptionsPerAccount int        `gorm:"not null;default:1" json:"max_redemptions_per_account"`
	ValidFrom                *time.Time `gorm:"type:timestamp;default:null" json:"valid_from,omitempty"`
	ValidUntil               *time.Time `gorm:"type:timestamp;default:null" json:"valid_until,omitempty"`
	ValidationCount          int64      `gorm:"not null;default:0" json:"validation_count"`
	RedemptionCount          int64      `gorm:"not null;default:0" json:"redemption_count"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NormalizePromoCode canonicalizes user input for case-insensitive matching.
func NormalizePromoCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidAt reports whether the code's validity window covers the given time.
func (p *PromoCode) ValidAt(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	return true
}
