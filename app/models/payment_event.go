package models

import "time"

const (
	EventStatusUnprocessed = "unprocessed"
	EventStatusProcessed   = "processed"
	EventStatusFailed      = "failed"
	// EventStatusRejected marks deliveries refused before processing, e.g.
	// on signature verification failure. Unlike failed, the row never
	// blocks a later authentic delivery of the same event id.
	EventStatusRejected = "rejected"
)

// PaymentEventRecord is the processed-event ledger. The unique EventID index
// is the deduplication unit: redelivery of a processed or failed event never
// re-applies its effects, while unprocessed rows stay retriable.
type PaymentEventRecord struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventKind       string     `gorm:"type:varchar(50);not null;index" json:"event_kind"`
	Status          string     `gorm:"type:varchar(20);not null;default:'unprocessed';index" json:"status"`
	AccountID       *uint      `gorm:"index" json:"account_id,omitempty"`
	ResultStatus    string     `gorm:"type:varchar(20);default:''" json:"result_status"`
	ResultPlan      string     `gorm:"type:varchar(50);default:''" json:"result_plan"`
	PayloadJSON     string     `gorm:"type:longtext" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
