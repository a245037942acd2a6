package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusFree    = "free"
	SubscriptionStatusPremium = "premium"
)

// Account is the subscribing identity. Its subscription fields are written
// exclusively by the billing reconciler; UI code only reads them.
type Account struct {
	ID                      uint           `gorm:"primaryKey" json:"id"`
	PublicID                string         `gorm:"type:varchar(36);uniqueIndex" json:"public_id"`
	Name                    string         `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email                   string         `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Password                string         `gorm:"type:text" json:"-" validate:"required,min=6"`
	SubscriptionStatus      string         `gorm:"type:varchar(20);not null;default:'free';index" json:"subscription_status" validate:"oneof=free premium"`
	CurrentPlan             string         `gorm:"type:varchar(50);default:''" json:"current_plan"`
	ProviderCustomerRef     string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	ProviderSubscriptionRef string         `gorm:"type:varchar(191);default:''" json:"-"`
	SubscriptionEndDate     *time.Time     `gorm:"type:timestamp;default:null" json:"subscription_end_date,omitempty"`
	CreatedAt               time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// CreateAccount builds a new free account with a hashed password. The caller
// persists it.
func CreateAccount(name, email, password string) (*Account, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	a := &Account{
		PublicID:           uuid.NewString(),
		Name:               name,
		Email:              strings.ToLower(strings.TrimSpace(email)),
		Password:           pw,
		SubscriptionStatus: SubscriptionStatusFree,
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	return a, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}
