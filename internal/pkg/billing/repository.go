package billing

import (
	"context"
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the reconciler and resolver. All
// methods honor the caller's context so the reconciler's deadline actually
// bounds the queries.
type Repository interface {
	GetAccountByID(ctx context.Context, id uint) (*models.Account, error)
	GetAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error)
	GetAccountByProviderCustomerRef(ctx context.Context, ref string) (*models.Account, error)
	FindAccountsByEmail(ctx context.Context, email string) ([]models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
	CreateEventRecordIfNotExists(ctx context.Context, rec *models.PaymentEventRecord) (bool, *models.PaymentEventRecord, error)
	GetEventRecord(ctx context.Context, eventID string) (*models.PaymentEventRecord, error)
	UpdateEventRecord(ctx context.Context, rec *models.PaymentEventRecord) error
	// FinalizeEvent writes the account state and the ledger entry in a single
	// transaction so redelivery can never observe one without the other.
	FinalizeEvent(ctx context.Context, a *models.Account, rec *models.PaymentEventRecord) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetAccountByID(ctx context.Context, id uint) (*models.Account, error) {
	var a models.Account
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) GetAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error) {
	var a models.Account
	if err := r.db.WithContext(ctx).Where("public_id = ?", publicID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) GetAccountByProviderCustomerRef(ctx context.Context, ref string) (*models.Account, error) {
	var a models.Account
	if err := r.db.WithContext(ctx).Where("provider_customer_ref = ?", ref).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *gormRepository) FindAccountsByEmail(ctx context.Context, email string) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Find(&accounts).Error
	return accounts, err
}

func (r *gormRepository) SaveAccount(ctx context.Context, a *models.Account) error {
	return r.db.WithContext(ctx).Save(a).Error
}

func (r *gormRepository) CreateEventRecordIfNotExists(ctx context.Context, rec *models.PaymentEventRecord) (bool, *models.PaymentEventRecord, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEventRecord
	if err := r.db.WithContext(ctx).Where("event_id = ?", rec.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetEventRecord(ctx context.Context, eventID string) (*models.PaymentEventRecord, error) {
	var rec models.PaymentEventRecord
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *gormRepository) UpdateEventRecord(ctx context.Context, rec *models.PaymentEventRecord) error {
	rec.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *gormRepository) FinalizeEvent(ctx context.Context, a *models.Account, rec *models.PaymentEventRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(a).Error; err != nil {
			return err
		}
		return tx.Save(rec).Error
	})
}
