package promo

import (
	"context"

	"github.com/MarcusWeller/teachplan/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the evaluator.
type Repository interface {
	GetCode(ctx context.Context, code string) (*models.PromoCode, error)
	CountRedemptionsByAccount(ctx context.Context, code string, accountID uint) (int64, error)
	CreateRedemption(ctx context.Context, r *models.PromoRedemption) error
	GetPendingByFingerprint(ctx context.Context, code, fingerprint string) (*models.PromoRedemption, error)
	ListPendingByFingerprint(ctx context.Context, fingerprint string) ([]models.PromoRedemption, error)
	SaveRedemption(ctx context.Context, r *models.PromoRedemption) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a promo repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var pc models.PromoCode
	err := r.db.WithContext(ctx).Where("LOWER(code) = ?", models.NormalizePromoCode(code)).First(&pc).Error
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (r *gormRepository) CountRedemptionsByAccount(ctx context.Context, code string, accountID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PromoRedemption{}).
		Where("code = ? AND account_id = ?", models.NormalizePromoCode(code), accountID).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) CreateRedemption(ctx context.Context, red *models.PromoRedemption) error {
	return r.db.WithContext(ctx).Create(red).Error
}

func (r *gormRepository) GetPendingByFingerprint(ctx context.Context, code, fingerprint string) (*models.PromoRedemption, error) {
	var red models.PromoRedemption
	err := r.db.WithContext(ctx).
		Where("code = ? AND fingerprint = ? AND account_id IS NULL", models.NormalizePromoCode(code), fingerprint).
		First(&red).Error
	if err != nil {
		return nil, err
	}
	return &red, nil
}

func (r *gormRepository) ListPendingByFingerprint(ctx context.Context, fingerprint string) ([]models.PromoRedemption, error) {
	var reds []models.PromoRedemption
	err := r.db.WithContext(ctx).Where("fingerprint = ? AND account_id IS NULL", fingerprint).Find(&reds).Error
	return reds, err
}

func (r *gormRepository) SaveRedemption(ctx context.Context, red *models.PromoRedemption) error {
	return r.db.WithContext(ctx).Save(red).Error
}
