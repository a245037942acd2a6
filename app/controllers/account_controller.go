package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"github.com/MarcusWeller/teachplan/internal/pkg/billing"
	"github.com/MarcusWeller/teachplan/internal/pkg/database"
	"github.com/MarcusWeller/teachplan/internal/pkg/entitlements"
	"github.com/MarcusWeller/teachplan/internal/pkg/promo"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type accountCreateRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=128"`
}

// HandleAccountCreate registers a new account. When the signup carries a
// fingerprint, pending promo redemptions recorded under it before signup are
// bound to the fresh account and their modifications applied.
func HandleAccountCreate(c *fiber.Ctx) error {
	var req accountCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request_body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed"})
	}

	account, err := models.CreateAccount(req.Name, req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	db := database.GetDB()
	if err := db.Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate entry") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_already_registered"})
		}
		log.Errorf("account creation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_create_failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if fp := strings.TrimSpace(req.Fingerprint); fp != "" {
		bindPendingRedemptions(ctx, db, account, fp)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"public_id":   account.PublicID,
		"entitlement": entitlements.SnapshotFor(account, time.Now()),
	})
}

// bindPendingRedemptions converts the fingerprint's pending redemptions and
// applies any trial extensions they carry. Failures here never fail signup.
func bindPendingRedemptions(ctx context.Context, db *gorm.DB, account *models.Account, fingerprint string) {
	mods, err := promo.NewEvaluatorFromDB(db).BindPending(ctx, account.ID, fingerprint)
	if err != nil {
		log.Warnf("binding pending redemptions for account %d failed: %v", account.ID, err)
		return
	}

	svc := billing.NewReconcilerFromDB(db)
	for _, mod := range mods {
		if mod.Type != promo.ModTrialExtension || mod.Months <= 0 {
			continue
		}
		updated, err := svc.GrantTrial(ctx, account.ID, mod.Months)
		if err != nil {
			log.Warnf("trial grant for account %d failed: %v", account.ID, err)
			continue
		}
		*account = *updated
	}
}

// HandleAccountEntitlement returns the entitlement snapshot for an account by
// its public id. The snapshot carries no provider identifiers.
func HandleAccountEntitlement(c *fiber.Ctx) error {
	publicID := strings.TrimSpace(c.Params("id"))
	if publicID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "account_id_required"})
	}

	account, err := billing.NewRepository(database.GetDB()).GetAccountByPublicID(c.Context(), publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_found"})
		}
		log.Errorf("entitlement lookup for %s failed: %v", publicID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	return c.JSON(entitlements.SnapshotFor(account, time.Now()))
}
