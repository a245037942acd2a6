package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"github.com/MarcusWeller/teachplan/internal/pkg/billing"
	"github.com/MarcusWeller/teachplan/internal/pkg/cache"
	"github.com/MarcusWeller/teachplan/internal/pkg/database"
	"github.com/MarcusWeller/teachplan/internal/pkg/entitlements"
	"github.com/MarcusWeller/teachplan/internal/pkg/env"
	"github.com/MarcusWeller/teachplan/internal/pkg/metrics/counter"
	"github.com/MarcusWeller/teachplan/internal/pkg/promo"
	"github.com/MarcusWeller/teachplan/internal/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// promoLimiter is chosen once at process start; the redis backend keeps
// independent instances agreeing on one counter per key.
var promoLimiter *ratelimit.Limiter

// InitializePromoController selects the limiter backend from the environment.
func InitializePromoController() {
	switch env.GetEnv("RATE_LIMIT_BACKEND", "memory") {
	case "redis":
		promoLimiter = ratelimit.New(ratelimit.NewRedisStore(cache.GetClient()))
	default:
		promoLimiter = ratelimit.New(ratelimit.NewMemoryStore())
	}
}

type promoRequest struct {
	Code        string `json:"code" validate:"required,min=1,max=64"`
	OrderAmount int64  `json:"order_amount" validate:"min=0"`
	AccountID   string `json:"account_id" validate:"omitempty,max=36"`
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=128"`
}

func parsePromoRequest(c *fiber.Ctx) (*promoRequest, error) {
	var req promoRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// guardPromoRate applies the limiter and writes the 429 response itself when
// the caller is over budget. It returns false when the request must stop.
func guardPromoRate(c *fiber.Ctx, req *promoRequest) bool {
	if promoLimiter == nil {
		InitializePromoController()
	}
	limit := int64(env.GetEnvInt("PROMO_RATE_LIMIT", 10))
	window := env.GetEnvDuration("PROMO_RATE_WINDOW", time.Minute)

	res, err := promoLimiter.CheckAndConsume(c.Context(), rateLimitKey(req.AccountID, req.Fingerprint, c), limit, window)
	if err != nil {
		log.Errorf("promo rate limiter unavailable: %v", err)
		_ = c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		return false
	}
	if !res.Allowed {
		_ = c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":    "rate_limited",
			"reset_at": res.ResetAt.UTC().Format(time.RFC3339),
		})
		return false
	}
	return true
}

// promoContextFor translates the request's optional public account id into an
// evaluator context. An unknown account id is reported, not guessed around.
func promoContextFor(ctx context.Context, req *promoRequest) (promo.Context, *uint, error) {
	pctx := promo.Context{Fingerprint: req.Fingerprint, OrderAmount: req.OrderAmount}
	if req.AccountID == "" {
		return pctx, nil, nil
	}
	account, err := billing.NewRepository(database.GetDB()).GetAccountByPublicID(ctx, req.AccountID)
	if err != nil {
		return pctx, nil, err
	}
	pctx.AccountID = &account.ID
	return pctx, &account.ID, nil
}

func promoFailureReason(err error) (int, string) {
	switch {
	case errors.Is(err, promo.ErrNotFound):
		return fiber.StatusOK, "not_found"
	case errors.Is(err, promo.ErrExpired):
		return fiber.StatusOK, "expired"
	case errors.Is(err, promo.ErrAlreadyRedeemed):
		return fiber.StatusOK, "already_redeemed"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

// HandlePromoValidate is the read-only eligibility check used by the front
// end before checkout.
func HandlePromoValidate(c *fiber.Ctx) error {
	req, err := parsePromoRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if !guardPromoRate(c, req) {
		return nil
	}

	pctx, _, err := promoContextFor(c.Context(), req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	evaluator := promo.NewEvaluatorFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mod, err := evaluator.Evaluate(ctx, req.Code, pctx)
	if err != nil {
		status, reason := promoFailureReason(err)
		if status != fiber.StatusOK {
			log.Errorf("promo evaluation failed for %s: %v", req.Code, err)
			return c.Status(status).JSON(fiber.Map{"error": reason})
		}
		return c.JSON(fiber.Map{"valid": false, "reason": reason})
	}

	if cerr := counter.AddPromoValidation(models.NormalizePromoCode(req.Code)); cerr != nil {
		log.Warnf("promo validation counter not recorded: %v", cerr)
	}
	return c.JSON(fiber.Map{"valid": true, "modification": mod})
}

// HandlePromoApply records a redemption. Known accounts with a trial code get
// the grant immediately through the reconciler; anonymous callers get a
// pending redemption keyed by fingerprint, since there is no account to
// mutate yet.
func HandlePromoApply(c *fiber.Ctx) error {
	req, err := parsePromoRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	if req.AccountID == "" && req.Fingerprint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "fingerprint_required"})
	}
	if !guardPromoRate(c, req) {
		return nil
	}

	pctx, accountID, err := promoContextFor(c.Context(), req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	db := database.GetDB()
	evaluator := promo.NewEvaluatorFromDB(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	red, mod, err := evaluator.Apply(ctx, req.Code, pctx)
	if err != nil {
		status, reason := promoFailureReason(err)
		if status != fiber.StatusOK {
			log.Errorf("promo apply failed for %s: %v", req.Code, err)
			return c.Status(status).JSON(fiber.Map{"error": reason})
		}
		return c.JSON(fiber.Map{"applied": false, "reason": reason})
	}

	if cerr := counter.AddPromoRedemption(models.NormalizePromoCode(req.Code)); cerr != nil {
		log.Warnf("promo redemption counter not recorded: %v", cerr)
	}

	if accountID == nil {
		return c.JSON(fiber.Map{
			"applied":        false,
			"pending":        true,
			"redemption_ref": red.ID,
		})
	}

	svc := billing.NewReconcilerFromDB(db)
	if mod.Type == promo.ModTrialExtension && mod.Months > 0 {
		account, err := svc.GrantTrial(ctx, *accountID, mod.Months)
		if err != nil {
			log.Errorf("trial grant failed for account %d: %v", *accountID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "grant_failed"})
		}
		return c.JSON(fiber.Map{
			"applied":      true,
			"subscription": entitlements.SnapshotFor(account, time.Now()),
		})
	}

	// Discount codes take effect on the payment event; only the redemption
	// is recorded here.
	account, err := billing.NewRepository(db).GetAccountByID(ctx, *accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}
	return c.JSON(fiber.Map{
		"applied":      true,
		"modification": mod,
		"subscription": entitlements.SnapshotFor(account, time.Now()),
	})
}
