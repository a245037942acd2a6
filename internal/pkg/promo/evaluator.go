package promo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"github.com/MarcusWeller/teachplan/internal/pkg/syncutil"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("promo code not found")
	ErrExpired         = errors.New("promo code not valid at this time")
	ErrAlreadyRedeemed = errors.New("promo code already redeemed")
)

const (
	ModTrialExtension = "trial_extension"
	ModDiscount       = "discount"
)

// accountLocks serializes account-bound redemption writes so the per-account
// cap holds under concurrent applies of the same code.
var accountLocks = syncutil.NewKeyedMutex()

// Modification is the concrete grant a code yields for a given order.
type Modification struct {
	Type      string `json:"type"`
	Months    int    `json:"months,omitempty"`
	AmountOff int64  `json:"amount_off,omitempty"`
}

// Context carries the request data an evaluation depends on. OrderAmount is
// in minor currency units.
type Context struct {
	AccountID   *uint
	Fingerprint string
	OrderAmount int64
}

// Evaluator decides promo eligibility and records redemptions. Evaluate is
// read-only; Apply is the write path.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// NewEvaluatorFromDB creates an evaluator from a GORM DB handle.
func NewEvaluatorFromDB(db *gorm.DB) *Evaluator {
	return NewEvaluator(NewRepository(db))
}

// Evaluate determines whether code grants anything in pctx. It never writes.
func (e *Evaluator) Evaluate(ctx context.Context, code string, pctx Context) (*Modification, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrNotFound
	}

	pc, err := e.repo.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !pc.Active {
		return nil, ErrNotFound
	}
	if !pc.ValidAt(e.now()) {
		return nil, ErrExpired
	}

	if pctx.AccountID != nil {
		n, err := e.repo.CountRedemptionsByAccount(ctx, pc.Code, *pctx.AccountID)
		if err != nil {
			return nil, err
		}
		if n >= int64(pc.MaxRedemptionsPerAccount) {
			return nil, ErrAlreadyRedeemed
		}
	}

	return modificationFor(pc, pctx.OrderAmount), nil
}

// Apply evaluates and records the redemption. With a known account the row is
// bound immediately; anonymous callers get a pending fingerprint-only row
// that converts exactly once via BindPending.
func (e *Evaluator) Apply(ctx context.Context, code string, pctx Context) (*models.PromoRedemption, *Modification, error) {
	if pctx.AccountID != nil {
		// The cap check in Evaluate and the insert below must not interleave
		// for the same account.
		unlock := accountLocks.Lock(*pctx.AccountID)
		defer unlock()
	}

	mod, err := e.Evaluate(ctx, code, pctx)
	if err != nil {
		return nil, nil, err
	}

	pc, err := e.repo.GetCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	if pctx.AccountID == nil {
		if pctx.Fingerprint == "" {
			return nil, nil, ErrNotFound
		}
		// Reuse an existing pending row instead of stacking duplicates.
		if existing, err := e.repo.GetPendingByFingerprint(ctx, pc.Code, pctx.Fingerprint); err == nil {
			return existing, mod, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
	}

	now := e.now()
	red := &models.PromoRedemption{
		Code:         models.NormalizePromoCode(pc.Code),
		AccountID:    pctx.AccountID,
		Fingerprint:  pctx.Fingerprint,
		ModKind:      mod.Type,
		ModMonths:    mod.Months,
		ModAmountOff: mod.AmountOff,
	}
	if pctx.AccountID != nil {
		red.AppliedAt = &now
	}
	if err := e.repo.CreateRedemption(ctx, red); err != nil {
		return nil, nil, err
	}
	return red, mod, nil
}

// BindPending converts every pending redemption for fingerprint to the given
// account and returns the granted modifications. A row is converted at most
// once; conversions that would exceed the per-account cap are skipped.
func (e *Evaluator) BindPending(ctx context.Context, accountID uint, fingerprint string) ([]Modification, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, nil
	}

	unlock := accountLocks.Lock(accountID)
	defer unlock()

	pending, err := e.repo.ListPendingByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	var mods []Modification
	now := e.now()
	for i := range pending {
		red := &pending[i]

		pc, err := e.repo.GetCode(ctx, red.Code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		n, err := e.repo.CountRedemptionsByAccount(ctx, pc.Code, accountID)
		if err != nil {
			return nil, err
		}
		if n >= int64(pc.MaxRedemptionsPerAccount) {
			continue
		}

		red.AccountID = &accountID
		red.AppliedAt = &now
		if err := e.repo.SaveRedemption(ctx, red); err != nil {
			return nil, err
		}
		mods = append(mods, Modification{
			Type:      red.ModKind,
			Months:    red.ModMonths,
			AmountOff: red.ModAmountOff,
		})
	}
	return mods, nil
}

func modificationFor(pc *models.PromoCode, orderAmount int64) *Modification {
	switch pc.Kind {
	case models.PromoKindFreeSubscription:
		return &Modification{Type: ModTrialExtension, Months: pc.FreeMonths}
	default:
		return &Modification{Type: ModDiscount, AmountOff: PercentOff(orderAmount, pc.PercentOff)}
	}
}

// PercentOff computes a discount in minor currency units, rounding half-up.
// The rounding rule is user-facing, so it must be exact: 33% of 999 is
// 329.67, which rounds to 330.
func PercentOff(orderAmount int64, percent int) int64 {
	if orderAmount <= 0 || percent <= 0 {
		return 0
	}
	return (orderAmount*int64(percent) + 50) / 100
}
