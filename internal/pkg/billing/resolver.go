package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcusWeller/teachplan/app/models"
	"gorm.io/gorm"
)

// Resolver maps a payment event's partial correlation data to exactly one
// account. Strategies run in strict priority order; first match wins.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve finds the account a payment event applies to. When the match came
// from a weaker strategy and the account has no provider linkage yet, the
// provider customer ref is backfilled here; this is the only place linkage is
// established.
func (r *Resolver) Resolve(ctx context.Context, ev *PaymentEvent) (*models.Account, error) {
	// 1. Previously linked provider customer, most trustworthy.
	if ref := strings.TrimSpace(ev.ProviderCustomerRef); ref != "" {
		account, err := r.repo.GetAccountByProviderCustomerRef(ctx, ref)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storeUnavailable(err)
		}
	}

	// 2. Account id from checkout session metadata.
	if hint := strings.TrimSpace(ev.AccountIDHint); hint != "" {
		account, err := r.repo.GetAccountByPublicID(ctx, hint)
		if err == nil {
			return r.backfillLinkage(ctx, account, ev)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storeUnavailable(err)
		}
	}

	// 3. Case-insensitive email match.
	if email := strings.TrimSpace(ev.EmailHint); email != "" {
		accounts, err := r.repo.FindAccountsByEmail(ctx, email)
		if err != nil {
			return nil, storeUnavailable(err)
		}
		switch len(accounts) {
		case 0:
			// fall through to not-found
		case 1:
			return r.backfillLinkage(ctx, &accounts[0], ev)
		default:
			return nil, ErrAmbiguousMatch
		}
	}

	return nil, ErrAccountNotFound
}

func (r *Resolver) backfillLinkage(ctx context.Context, account *models.Account, ev *PaymentEvent) (*models.Account, error) {
	ref := strings.TrimSpace(ev.ProviderCustomerRef)
	if ref == "" || account.ProviderCustomerRef != "" {
		return account, nil
	}
	account.ProviderCustomerRef = ref
	if err := r.repo.SaveAccount(ctx, account); err != nil {
		return nil, storeUnavailable(err)
	}
	return account, nil
}
