package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"github.com/MarcusWeller/teachplan/internal/pkg/env"
	"github.com/MarcusWeller/teachplan/internal/pkg/promo"
	"github.com/MarcusWeller/teachplan/internal/pkg/syncutil"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// accountLocks serializes transitions per account across all reconciler
// instances in this process.
var accountLocks = syncutil.NewKeyedMutex()

// PromoApplier records promo redemptions. Satisfied by *promo.Evaluator.
type PromoApplier interface {
	Apply(ctx context.Context, code string, pctx promo.Context) (*models.PromoRedemption, *promo.Modification, error)
}

// Reconciler consumes normalized payment events and applies idempotent state
// transitions to the resolved account. Every transition is a function of
// current persisted state plus the event, never of an assumed prior event.
type Reconciler struct {
	repo     Repository
	resolver *Resolver
	promos   PromoApplier
	timeout  time.Duration
	now      func() time.Time
}

func NewReconciler(repo Repository, promos PromoApplier) *Reconciler {
	return &Reconciler{
		repo:     repo,
		resolver: NewResolver(repo),
		promos:   promos,
		timeout:  env.GetEnvDuration("RECONCILER_TIMEOUT", 10*time.Second),
		now:      time.Now,
	}
}

// NewReconcilerFromDB creates a reconciler from a GORM DB handle.
func NewReconcilerFromDB(db *gorm.DB) *Reconciler {
	return NewReconciler(NewRepository(db), promo.NewEvaluatorFromDB(db))
}

// Process records the event in the ledger and applies its transition. A
// redelivered event id short-circuits to the previously recorded outcome
// only when that outcome is terminal (processed or failed); unprocessed rows
// mean an earlier attempt died mid-flight, so redelivery runs the transition
// again. Rejected rows are reprocessed once a signature-valid delivery of
// the same id arrives, so a forged unsigned request cannot occupy a genuine
// event's slot. A returned error always wraps ErrStoreUnavailable and leaves
// the ledger row retriable; resolution failures return a nil error with a
// failed outcome instead.
func (r *Reconciler) Process(ctx context.Context, ev *PaymentEvent) (*Outcome, error) {
	if ev == nil || strings.TrimSpace(ev.EventID) == "" {
		return nil, errors.New("event id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec := &models.PaymentEventRecord{
		EventID:        ev.EventID,
		EventKind:      string(ev.Kind),
		Status:         models.EventStatusUnprocessed,
		PayloadJSON:    ev.RawPayload,
		SignatureValid: ev.SignatureValid,
	}
	created, stored, err := r.repo.CreateEventRecordIfNotExists(ctx, rec)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	if !created {
		switch {
		case stored.Status == models.EventStatusUnprocessed:
			// Previous attempt never finished; the transition has not been
			// applied yet.
		case stored.Status == models.EventStatusRejected && ev.SignatureValid:
			// The slot was taken by an unauthenticated delivery. The
			// authentic payload replaces it.
			stored.EventKind = string(ev.Kind)
			stored.PayloadJSON = ev.RawPayload
			stored.SignatureValid = true
			stored.ProcessingError = ""
		default:
			return outcomeFromRecord(stored, true), nil
		}
	}

	return r.processRecord(ctx, ev, stored)
}

// RecordRejected stores a rejected ledger row for an event the caller
// refused to process, typically on signature verification failure. The row
// is an audit trail only: a later signature-valid delivery of the same id is
// still processed normally.
func (r *Reconciler) RecordRejected(ctx context.Context, ev *PaymentEvent, reason string) (*Outcome, error) {
	if ev == nil || strings.TrimSpace(ev.EventID) == "" {
		return nil, errors.New("event id is required")
	}

	now := r.now()
	rec := &models.PaymentEventRecord{
		EventID:         ev.EventID,
		EventKind:       string(ev.Kind),
		Status:          models.EventStatusRejected,
		PayloadJSON:     ev.RawPayload,
		SignatureValid:  false,
		ProcessingError: reason,
		ProcessedAt:     &now,
	}
	created, stored, err := r.repo.CreateEventRecordIfNotExists(ctx, rec)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return outcomeFromRecord(stored, !created), nil
}

// Replay re-runs a failed event after operator data correction.
func (r *Reconciler) Replay(ctx context.Context, eventID string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.repo.GetEventRecord(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, storeUnavailable(err)
	}
	if rec.Status == models.EventStatusProcessed {
		return outcomeFromRecord(rec, true), nil
	}

	ev, err := NormalizePaymentEvent([]byte(rec.PayloadJSON))
	if err != nil {
		return nil, err
	}
	ev.SignatureValid = rec.SignatureValid

	return r.processRecord(ctx, ev, rec)
}

// GrantTrial is the write path for account-bound free-subscription promo
// flows with no payment event behind them. Account subscription fields stay
// write-owned by the reconciler this way.
func (r *Reconciler) GrantTrial(ctx context.Context, accountID uint, months int) (*models.Account, error) {
	if months <= 0 {
		return nil, errors.New("trial months must be positive")
	}

	unlock := accountLocks.Lock(accountID)
	defer unlock()

	account, err := r.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeUnavailable(err)
	}

	r.extendTrial(account, months)
	if err := r.repo.SaveAccount(ctx, account); err != nil {
		return nil, storeUnavailable(err)
	}
	return account, nil
}

func (r *Reconciler) processRecord(ctx context.Context, ev *PaymentEvent, rec *models.PaymentEventRecord) (*Outcome, error) {
	account, err := r.resolver.Resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAmbiguousMatch) {
			// Terminal for this event: retrying cannot self-heal. Logged with
			// the full payload for operator follow-up and left replayable.
			log.Errorf("payment event %s unresolvable: %v payload=%s", ev.EventID, err, ev.RawPayload)
			now := r.now()
			rec.Status = models.EventStatusFailed
			rec.ProcessingError = err.Error()
			rec.ProcessedAt = &now
			if uerr := r.repo.UpdateEventRecord(ctx, rec); uerr != nil {
				return nil, storeUnavailable(uerr)
			}
			return outcomeFromRecord(rec, false), nil
		}
		return nil, err
	}

	unlock := accountLocks.Lock(account.ID)
	defer unlock()

	// Re-read inside the lock so the transition sees current state.
	account, err = r.repo.GetAccountByID(ctx, account.ID)
	if err != nil {
		return nil, storeUnavailable(err)
	}

	r.applyTransition(account, ev)

	now := r.now()
	rec.Status = models.EventStatusProcessed
	rec.AccountID = &account.ID
	rec.ResultStatus = account.SubscriptionStatus
	rec.ResultPlan = account.CurrentPlan
	rec.ProcessingError = ""
	rec.ProcessedAt = &now
	if err := r.repo.FinalizeEvent(ctx, account, rec); err != nil {
		return nil, storeUnavailable(err)
	}

	// Redemption is recorded after the transition and never rolls it back:
	// premium-without-recorded-redemption is the safe direction to fail into.
	if code := strings.TrimSpace(ev.PromoCode); code != "" && r.promos != nil {
		r.applyPromo(ctx, account, code, ev.OrderAmount)
		if rec.ResultStatus != account.SubscriptionStatus || rec.ResultPlan != account.CurrentPlan {
			rec.ResultStatus = account.SubscriptionStatus
			rec.ResultPlan = account.CurrentPlan
			if uerr := r.repo.UpdateEventRecord(ctx, rec); uerr != nil {
				log.Warnf("ledger result refresh for event %s not persisted: %v", rec.EventID, uerr)
			}
		}
	}

	return outcomeFromRecord(rec, false), nil
}

func (r *Reconciler) applyTransition(account *models.Account, ev *PaymentEvent) {
	switch ev.Kind {
	case EventCheckoutCompleted, EventSubscriptionCreated:
		// SubscriptionCreated confirms/backfills what CheckoutCompleted may
		// already have done; both target the same state.
		account.SubscriptionStatus = models.SubscriptionStatusPremium
		if ev.PlanLabel != "" {
			account.CurrentPlan = ev.PlanLabel
		}
		if ev.ProviderCustomerRef != "" && account.ProviderCustomerRef == "" {
			account.ProviderCustomerRef = ev.ProviderCustomerRef
		}
		if ev.ProviderSubscriptionRef != "" {
			account.ProviderSubscriptionRef = ev.ProviderSubscriptionRef
		}
		if ev.CurrentPeriodEnd != nil {
			account.SubscriptionEndDate = ev.CurrentPeriodEnd
		}
	case EventSubscriptionUpdated:
		// Authoritative re-derivation from the provider's own lifecycle
		// state, not a relative delta.
		if providerStatusEntitles(ev.ProviderStatus) {
			account.SubscriptionStatus = models.SubscriptionStatusPremium
			if ev.PlanLabel != "" {
				account.CurrentPlan = ev.PlanLabel
			}
			if ev.ProviderSubscriptionRef != "" {
				account.ProviderSubscriptionRef = ev.ProviderSubscriptionRef
			}
			account.SubscriptionEndDate = ev.CurrentPeriodEnd
		} else {
			account.SubscriptionStatus = models.SubscriptionStatusFree
			account.CurrentPlan = ""
		}
	}

	// Never write premium with an elapsed end date.
	if account.SubscriptionStatus == models.SubscriptionStatusPremium &&
		account.SubscriptionEndDate != nil && !account.SubscriptionEndDate.After(r.now()) {
		account.SubscriptionStatus = models.SubscriptionStatusFree
		account.CurrentPlan = ""
	}
}

func (r *Reconciler) applyPromo(ctx context.Context, account *models.Account, code string, orderAmount int64) {
	_, mod, err := r.promos.Apply(ctx, code, promo.Context{AccountID: &account.ID, OrderAmount: orderAmount})
	if err != nil {
		// Non-fatal for the subscription transition.
		log.Warnf("promo %s not applied for account %d: %v", code, account.ID, err)
		return
	}

	if mod.Type == promo.ModTrialExtension && mod.Months > 0 {
		r.extendTrial(account, mod.Months)
		if err := r.repo.SaveAccount(ctx, account); err != nil {
			log.Warnf("trial extension for account %d not persisted: %v", account.ID, err)
		}
	}
}

func (r *Reconciler) extendTrial(account *models.Account, months int) {
	base := r.now()
	if account.SubscriptionEndDate != nil && account.SubscriptionEndDate.After(base) {
		base = *account.SubscriptionEndDate
	}
	end := base.AddDate(0, months, 0)
	account.SubscriptionStatus = models.SubscriptionStatusPremium
	if account.CurrentPlan == "" {
		account.CurrentPlan = "trial"
	}
	account.SubscriptionEndDate = &end
}

// providerStatusEntitles decides whether a provider-reported lifecycle state
// keeps the subscription premium. Cancellation-like states force free.
func providerStatusEntitles(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "unpaid", "incomplete_expired", "paused":
		return false
	default:
		return true
	}
}

func outcomeFromRecord(rec *models.PaymentEventRecord, duplicate bool) *Outcome {
	return &Outcome{
		EventID:            rec.EventID,
		Duplicate:          duplicate,
		Status:             rec.Status,
		SubscriptionStatus: rec.ResultStatus,
		CurrentPlan:        rec.ResultPlan,
		Error:              rec.ProcessingError,
	}
}
