package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcusWeller/teachplan/app/models"
	"github.com/MarcusWeller/teachplan/internal/pkg/promo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPromos records Apply calls and hands back a canned modification.
type stubPromos struct {
	mu    sync.Mutex
	calls []string
	mod   *promo.Modification
	err   error
}

func (s *stubPromos) Apply(_ context.Context, code string, pctx promo.Context) (*models.PromoRedemption, *promo.Modification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, code)
	if s.err != nil {
		return nil, nil, s.err
	}
	now := time.Now()
	return &models.PromoRedemption{
		Code:      models.NormalizePromoCode(code),
		AccountID: pctx.AccountID,
		AppliedAt: &now,
	}, s.mod, nil
}

func newTestReconciler(repo Repository, promos PromoApplier) *Reconciler {
	r := NewReconciler(repo, promos)
	r.timeout = 2 * time.Second
	return r
}

func checkoutEvent(eventID, accountHint string) *PaymentEvent {
	return &PaymentEvent{
		EventID:             eventID,
		Kind:                EventCheckoutCompleted,
		AccountIDHint:       accountHint,
		ProviderCustomerRef: "cus_100",
		PlanLabel:           "monthly",
		SignatureValid:      true,
	}
}

func TestProcess_ActivatesAccount(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	outcome, err := r.Process(context.Background(), checkoutEvent("evt_1", "acc-1"))
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.EventStatusProcessed, outcome.Status)
	assert.Equal(t, models.SubscriptionStatusPremium, outcome.SubscriptionStatus)
	assert.Equal(t, "monthly", outcome.CurrentPlan)

	account := repo.account(1)
	assert.Equal(t, models.SubscriptionStatusPremium, account.SubscriptionStatus)
	assert.Equal(t, "monthly", account.CurrentPlan)
	assert.Equal(t, "cus_100", account.ProviderCustomerRef)
}

func TestProcess_IdempotentRedelivery(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	first, err := r.Process(context.Background(), checkoutEvent("evt_dup", "acc-1"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := r.Process(context.Background(), checkoutEvent("evt_dup", "acc-1"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.SubscriptionStatus, second.SubscriptionStatus)

	// Exactly one ledger entry and unchanged account state.
	assert.Len(t, repo.records, 1)
	assert.Equal(t, models.SubscriptionStatusPremium, repo.account(1).SubscriptionStatus)
}

func TestProcess_OrderIndependence(t *testing.T) {
	makeEvents := func() []*PaymentEvent {
		end := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
		return []*PaymentEvent{
			checkoutEvent("evt_checkout", "acc-1"),
			{
				EventID:                 "evt_subcreated",
				Kind:                    EventSubscriptionCreated,
				ProviderCustomerRef:     "cus_100",
				AccountIDHint:           "acc-1",
				ProviderSubscriptionRef: "sub_1",
				PlanLabel:               "monthly",
				CurrentPeriodEnd:        &end,
			},
		}
	}

	run := func(order []int) *models.Account {
		repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
		r := newTestReconciler(repo, nil)
		events := makeEvents()
		for _, i := range order {
			_, err := r.Process(context.Background(), events[i])
			require.NoError(t, err)
		}
		return repo.account(1)
	}

	forward := run([]int{0, 1})
	reverse := run([]int{1, 0})

	assert.Equal(t, forward.SubscriptionStatus, reverse.SubscriptionStatus)
	assert.Equal(t, forward.CurrentPlan, reverse.CurrentPlan)
	assert.Equal(t, forward.ProviderSubscriptionRef, reverse.ProviderSubscriptionRef)
	assert.Equal(t, models.SubscriptionStatusPremium, forward.SubscriptionStatus)
}

func TestProcess_SubscriptionUpdatedCancellation(t *testing.T) {
	end := time.Now().AddDate(1, 0, 0)
	premium := freeAccount(1, "acc-1", "a@example.com")
	premium.SubscriptionStatus = models.SubscriptionStatusPremium
	premium.CurrentPlan = "monthly"
	premium.ProviderCustomerRef = "cus_100"
	premium.SubscriptionEndDate = &end
	repo := newFakeRepo(premium)
	r := newTestReconciler(repo, nil)

	outcome, err := r.Process(context.Background(), &PaymentEvent{
		EventID:             "evt_cancel",
		Kind:                EventSubscriptionUpdated,
		ProviderCustomerRef: "cus_100",
		ProviderStatus:      "canceled",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusFree, outcome.SubscriptionStatus)

	account := repo.account(1)
	assert.Equal(t, models.SubscriptionStatusFree, account.SubscriptionStatus)
	assert.Empty(t, account.CurrentPlan)
}

func TestProcess_ExpiryGuard(t *testing.T) {
	past := time.Now().AddDate(0, 0, -1)
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	// An update whose period already elapsed must not leave premium behind.
	outcome, err := r.Process(context.Background(), &PaymentEvent{
		EventID:             "evt_stale",
		Kind:                EventSubscriptionUpdated,
		ProviderCustomerRef: "",
		AccountIDHint:       "acc-1",
		ProviderStatus:      "active",
		PlanLabel:           "monthly",
		CurrentPeriodEnd:    &past,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusFree, outcome.SubscriptionStatus)
	assert.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)
}

func TestProcess_PromoScenario(t *testing.T) {
	// Code PAPERCLIP, free month, attached to a completed checkout.
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	promos := &stubPromos{mod: &promo.Modification{Type: promo.ModTrialExtension, Months: 1}}
	r := newTestReconciler(repo, promos)

	ev := checkoutEvent("evt_promo", "acc-1")
	ev.PromoCode = "PAPERCLIP"

	outcome, err := r.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPremium, outcome.SubscriptionStatus)
	assert.Equal(t, "monthly", outcome.CurrentPlan)
	assert.Equal(t, []string{"PAPERCLIP"}, promos.calls)

	account := repo.account(1)
	require.NotNil(t, account.SubscriptionEndDate)
	assert.True(t, account.SubscriptionEndDate.After(time.Now().AddDate(0, 0, 27)))
	assert.Len(t, repo.records, 1)
}

func TestProcess_PromoFailureDoesNotRollBackActivation(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	promos := &stubPromos{err: promo.ErrAlreadyRedeemed}
	r := newTestReconciler(repo, promos)

	ev := checkoutEvent("evt_promo_fail", "acc-1")
	ev.PromoCode = "PAPERCLIP"

	outcome, err := r.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.Status)
	assert.Equal(t, models.SubscriptionStatusPremium, repo.account(1).SubscriptionStatus)
}

func TestProcess_UnresolvableEventMarkedFailed(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReconciler(repo, nil)

	outcome, err := r.Process(context.Background(), &PaymentEvent{
		EventID:   "evt_lost",
		Kind:      EventCheckoutCompleted,
		EmailHint: "missing@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, outcome.Status)

	rec := repo.record("evt_lost")
	require.NotNil(t, rec)
	assert.Equal(t, models.EventStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.ProcessingError)
	assert.Empty(t, repo.accounts)
}

func TestProcess_StoreFailureLeavesEventUnprocessed(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	ev := checkoutEvent("evt_flaky", "acc-1")
	created, stored, err := repo.CreateEventRecordIfNotExists(context.Background(), &models.PaymentEventRecord{
		EventID:   ev.EventID,
		EventKind: string(ev.Kind),
		Status:    models.EventStatusUnprocessed,
	})
	require.NoError(t, err)
	require.True(t, created)

	repo.failing = true
	_, err = r.processRecord(context.Background(), ev, stored)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	repo.failing = false
	rec := repo.record("evt_flaky")
	assert.Equal(t, models.EventStatusUnprocessed, rec.Status)
	assert.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)
}

func TestReplay_FailedEventAfterCorrection(t *testing.T) {
	repo := newFakeRepo()
	r := newTestReconciler(repo, nil)

	payload := checkoutSessionPayload("evt_replay", "acc-9", "")
	ev, err := NormalizePaymentEvent([]byte(payload))
	require.NoError(t, err)

	outcome, err := r.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, models.EventStatusFailed, outcome.Status)

	// Operator creates the missing account, then replays.
	require.NoError(t, repo.SaveAccount(context.Background(), freeAccount(9, "acc-9", "nine@example.com")))

	outcome, err = r.Replay(context.Background(), ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusProcessed, outcome.Status)
	assert.Equal(t, models.SubscriptionStatusPremium, repo.account(9).SubscriptionStatus)
}

func TestProcess_ConcurrentEventsSameAccount(t *testing.T) {
	end := time.Now().AddDate(0, 1, 0).Truncate(time.Second)
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	events := []*PaymentEvent{
		checkoutEvent("evt_c1", "acc-1"),
		{
			EventID:                 "evt_c2",
			Kind:                    EventSubscriptionCreated,
			ProviderCustomerRef:     "cus_100",
			AccountIDHint:           "acc-1",
			ProviderSubscriptionRef: "sub_1",
			PlanLabel:               "monthly",
			CurrentPeriodEnd:        &end,
		},
	}

	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Add(1)
		go func(ev *PaymentEvent) {
			defer wg.Done()
			_, err := r.Process(context.Background(), ev)
			assert.NoError(t, err)
		}(ev)
	}
	wg.Wait()

	account := repo.account(1)
	assert.Equal(t, models.SubscriptionStatusPremium, account.SubscriptionStatus)
	assert.Equal(t, "sub_1", account.ProviderSubscriptionRef)
	assert.Len(t, repo.records, 2)
}

func TestGrantTrial_ExtendsFromCurrentEnd(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	account, err := r.GrantTrial(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPremium, account.SubscriptionStatus)
	require.NotNil(t, account.SubscriptionEndDate)
	firstEnd := *account.SubscriptionEndDate

	account, err = r.GrantTrial(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, account.SubscriptionEndDate.After(firstEnd))

	_, err = r.GrantTrial(context.Background(), 999, 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRecordRejected(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	ev := checkoutEvent("evt_bad_sig", "acc-1")
	ev.SignatureValid = false
	outcome, err := r.RecordRejected(context.Background(), ev, "invalid webhook signature")
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.EventStatusRejected, outcome.Status)
	assert.Equal(t, "invalid webhook signature", outcome.Error)

	// account untouched
	assert.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)

	// redelivery returns the prior outcome, the ledger row stays unique
	outcome, err = r.RecordRejected(context.Background(), ev, "invalid webhook signature")
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
}

func TestProcess_RetriesAfterFinalizeFailure(t *testing.T) {
	// A delivery that dies between ledger creation and finalize leaves an
	// unprocessed row. The provider's redelivery must run the transition,
	// not short-circuit to a duplicate of nothing.
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	repo.failFinalize = true
	_, err := r.Process(context.Background(), checkoutEvent("evt_retry", "acc-1"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, models.EventStatusUnprocessed, repo.record("evt_retry").Status)
	require.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)

	repo.failFinalize = false
	outcome, err := r.Process(context.Background(), checkoutEvent("evt_retry", "acc-1"))
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.EventStatusProcessed, outcome.Status)
	assert.Equal(t, models.SubscriptionStatusPremium, repo.account(1).SubscriptionStatus)
	assert.Len(t, repo.records, 1)
}

func TestProcess_RejectedEventIDDoesNotBlockAuthenticDelivery(t *testing.T) {
	// A forged unsigned request must not occupy a genuine event's ledger
	// slot: the later signed delivery with the same id still activates.
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	forged := checkoutEvent("evt_contested", "acc-1")
	forged.SignatureValid = false
	forged.RawPayload = `{"forged":true}`
	_, err := r.RecordRejected(context.Background(), forged, "invalid webhook signature")
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)

	genuine := checkoutEvent("evt_contested", "acc-1")
	genuine.RawPayload = `{"id":"evt_contested"}`
	outcome, err := r.Process(context.Background(), genuine)
	require.NoError(t, err)
	assert.False(t, outcome.Duplicate)
	assert.Equal(t, models.EventStatusProcessed, outcome.Status)
	assert.Equal(t, models.SubscriptionStatusPremium, repo.account(1).SubscriptionStatus)

	rec := repo.record("evt_contested")
	assert.True(t, rec.SignatureValid)
	assert.Equal(t, genuine.RawPayload, rec.PayloadJSON)
	assert.Empty(t, rec.ProcessingError)
	assert.Len(t, repo.records, 1)
}

func TestProcess_UnsignedRedeliveryOfRejectedEventStaysRejected(t *testing.T) {
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	r := newTestReconciler(repo, nil)

	forged := checkoutEvent("evt_forged", "acc-1")
	forged.SignatureValid = false
	_, err := r.RecordRejected(context.Background(), forged, "invalid webhook signature")
	require.NoError(t, err)

	outcome, err := r.RecordRejected(context.Background(), forged, "invalid webhook signature")
	require.NoError(t, err)
	assert.True(t, outcome.Duplicate)
	assert.Equal(t, models.EventStatusRejected, repo.record("evt_forged").Status)
	assert.Equal(t, models.SubscriptionStatusFree, repo.account(1).SubscriptionStatus)
}

func TestProcess_PromoResultPersistedInLedger(t *testing.T) {
	// A checkout with no plan label plus a trial code ends on the trial
	// plan; the ledger row must record that final state, not the
	// pre-promo snapshot.
	repo := newFakeRepo(freeAccount(1, "acc-1", "a@example.com"))
	promos := &stubPromos{mod: &promo.Modification{Type: promo.ModTrialExtension, Months: 1}}
	r := newTestReconciler(repo, promos)

	ev := checkoutEvent("evt_trialplan", "acc-1")
	ev.PlanLabel = ""
	ev.PromoCode = "PAPERCLIP"

	outcome, err := r.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPremium, outcome.SubscriptionStatus)

	rec := repo.record("evt_trialplan")
	require.NotNil(t, rec)
	assert.Equal(t, models.SubscriptionStatusPremium, rec.ResultStatus)
	assert.Equal(t, "trial", rec.ResultPlan)
}
