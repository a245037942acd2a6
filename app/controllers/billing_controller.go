package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/internal/pkg/billing"
	"github.com/MarcusWeller/teachplan/internal/pkg/database"
	"github.com/MarcusWeller/teachplan/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	webhookSignatureHeader = "Stripe-Signature"
	webhookRetryAttempts   = 3
	webhookRetryBackoff    = 200 * time.Millisecond
)

// HandlePaymentWebhook receives provider webhooks. The payload is normalized
// strictly at this boundary; the reconciler only ever sees well-formed
// events. Transient store failures are retried with bounded backoff before
// answering, because a non-2xx here is what drives provider redelivery.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(webhookSignatureHeader))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	ev, err := billing.NormalizePaymentEvent(rawBody)
	if err != nil {
		if errors.Is(err, billing.ErrIgnoredEvent) {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		}
		log.Warnf("rejecting malformed payment webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := billing.NewReconcilerFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !billing.VerifyPaymentWebhookSignature(rawBody, signature, secret) {
		if _, err := svc.RecordRejected(ctx, ev, "invalid webhook signature"); err != nil {
			log.Errorf("could not record rejected event %s: %v", ev.EventID, err)
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	ev.SignatureValid = true

	var outcome *billing.Outcome
	for attempt := 0; attempt < webhookRetryAttempts; attempt++ {
		outcome, err = svc.Process(ctx, ev)
		if err == nil || !errors.Is(err, billing.ErrStoreUnavailable) {
			break
		}
		time.Sleep(webhookRetryBackoff << attempt)
	}
	if err != nil {
		log.Errorf("payment event %s not persisted: %v", ev.EventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	if outcome.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	// Resolution failures are acknowledged so the provider keeps the event
	// available; operators replay after correcting the data.
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "status": outcome.Status})
}

// HandlePaymentEventReplay re-runs a failed ledger event after operator data
// correction. The route is guarded by the operator token middleware.
func HandlePaymentEventReplay(c *fiber.Ctx) error {
	eventID := strings.TrimSpace(c.Params("id"))
	if eventID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event_id_required"})
	}

	svc := billing.NewReconcilerFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := svc.Replay(ctx, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_found"})
		}
		log.Errorf("replay of event %s failed: %v", eventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "replay_failed"})
	}
	return c.JSON(outcome)
}
