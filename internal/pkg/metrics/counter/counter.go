package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarcusWeller/teachplan/internal/pkg/cache"
	"github.com/MarcusWeller/teachplan/internal/pkg/database"
)

const (
	promoValidationsKey = "promo:counters:validations"
	promoRedemptionsKey = "promo:counters:redemptions"
)

// AddPromoValidation increments the pending validation counter for a promo code in Redis
func AddPromoValidation(code string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, promoValidationsKey, code, 1).Err()
}

// AddPromoRedemption increments the pending redemption counter for a promo code in Redis
func AddPromoRedemption(code string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, promoRedemptionsKey, code, 1).Err()
}

// FlushAll flushes both validation and redemption counters to the database
func FlushAll() error {
	if err := flushHashToTable(promoValidationsKey, "promo_codes", "validation_count"); err != nil {
		return err
	}
	return flushHashToTable(promoRedemptionsKey, "promo_codes", "redemption_count")
}

// StartFlushLoop periodically drains the pending counters into the database.
// Runs until the process exits.
func StartFlushLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if err := FlushAll(); err != nil {
				log.Warnf("flushing promo counters failed: %v", err)
			}
		}
	}()
}

// flushHashToTable drains a Redis hash atomically and applies batched increments
// to the promo_codes table. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		code string
		inc  int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{code: k, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].code < pairs[j].code })

	// UPDATE promo_codes SET <column> = <column> + CASE code WHEN ? THEN ? ... END WHERE code IN ( ... )
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE code ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.code, p.inc)
	}
	builder.WriteString(" END WHERE code IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.code)
	}
	builder.WriteString(")")

	db := database.GetDB()
	return db.Exec(builder.String(), args...).Error
}
