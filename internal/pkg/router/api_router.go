package router

import (
	"strings"
	"time"

	"github.com/MarcusWeller/teachplan/app/controllers"
	"github.com/MarcusWeller/teachplan/internal/pkg/constants"
	"github.com/MarcusWeller/teachplan/internal/pkg/env"
	"github.com/MarcusWeller/teachplan/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(apiLimiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")

	v1.Post(constants.PromoValidateRoute, controllers.HandlePromoValidate)
	v1.Post(constants.PromoApplyRoute, controllers.HandlePromoApply)

	v1.Post(constants.AccountsRoute, controllers.HandleAccountCreate)
	v1.Get(constants.AccountEntitlementRoute, controllers.HandleAccountEntitlement)

	v1.Post(constants.EventReplayRoute, middleware.OperatorTokenMiddleware(), controllers.HandlePaymentEventReplay)
}

// apiLimiterConfig builds the coarse per-IP limiter in front of /api. Redis
// storage keeps the counters shared between instances; without it the
// limiter falls back to in-process memory.
func apiLimiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: env.GetEnvDuration("API_RATE_WINDOW", 1*time.Minute),
	}

	if strings.EqualFold(env.GetEnv("RATE_LIMIT_BACKEND", ""), "redis") {
		cfg.Storage = redis.New(redis.Config{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnvInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			Database: env.GetEnvInt("CACHE_DB", 0),
		})
	}

	return cfg
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
