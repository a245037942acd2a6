package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MarcusWeller/teachplan/internal/pkg/cache"
	"github.com/MarcusWeller/teachplan/internal/pkg/database"
	"github.com/MarcusWeller/teachplan/internal/pkg/env"
	"github.com/MarcusWeller/teachplan/internal/pkg/metrics/counter"
	"github.com/MarcusWeller/teachplan/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// drain promo usage counters into the database in the background
	counter.StartFlushLoop(env.GetEnvDuration("PROMO_COUNTER_FLUSH_INTERVAL", 5*time.Minute))

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "teachplan",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
