package router

import (
	"github.com/MarcusWeller/teachplan/app/controllers"
	"github.com/MarcusWeller/teachplan/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize promo controller with its rate limiter backend
	controllers.InitializePromoController()

	// Provider webhooks live outside /api: they are authenticated by
	// signature, not rate limited, and need the raw request body.
	app.Post(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
