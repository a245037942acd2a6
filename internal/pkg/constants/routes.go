package constants

// Static route constants
const (
	PaymentWebhookRoute = "/webhooks/payments"
	APIRoute            = "/api"

	PromoValidateRoute = "/promo/validate"
	PromoApplyRoute    = "/promo/apply"

	AccountsRoute           = "/accounts"
	AccountEntitlementRoute = "/accounts/:id/entitlement"

	EventReplayRoute = "/events/:id/replay"
)
