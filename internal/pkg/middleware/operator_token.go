package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/MarcusWeller/teachplan/internal/pkg/env"
)

// OperatorTokenMiddleware authenticates operator requests carrying the shared
// operator token header. A server with no token configured refuses all
// operator requests instead of becoming open.
func OperatorTokenMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := env.GetEnv("OPERATOR_TOKEN", "")
		if expected == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Operator access disabled"})
		}

		token := extractOperatorToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing operator token"})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid operator token"})
		}

		return c.Next()
	}
}

func extractOperatorToken(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Operator-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
