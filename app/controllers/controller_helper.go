package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP determines the actual client IP address considering proxies.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	xffList := strings.Split(c.Get("X-Forwarded-For"), ",")
	if len(xffList) > 0 {
		if ip := strings.TrimSpace(xffList[0]); ip != "" {
			return ip
		}
	}
	return c.IP()
}

// rateLimitKey picks the strongest identity available for limiter buckets:
// account, then client fingerprint, then network origin.
func rateLimitKey(accountID, fingerprint string, c *fiber.Ctx) string {
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		return "account:" + accountID
	}
	if fingerprint = strings.TrimSpace(fingerprint); fingerprint != "" {
		return "fp:" + fingerprint
	}
	return "ip:" + GetClientIP(c)
}
