package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const signatureTolerance = 5 * time.Minute

// VerifyPaymentWebhookSignature checks the provider's signature header of the
// form "t=<unix>,v1=<hex hmac>" where the HMAC-SHA256 is computed over
// "<unix>.<payload>". Stale timestamps outside the tolerance are rejected to
// limit replay of captured requests.
func VerifyPaymentWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	var timestamp int64
	var candidates [][]byte
	for _, part := range strings.Split(sig, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			timestamp = ts
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				continue
			}
			candidates = append(candidates, decoded)
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return false
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return true
		}
	}
	return false
}
