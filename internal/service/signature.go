package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ExpectedSignature is the checkout signature the gateway issues for a
// payment: hex HMAC-SHA256 of "<gateway order id>|<payment id>".
func ExpectedSignature(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the checkout signature.
func VerifySignature(secret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	return equalHex(ExpectedSignature(secret, gatewayOrderID, gatewayPaymentID), signature)
}

// VerifyWebhookSignature checks the signature header of a webhook body
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return equalHex(hex.EncodeToString(mac.Sum(nil)), signature)
}

func equalHex(expected, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
