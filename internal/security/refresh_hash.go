package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken returns the peppered HMAC-SHA256 of a refresh token, hex
// encoded. Only this value is persisted.
func HashRefreshToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
