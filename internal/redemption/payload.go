package redemption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ExpectedPayload derives the redemption payload for an instance: an HMAC of
// the instance id under the per-event secret. Knowing an instance id alone is
// not enough to forge a payload.
func ExpectedPayload(instanceID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(instanceID))
	return hex.EncodeToString(mac.Sum(nil))
}

// PayloadMatches compares in constant time.
func PayloadMatches(submitted, instanceID string, secret []byte) bool {
	expected := ExpectedPayload(instanceID, secret)
	return hmac.Equal([]byte(submitted), []byte(expected))
}
