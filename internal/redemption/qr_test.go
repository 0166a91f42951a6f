package redemption

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedPayload(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	payload := ExpectedPayload("tkt_1", secret)
	assert.Len(t, payload, 64) // hex sha256

	// Deterministic per (instance, secret); any change breaks the match.
	assert.Equal(t, payload, ExpectedPayload("tkt_1", secret))
	assert.NotEqual(t, payload, ExpectedPayload("tkt_2", secret))
	assert.NotEqual(t, payload, ExpectedPayload("tkt_1", []byte("another-secret")))

	assert.True(t, PayloadMatches(payload, "tkt_1", secret))
	assert.False(t, PayloadMatches(payload, "tkt_2", secret))
	assert.False(t, PayloadMatches("", "tkt_1", secret))
}

func TestGeneratePassProducesPNG(t *testing.T) {
	qr := NewQRGenerator("test-secret")

	png, err := qr.GeneratePass(Pass{InstanceID: "tkt_1", Payload: "abc"})
	assert.NoError(t, err)
	assert.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestPassEncryptionRoundTrip(t *testing.T) {
	qr := NewQRGenerator("test-secret")
	pass := Pass{InstanceID: "tkt_1", Payload: "deadbeef"}

	data, err := json.Marshal(pass)
	assert.NoError(t, err)
	encrypted, err := encryptAES(data, qr.secret)
	assert.NoError(t, err)

	decrypted, err := qr.DecryptPass(encrypted)
	assert.NoError(t, err)
	assert.Equal(t, pass, *decrypted)
}

func TestDecryptPassRejectsGarbage(t *testing.T) {
	qr := NewQRGenerator("test-secret")

	_, err := qr.DecryptPass("not-base64!!!")
	assert.Error(t, err)

	_, err = qr.DecryptPass("c2hvcnQ") // shorter than one AES block
	assert.Error(t, err)

	// A pass encrypted under a different service secret does not decode.
	other := NewQRGenerator("other-secret")
	data, _ := json.Marshal(Pass{InstanceID: "tkt_1", Payload: "abc"})
	encrypted, err := encryptAES(data, other.secret)
	assert.NoError(t, err)
	_, err = qr.DecryptPass(encrypted)
	assert.Error(t, err)
}
