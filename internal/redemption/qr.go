package redemption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
)

// Pass is what a gate scanner reads out of a ticket QR code.
type Pass struct {
	InstanceID string `json:"instance_id"`
	Payload    string `json:"payload"`
}

// QRGenerator renders passes as QR codes, AES-CFB encrypted under a
// service-level secret so the redemption payload is not readable off a
// screenshot.
type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

func (q *QRGenerator) GeneratePass(pass Pass) ([]byte, error) {
	data, err := json.Marshal(pass)
	if err != nil {
		return nil, err
	}
	encrypted, err := encryptAES(data, q.secret)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// DecryptPass decodes the string a scanner read from the QR image.
func (q *QRGenerator) DecryptPass(encoded string) (*Pass, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pass: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, fmt.Errorf("pass too short")
	}

	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	var pass Pass
	if err := json.Unmarshal(data, &pass); err != nil {
		return nil, fmt.Errorf("unmarshal pass: %w", err)
	}
	return &pass, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
