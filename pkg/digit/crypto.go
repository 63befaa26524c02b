package digit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// Cipher encrypts/decrypts raw digit buffers at rest when
// compliance_mode=safe (§4.4). dev_insecure mode stores cleartext,
// guarded explicitly so the distinction is never accidental.
type Cipher struct {
	mode config.ComplianceMode
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewCipher loads the encryption key from the env var named by cfg,
// required whenever mode is safe.
func NewCipher(cfg *config.ComplianceConfig) (*Cipher, error) {
	if cfg.Mode == config.ComplianceDevInsecure {
		return &Cipher{mode: cfg.Mode}, nil
	}

	keyB64 := os.Getenv(cfg.EncryptionKeyEnv)
	if keyB64 == "" {
		return nil, fmt.Errorf("digit: %s must be set when compliance mode is %q", cfg.EncryptionKeyEnv, cfg.Mode)
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("digit: decode %s: %w", cfg.EncryptionKeyEnv, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("digit: init cipher: %w", err)
	}
	return &Cipher{mode: cfg.Mode, aead: aead}, nil
}

// Encrypt returns digits ready for persistence: untouched in
// dev_insecure mode, nonce-prefixed ciphertext in safe mode.
func (c *Cipher) Encrypt(digits string) ([]byte, error) {
	if c.mode == config.ComplianceDevInsecure {
		return []byte(digits), nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(digits), nil), nil
}

// Decrypt is the inverse of Encrypt. Only ever called from internal
// reconciliation/analysis code, never from a read API (§4.4).
func (c *Cipher) Decrypt(stored []byte) (string, error) {
	if c.mode == config.ComplianceDevInsecure {
		return string(stored), nil
	}
	nonceSize := c.aead.NonceSize()
	if len(stored) < nonceSize {
		return "", errors.New("digit: ciphertext shorter than nonce")
	}
	nonce, ciphertext := stored[:nonceSize], stored[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// MaskOTP implements §4.4/§9's "keep first/last, mask middle" rule: a
// 1-digit buffer is shown in full and a 2-digit buffer shows both
// digits unmasked, since neither leaves room for a masked middle.
func MaskOTP(digits string) string {
	n := len(digits)
	if n <= 2 {
		return digits
	}
	masked := make([]byte, n-2)
	for i := range masked {
		masked[i] = '*'
	}
	return string(digits[0]) + string(masked) + string(digits[n-1])
}
