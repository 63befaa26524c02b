package digit_test

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/digit"
)

func TestCipher_SafeModeRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	t.Setenv("TEST_DTMF_KEY", base64.StdEncoding.EncodeToString(key))

	c, err := digit.NewCipher(&config.ComplianceConfig{
		Mode:             config.ComplianceSafe,
		EncryptionKeyEnv: "TEST_DTMF_KEY",
	})
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("13579")
	require.NoError(t, err)
	assert.NotEqual(t, "13579", string(ciphertext))

	plain, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "13579", plain)
}

func TestCipher_DevInsecureModeStoresCleartext(t *testing.T) {
	c, err := digit.NewCipher(&config.ComplianceConfig{Mode: config.ComplianceDevInsecure})
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("2468")
	require.NoError(t, err)
	assert.Equal(t, "2468", string(ciphertext))
}

func TestCipher_SafeModeRequiresKeyEnv(t *testing.T) {
	_, err := digit.NewCipher(&config.ComplianceConfig{
		Mode:             config.ComplianceSafe,
		EncryptionKeyEnv: "DOES_NOT_EXIST_KEY",
	})
	assert.Error(t, err)
}
