package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string) {
	t.Helper()
	content := `
providers:
  - name: primary
    kind: twilio
    account_sid: AC123
    auth_token_env: TWILIO_AUTH_TOKEN
    from_number: "+15005550006"
  - name: secondary
    kind: vonage
    from_number: "+15005550007"
provider_preference: [primary, secondary]
digit_profiles:
  - name: verification
    max_retries: 4
queue:
  worker_count: 2
retention:
  call_retention_days: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tarsy-voice.yaml"), []byte(content), 0o644))
}

func TestInitialize_MergesOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	t.Setenv("DTMF_ENCRYPTION_KEY", "dGVzdC1rZXktdGVzdC1rZXktdGVzdC1rZXkh")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	require.Equal(t, []string{"primary", "secondary"}, cfg.ProviderRegistry.Preference())
	require.True(t, cfg.ProviderRegistry.FailoverEnabled())

	primary, err := cfg.ProviderRegistry.Get("primary")
	require.NoError(t, err)
	require.Equal(t, "twilio", primary.Kind)
	require.Equal(t, "strict", primary.WebhookValidation)

	verification, err := cfg.DigitProfileRegistry.Get("verification")
	require.NoError(t, err)
	require.Equal(t, 4, verification.MaxRetries)
	require.Equal(t, 4, verification.MinLen, "unrelated fields keep their built-in default")

	require.Equal(t, 2, cfg.Queue.WorkerCount)
	require.Equal(t, 30, cfg.Retention.CallRetentionDays)
}

func TestInitialize_RejectsMissingEncryptionKeyInSafeMode(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	t.Setenv("DTMF_ENCRYPTION_KEY", "")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitialize_RejectsMissingProviders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tarsy-voice.yaml"), []byte("providers: []\n"), 0o644))
	t.Setenv("DTMF_ENCRYPTION_KEY", "dGVzdC1rZXktdGVzdC1rZXktdGVzdC1rZXkh")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}
