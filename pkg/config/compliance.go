package config

// ComplianceMode selects how raw digit captures are stored and exposed.
type ComplianceMode string

const (
	// ComplianceSafe encrypts raw digits at rest and never exposes them
	// via read APIs; only the masked OTP is queryable (§4.4).
	ComplianceSafe ComplianceMode = "safe"
	// ComplianceDevInsecure stores digits in cleartext for local
	// development; must never be selected in production.
	ComplianceDevInsecure ComplianceMode = "dev_insecure"
)

// ComplianceConfig governs digit-capture encryption and masking.
type ComplianceConfig struct {
	Mode ComplianceMode `yaml:"mode"`

	// EncryptionKeyEnv names the env var holding the 32-byte
	// chacha20poly1305 key (base64), used when Mode == safe.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`

	// MachinePolicy governs answered_by=machine handling (§9 open
	// question, resolved in DESIGN.md): hangup|continue|voicemail_drop.
	MachinePolicy string `yaml:"machine_policy"`
}

// DefaultComplianceConfig returns production-safe defaults.
func DefaultComplianceConfig() *ComplianceConfig {
	return &ComplianceConfig{
		Mode:             ComplianceSafe,
		EncryptionKeyEnv: "DTMF_ENCRYPTION_KEY",
		MachinePolicy:    "hangup",
	}
}
