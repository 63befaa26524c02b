package config

import "time"

// DigitProfileConfig is the validation ruleset for one digit-capture
// profile (§4.4): generic, verification, card, cvv, banking.
type DigitProfileConfig struct {
	Name string `yaml:"name"`

	MinLen     int  `yaml:"min_len"`
	MaxLen     int  `yaml:"max_len"`
	Terminator byte `yaml:"terminator"` // 0 = none required

	// RequireChecksum enables profile-specific validation: Luhn for
	// "card", a numeric checksum digit for "verification" when present.
	RequireChecksum bool `yaml:"require_checksum"`

	// NeverLogCleartext marks profiles (cvv) whose digits must never be
	// written to logs, even at debug level.
	NeverLogCleartext bool `yaml:"never_log_cleartext"`

	InterDigitTimeout time.Duration `yaml:"inter_digit_timeout"`
	OverallTimeout    time.Duration `yaml:"overall_timeout"`
	MaxRetries        int           `yaml:"max_retries"`

	Prompts  []string `yaml:"reprompts"`
	Fallback string   `yaml:"fallback_message"`
}

// DigitProfileRegistry holds the built-in and configured digit profiles.
type DigitProfileRegistry struct {
	byName map[string]*DigitProfileConfig
}

// NewDigitProfileRegistry builds a profile registry.
func NewDigitProfileRegistry(profiles []*DigitProfileConfig) *DigitProfileRegistry {
	byName := make(map[string]*DigitProfileConfig, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &DigitProfileRegistry{byName: byName}
}

// Get returns a profile by name.
func (r *DigitProfileRegistry) Get(name string) (*DigitProfileConfig, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, NewValidationError("digit_profile", name, "", ErrDigitProfileNotFound)
	}
	return p, nil
}

// BuiltinDigitProfiles returns the five built-in profiles described in
// §4.4, used as defaults before any YAML overrides are merged in.
func BuiltinDigitProfiles() []*DigitProfileConfig {
	return []*DigitProfileConfig{
		{
			Name: "generic", MinLen: 1, MaxLen: 20, Terminator: '#',
			InterDigitTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second,
			MaxRetries: 2,
			Prompts: []string{
				"Please enter your digits, ending with pound.",
				"Let's try once more — slowly, then pound.",
			},
			Fallback: "I wasn't able to get that. Let's try a different way.",
		},
		{
			Name: "verification", MinLen: 4, MaxLen: 8, Terminator: '#',
			RequireChecksum:   true,
			InterDigitTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second,
			MaxRetries: 2,
			Prompts: []string{
				"Please enter your verification code, ending with pound.",
				"Let's try once more — slowly, then pound.",
			},
			Fallback: "I wasn't able to verify that code.",
		},
		{
			Name: "card", MinLen: 13, MaxLen: 19, Terminator: '#',
			RequireChecksum:   true,
			InterDigitTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second,
			MaxRetries: 2,
			Prompts: []string{
				"Please enter your card number, ending with pound.",
				"Let's try once more — slowly, then pound.",
			},
			Fallback: "I wasn't able to read that card number.",
		},
		{
			Name: "cvv", MinLen: 3, MaxLen: 4, Terminator: '#',
			NeverLogCleartext: true,
			InterDigitTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second,
			MaxRetries: 2,
			Prompts: []string{
				"Please enter your card's security code.",
				"Let's try once more, three or four digits.",
			},
			Fallback: "I wasn't able to read that security code.",
		},
		{
			Name: "banking", MinLen: 1, MaxLen: 20, Terminator: '#',
			InterDigitTimeout: 5 * time.Second, OverallTimeout: 30 * time.Second,
			MaxRetries: 2,
			Prompts: []string{
				"Please enter the requested number, ending with pound.",
				"Let's try once more — slowly, then pound.",
			},
			Fallback: "I wasn't able to get that banking detail.",
		},
	}
}
