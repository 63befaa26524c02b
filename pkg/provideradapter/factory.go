package provideradapter

import (
	"fmt"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// New constructs the adapter implementation named by cfg.Kind.
func New(cfg config.ProviderConfig) (Adapter, error) {
	switch cfg.Kind {
	case "twilio":
		return NewTwilioAdapter(cfg), nil
	case "vonage":
		return NewVonageAdapter(cfg), nil
	case "connect":
		return NewConnectAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("provideradapter: unknown adapter kind %q", cfg.Kind)
	}
}
