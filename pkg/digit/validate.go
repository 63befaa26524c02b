package digit

import (
	"strings"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// Outcome is the result of running the acceptance rule (§4.4) against a
// raw buffer.
type Outcome struct {
	Accepted bool
	Reason   string // ok | wrong_length | invalid_checksum | bad_character | no_terminator
	Digits   string // buffer with the terminator stripped
}

const (
	ReasonOK               = "ok"
	ReasonWrongLength      = "wrong_length"
	ReasonInvalidChecksum  = "invalid_checksum"
	ReasonBadCharacter     = "bad_character"
	ReasonNoTerminator     = "no_terminator"
)

// Evaluate applies §4.4's acceptance rule: length in [min,max], the
// terminator present when the profile requires one, and the
// profile-specific validator (Luhn for card, simple checksum digit for
// verification) passing.
func Evaluate(profile *config.DigitProfileConfig, rawBuffer string) Outcome {
	buf := rawBuffer
	if profile.Terminator != 0 {
		idx := strings.IndexByte(buf, profile.Terminator)
		if idx < 0 {
			return Outcome{Accepted: false, Reason: ReasonNoTerminator, Digits: buf}
		}
		buf = buf[:idx]
	}

	for _, r := range buf {
		if r < '0' || r > '9' {
			return Outcome{Accepted: false, Reason: ReasonBadCharacter, Digits: buf}
		}
	}

	if len(buf) < profile.MinLen || len(buf) > profile.MaxLen {
		return Outcome{Accepted: false, Reason: ReasonWrongLength, Digits: buf}
	}

	if profile.RequireChecksum && !passesChecksum(profile.Name, buf) {
		return Outcome{Accepted: false, Reason: ReasonInvalidChecksum, Digits: buf}
	}

	return Outcome{Accepted: true, Reason: ReasonOK, Digits: buf}
}

func passesChecksum(profileName, digits string) bool {
	switch profileName {
	case "card":
		return luhnValid(digits)
	case "verification":
		return verificationChecksumValid(digits)
	default:
		return true
	}
}

// luhnValid implements the standard Luhn mod-10 check used by payment
// card numbers.
func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

// verificationChecksumValid treats the final digit of an OTP as a
// mod-10 check digit over the preceding digits — a lightweight
// checksum scheme some verification-code generators use so a
// single-digit misheard STT transcript is rejected rather than
// accepted as a different, wrong, code.
func verificationChecksumValid(digits string) bool {
	if len(digits) < 2 {
		return true
	}
	sum := 0
	for i := 0; i < len(digits)-1; i++ {
		sum += int(digits[i] - '0')
	}
	check := sum % 10
	return int(digits[len(digits)-1]-'0') == check
}
