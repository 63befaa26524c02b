package digit

import "strings"

var wordDigits = map[string]byte{
	"zero": '0', "oh": '0', "one": '1', "two": '2', "three": '3',
	"four": '4', "five": '5', "six": '6', "seven": '7', "eight": '8',
	"nine": '9',
}

var multipliers = map[string]int{
	"double": 2,
	"triple": 3,
}

// NormalizeSpoken converts a speech-to-text transcript of spoken digits
// into a digit string (§4.4 dual sourcing: "one two triple three"
// becomes "12333"). Unrecognized tokens are dropped rather than
// rejecting the whole utterance, since STT output is noisy by nature.
func NormalizeSpoken(transcript string) string {
	tokens := strings.Fields(strings.ToLower(transcript))
	var out strings.Builder

	pendingRepeat := 1
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?")
		if mult, ok := multipliers[tok]; ok {
			pendingRepeat = mult
			continue
		}
		if d, ok := wordDigits[tok]; ok {
			for i := 0; i < pendingRepeat; i++ {
				out.WriteByte(d)
			}
			pendingRepeat = 1
			continue
		}
		for _, r := range tok {
			if r >= '0' && r <= '9' {
				for i := 0; i < pendingRepeat; i++ {
					out.WriteByte(byte(r))
				}
				pendingRepeat = 1
			}
		}
	}
	return out.String()
}
