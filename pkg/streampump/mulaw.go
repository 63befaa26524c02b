package streampump

import "math"

// muLawDecode converts one ITU-T G.711 µ-law byte to a linear PCM
// sample, the standard bitwise decode (invert, split sign/exponent/
// mantissa, reconstruct, bias-correct).
func muLawDecode(b byte) int16 {
	const bias = 0x84
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int16(mantissa) << 1) + 33
	sample <<= exponent
	sample -= bias
	if sign != 0 {
		sample = -sample
	}
	return sample
}

// muLawRMS computes the RMS level of a µ-law frame, normalized to
// [0,1], used both for the §4.5 barge-in threshold test and the
// `audiotick` waveform level.
func muLawRMS(payload []byte) float64 {
	if len(payload) == 0 {
		return 0
	}
	var sumSquares float64
	for _, b := range payload {
		s := float64(muLawDecode(b))
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(len(payload)))
	return rms / 32768.0
}
