/*
NAME
  tone.go

DESCRIPTION
  tone.go generates single-frequency PCM tones used for FSK symbols,
  preambles and END signals.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tone generates sinusoidal PCM tones for the FSK modem.
package tone

import "math"

// Generate returns floor(sampleRate*duration) float32 PCM samples,
// duration in seconds, of a sine wave at freq Hz, amplitude amp, sampled at
// sampleRate Hz. No windowing is applied; the boundary discontinuity
// at the start/end of the tone is accepted, matching spec.md §4.A.
func Generate(freq float64, duration float64, amp float32, sampleRate uint) []float32 {
	n := int(float64(sampleRate) * duration)
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	w := 2 * math.Pi * freq / float64(sampleRate)
	for i := range out {
		out[i] = amp * float32(math.Sin(w*float64(i)))
	}
	return out
}
