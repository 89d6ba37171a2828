/*
NAME
  spectrum.go

DESCRIPTION
  spectrum.go finds the dominant frequency in a PCM frame using an FFT
  magnitude spectrum, with an optional low-pass mask for discriminating
  the closely-spaced data tones from room noise.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package spectrum finds the dominant frequency of a PCM frame.
package spectrum

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// NoPeak is returned by Analyze in place of a frequency when the frame
// is silence (every sample is zero), per spec.md §4.B step 1.
const NoPeak = -1

// Analyzer computes the dominant frequency of int16 PCM frames sampled
// at SampleRate Hz.
type Analyzer struct {
	SampleRate uint
}

// New returns an Analyzer for the given sample rate.
func New(sampleRate uint) *Analyzer {
	return &Analyzer{SampleRate: sampleRate}
}

// Analyze returns the frequency, in Hz, of the bin with the largest FFT
// magnitude in frame. If lowPass is greater than zero, bins at or below
// lowPass Hz are excluded from the search (spec.md §4.B step 3); pass
// zero to search the full spectrum, as is done for preamble and END
// detection. If every sample in frame is zero, Analyze returns NoPeak.
func (a *Analyzer) Analyze(frame []int16, lowPass float64) float64 {
	if len(frame) == 0 {
		return NoPeak
	}

	// Normalize by the frame's peak magnitude, per spec.md §4.B step 1.
	var peak int16
	for _, s := range frame {
		v := s
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return NoPeak
	}

	real := make([]float64, len(frame))
	for i, s := range frame {
		real[i] = float64(s) / float64(peak)
	}

	spectrum := fft.FFTReal(real)
	n := len(spectrum)

	binHz := float64(a.SampleRate) / float64(n)
	lowBin := 0
	if lowPass > 0 {
		lowBin = int(lowPass/binHz) + 1
	}

	// Only the first half of the spectrum is meaningful for a
	// real-valued input; magnitudes mirror above Nyquist.
	best := -1.0
	bestBin := lowBin
	for i := lowBin; i < n/2; i++ {
		mag := cmplx.Abs(spectrum[i])
		if mag > best {
			best = mag
			bestBin = i
		}
	}
	if best < 0 {
		return NoPeak
	}
	return float64(bestBin) * binHz
}
