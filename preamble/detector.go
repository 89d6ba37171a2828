/*
NAME
  detector.go

DESCRIPTION
  detector.go scans short frames from an audio.Device until a target
  preamble tone is seen, or a deadline passes; and chains such scans to
  confirm a full preamble.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package preamble detects sustained reserved tones that announce a
// frame's kind, and underlies the END-tone wait as well.
package preamble

import (
	"context"
	"errors"
	"time"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/spectrum"
)

// ErrTimeout is returned when a detection deadline passes without the
// target tone being seen.
var ErrTimeout = errors.New("preamble: timed out")

// Detector scans audio.Device frames for a reserved tone.
type Detector struct {
	dev      audio.Device
	analyzer *spectrum.Analyzer
	frameLen int // samples per scan frame
	freqTol  float64
}

// New returns a Detector reading frameLen-sample frames from dev,
// matching tones within freqTol Hz.
func New(dev audio.Device, analyzer *spectrum.Analyzer, frameLen int, freqTol float64) *Detector {
	return &Detector{dev: dev, analyzer: analyzer, frameLen: frameLen, freqTol: freqTol}
}

// Detect scans frames (full spectrum, no low-pass mask, per spec.md
// §4.B) until targetFreq is seen once, or ctx is done, in which case
// it returns ErrTimeout. This replaces the source's process-wide
// alarm signal with a deadline set relative to a monotonic clock
// (spec.md §9 REDESIGN FLAG 1).
func (d *Detector) Detect(ctx context.Context, targetFreq float64) error {
	for {
		select {
		case <-ctx.Done():
			return ErrTimeout
		default:
		}
		frame, err := d.dev.Read(d.frameLen)
		if err != nil {
			return err
		}
		freq := d.analyzer.Analyze(frame, 0)
		if within(freq, targetFreq, d.freqTol) {
			return nil
		}
	}
}

// Confirm performs n sequential Detect calls, each with a fresh
// maxWait budget, confirming that targetFreq is still present after
// the initial single-frame hit that triggered preamble detection.
// spec.md §4.D names n = N_PRE-1 (default 5) for a full preamble
// acquisition; any one failing call aborts the confirmation and
// returns ErrTimeout immediately, matching the source's
// receive_preamble, which returns "timed out" the first time any of
// its N_PRE-1 sub-detections fails.
func (d *Detector) Confirm(targetFreq float64, n int, maxWait time.Duration) error {
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), maxWait)
		err := d.Detect(ctx, targetFreq)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func within(freq, target, tol float64) bool {
	if freq == spectrum.NoPeak {
		return false
	}
	d := freq - target
	if d < 0 {
		d = -d
	}
	return d <= tol
}
