/*
NAME
  slicer.go

DESCRIPTION
  slicer.go recovers a nibble stream from a sequence of per-frame
  symbol candidates, compensating for the sender and receiver sampling
  at slightly different rates by run-length filtering across the
  oversampling ratio R.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bitslice implements symbol-rate recovery: a pure state
// machine with no I/O of its own, fed one nibble candidate per
// symbol-duration frame.
package bitslice

// Unknown marks a frame whose decoded nibble could not be mapped to
// one of the sixteen tones (symbol.Unknown passed straight through).
const Unknown = -1

// Slicer recovers one emitted nibble per R input frames, tolerating a
// drift of up to Tolerance frames between consecutive runs.
type Slicer struct {
	ratio     int
	tolerance int

	have       bool
	prevNibble int
	runLength  int
}

// New returns a Slicer expecting runs of length ratio, accepting a
// run-length drift of up to tolerance frames either way.
func New(ratio, tolerance int) *Slicer {
	return &Slicer{ratio: ratio, tolerance: tolerance}
}

// Feed processes one symbol-duration frame's decoded nibble (or
// Unknown, for a frame the symbol codec could not map) and reports
// whether a recovered nibble was emitted.
//
// Feed mirrors the source's receive_message bit-accumulation loop,
// generalized from single bits to 4-bit nibbles: consecutive frames
// decoding to the same nibble extend the current run; when the run
// reaches ratio, the nibble is emitted and the run resets to zero. A
// differing nibble ends the run: if its length landed within ratio ±
// tolerance, the just-ended nibble is still emitted, whether or not the
// run reached ratio; otherwise nothing is emitted for it.
func (s *Slicer) Feed(nibble int) (emitted int, ok bool) {
	if !s.have {
		s.have = true
		s.prevNibble = nibble
		s.runLength = 1
		return 0, false
	}

	if nibble == s.prevNibble {
		s.runLength++
		if s.runLength >= s.ratio {
			s.runLength = 0
			return s.prevNibble, true
		}
		return 0, false
	}

	emitted, ok = s.prevNibble, withinTolerance(s.runLength, s.ratio, s.tolerance)
	s.prevNibble = nibble
	s.runLength = 1
	return emitted, ok
}

// Flush emits the nibble of the run in progress, if its length is
// within tolerance of ratio, and resets the Slicer. It serves a caller
// that has read the fixed number of frames a field occupies, when the
// terminating run-ending frame will never arrive; package frame does
// not call it.
func (s *Slicer) Flush() (emitted int, ok bool) {
	if !s.have {
		return 0, false
	}
	emitted, ok = s.prevNibble, withinTolerance(s.runLength, s.ratio, s.tolerance)
	s.have = false
	s.runLength = 0
	return emitted, ok
}

func withinTolerance(runLength, ratio, tolerance int) bool {
	d := runLength - ratio
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
