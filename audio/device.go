/*
NAME
  device.go

DESCRIPTION
  device.go declares Device, the external audio collaborator contract
  named in spec.md §1/§6: a half-duplex PCM device that the MAC state
  machine opens in input or output mode as the protocol demands.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package audio provides the half-duplex PCM audio device contract used
// by the acoustic MAC link, and implementations of it: a real ALSA
// device, an in-memory loopback medium for tests, and a WAV-recording
// wrapper for diagnostics.
package audio

import "errors"

// ErrClosed is returned by Read/Write when called on a closed or
// not-yet-opened Device.
var ErrClosed = errors.New("audio: device not open")

// Device is the half-duplex PCM audio device contract of spec.md §6.
// Exactly one of input or output mode is active at a time; switching
// direction requires Close followed by the matching Open call, per
// spec.md §5.
type Device interface {
	// OpenInput opens the device for capture with exactly framesPerBuffer
	// samples per Read call. Capture samples are int16.
	OpenInput(framesPerBuffer int) error

	// OpenOutput opens the device for playback. Playback samples are
	// float32, per spec.md §6.
	OpenOutput() error

	// Read blocks until n samples have been captured and returns them.
	Read(n int) ([]int16, error)

	// Write blocks until samples have been written to the device.
	Write(samples []float32) error

	// Close releases the currently open stream, if any.
	Close() error
}
