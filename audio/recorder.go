/*
NAME
  recorder.go

DESCRIPTION
  recorder.go wraps a Device so that every sample played through it is
  also mirrored to a WAV file, for offline diagnosis of a MAC session
  with cmd/tonescope.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// RecordingDevice mirrors every Write call to path as 16-bit PCM WAV,
// in addition to forwarding it to the wrapped Device. Reads pass
// straight through and are not recorded.
type RecordingDevice struct {
	Device
	sampleRate uint
	path       string
	file       *os.File
	enc        *wav.Encoder
}

// NewRecordingDevice wraps dev, recording every Write call's samples to
// a new WAV file at path sampled at sampleRate Hz, mono, 16-bit.
func NewRecordingDevice(dev Device, sampleRate uint, path string) (*RecordingDevice, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: could not create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, int(sampleRate), 16, 1, 1)
	return &RecordingDevice{Device: dev, sampleRate: sampleRate, path: path, file: f, enc: enc}, nil
}

// Write forwards samples to the wrapped Device and appends them,
// quantized to 16-bit PCM, to the WAV file.
func (r *RecordingDevice) Write(samples []float32) error {
	if err := r.Device.Write(samples); err != nil {
		return err
	}
	ints := make([]int, len(samples))
	for i, s := range samples {
		v := int32(s * scale)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		ints[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: int(r.sampleRate)},
		Data:           ints,
		SourceBitDepth: 16,
	}
	return r.enc.Write(buf)
}

// Close closes the WAV encoder and file, then the wrapped Device.
func (r *RecordingDevice) Close() error {
	werr := r.enc.Close()
	ferr := r.file.Close()
	derr := r.Device.Close()
	if werr != nil {
		return fmt.Errorf("recorder: wav encoder close: %w", werr)
	}
	if ferr != nil {
		return fmt.Errorf("recorder: file close: %w", ferr)
	}
	return derr
}
