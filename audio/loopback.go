/*
NAME
  loopback.go

DESCRIPTION
  loopback.go implements an in-memory acoustic medium shared by two or
  three Devices, used to exercise the MAC state machine's multi-node
  exchanges (spec.md §8 properties 6-9) without real audio hardware.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package audio

import (
	"sync"
	"time"
)

// scale converts the float32 PCM amplitudes used by the tone generator
// into the int16 range a capture device reports, in the same spirit as
// the real ALSA device's format negotiation.
const scale = 8000

// Medium is a shared acoustic bus: anything written by one participant
// is heard (mixed with whatever else is in flight) by every other
// participant, with silence filling the gaps.
type Medium struct {
	mu   sync.Mutex
	bufs [][]int16 // per-participant pending samples, written by everyone else
}

// NewMedium returns a Medium for n participants.
func NewMedium(n int) *Medium {
	return &Medium{bufs: make([][]int16, n)}
}

// NewLoopback returns a Device for participant index idx (0-based) on
// m. sampleRate is used to convert a requested frame length into a
// simulated real-time delay, so that timeout-sensitive tests (spec.md
// §8 property 2) behave like a real blocking capture.
func (m *Medium) NewLoopback(idx int, sampleRate uint) Device {
	return &loopback{medium: m, idx: idx, sampleRate: sampleRate}
}

type loopback struct {
	medium     *Medium
	idx        int
	sampleRate uint

	mode            int // 0 = closed, 1 = input, 2 = output
	framesPerBuffer int
}

const (
	modeClosed = iota
	modeInput
	modeOutput
)

func (l *loopback) OpenInput(framesPerBuffer int) error {
	l.mode = modeInput
	l.framesPerBuffer = framesPerBuffer
	return nil
}

func (l *loopback) OpenOutput() error {
	l.mode = modeOutput
	return nil
}

func (l *loopback) Close() error {
	l.mode = modeClosed
	return nil
}

// Read simulates the elapsed wall-clock time a real capture of n
// samples would take, then returns whatever has accumulated in this
// participant's buffer, silence-padded to exactly n samples.
func (l *loopback) Read(n int) ([]int16, error) {
	if l.mode != modeInput {
		return nil, ErrClosed
	}
	time.Sleep(time.Duration(n) * time.Second / time.Duration(l.sampleRate))

	m := l.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.bufs[l.idx]
	out := make([]int16, n)
	take := n
	if take > len(buf) {
		take = len(buf)
	}
	copy(out, buf[:take])
	m.bufs[l.idx] = buf[take:]
	return out, nil
}

// Write pushes samples (quantized to int16) into every other
// participant's buffer.
func (l *loopback) Write(samples []float32) error {
	if l.mode != modeOutput {
		return ErrClosed
	}
	quantized := make([]int16, len(samples))
	for i, s := range samples {
		v := int32(s * scale)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		quantized[i] = int16(v)
	}

	m := l.medium
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bufs {
		if i == l.idx {
			continue
		}
		m.bufs[i] = append(m.bufs[i], quantized...)
	}
	return nil
}
