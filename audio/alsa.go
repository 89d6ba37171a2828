/*
NAME
  alsa.go

DESCRIPTION
  alsa.go provides the real Device implementation for Linux ALSA sound
  cards, adapted from the ausocean/av device/alsa package for the
  half-duplex, direction-switching usage the acoustic MAC link needs:
  the MAC state machine opens a fixed-length input stream to scan for
  preambles or symbols, or an output stream to transmit tones, and
  fully closes the stream before switching direction (spec.md §5).

AUTHOR
  Alan Noble <alan@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	yalsa "github.com/yobert/alsa"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"
)

const (
	rbTimeout     = 100 * time.Millisecond
	rbNextTimeout = 2 * time.Second
	rbLen         = 50
	poolStartSize = 16000 // Bytes; one second of 16-bit mono audio at 16kHz.
)

// ALSA is the real Device implementation, backed by a Linux ALSA sound
// card via github.com/yobert/alsa.
type ALSA struct {
	l          logging.Logger
	title      string // Card/device title to open, or "" for the first matching device.
	sampleRate uint
	dev        *yalsa.Device
	buf        *pool.Buffer // Ring buffer of captured int16 samples, input mode only.
	stop       chan struct{}
}

// NewALSA returns an ALSA device that logs to l and captures/plays at
// sampleRate Hz, mono.
func NewALSA(l logging.Logger, sampleRate uint, title string) *ALSA {
	return &ALSA{l: l, sampleRate: sampleRate, title: title}
}

func (a *ALSA) OpenInput(framesPerBuffer int) error {
	if err := a.open(true); err != nil {
		return fmt.Errorf("alsa: failed to open input device: %w", err)
	}

	chunkBytes := framesPerBuffer * 2 // int16 samples.
	a.buf = pool.NewBuffer(rbLen, chunkBytes, rbTimeout)
	pool.MaxAlloc(poolStartSize * rbLen)

	a.stop = make(chan struct{})
	go a.capture(chunkBytes)
	return nil
}

func (a *ALSA) OpenOutput() error {
	if err := a.open(false); err != nil {
		return fmt.Errorf("alsa: failed to open output device: %w", err)
	}
	return nil
}

// open negotiates format for record (record=true) or playback.
func (a *ALSA) open(record bool) error {
	a.l.Debug("opening sound card")
	cards, err := yalsa.OpenCards()
	if err != nil {
		return err
	}
	defer yalsa.CloseCards(cards)

	for _, card := range cards {
		devices, err := card.Devices()
		if err != nil {
			continue
		}
		for _, dev := range devices {
			if dev.Type != yalsa.PCM {
				continue
			}
			if record && !dev.Record {
				continue
			}
			if !record && !dev.Play {
				continue
			}
			if dev.Title == a.title || a.title == "" {
				a.dev = dev
				break
			}
		}
		if a.dev != nil {
			break
		}
	}
	if a.dev == nil {
		return fmt.Errorf("alsa: no matching %s device found", direction(record))
	}

	if err := a.dev.Open(); err != nil {
		return err
	}
	if _, err := a.dev.NegotiateChannels(1); err != nil {
		return fmt.Errorf("alsa: device cannot negotiate mono: %w", err)
	}
	if _, err := a.dev.NegotiateRate(int(a.sampleRate)); err != nil {
		return fmt.Errorf("alsa: device cannot negotiate %dHz: %w", a.sampleRate, err)
	}
	if record {
		if _, err := a.dev.NegotiateFormat(yalsa.S16_LE); err != nil {
			return fmt.Errorf("alsa: device cannot negotiate S16_LE: %w", err)
		}
	} else {
		if _, err := a.dev.NegotiateFormat(yalsa.FloatLE); err != nil {
			return fmt.Errorf("alsa: device cannot negotiate float32: %w", err)
		}
	}
	if _, err := a.dev.NegotiatePeriodSize(int(a.sampleRate) / 20); err != nil {
		return fmt.Errorf("alsa: device cannot negotiate period size: %w", err)
	}
	if _, err := a.dev.NegotiateBufferSize(int(a.sampleRate) / 5); err != nil {
		return fmt.Errorf("alsa: device cannot negotiate buffer size: %w", err)
	}
	if err := a.dev.Prepare(); err != nil {
		return fmt.Errorf("alsa: device prepare failed: %w", err)
	}
	a.l.Debug("alsa device ready", "title", a.dev.Title, "record", record)
	return nil
}

func direction(record bool) string {
	if record {
		return "capture"
	}
	return "playback"
}

// capture continuously reads from the ALSA device and writes into the
// ring buffer, exactly as device/alsa/alsa.go's input goroutine does,
// so that Read can return an exact, precisely-sized frame without
// itself depending on ALSA's own period boundaries.
func (a *ALSA) capture(chunkBytes int) {
	for {
		select {
		case <-a.stop:
			return
		default:
		}
		raw := make([]byte, chunkBytes)
		if err := a.dev.Read(raw); err != nil {
			a.l.Error("alsa read failed", "error", err.Error())
			continue
		}
		if _, err := a.buf.Write(raw); err != nil && err != pool.ErrDropped {
			a.l.Error("ring buffer write failed", "error", err.Error())
		}
	}
}

func (a *ALSA) Read(n int) ([]int16, error) {
	if a.buf == nil {
		return nil, ErrClosed
	}
	chunk, err := a.buf.Next(rbNextTimeout)
	if err != nil {
		return nil, fmt.Errorf("alsa: ring buffer read failed: %w", err)
	}
	out := make([]int16, n)
	for i := range out {
		if 2*i+1 >= len(chunk) {
			break
		}
		out[i] = int16(binary.LittleEndian.Uint16(chunk[2*i:]))
	}
	return out, nil
}

func (a *ALSA) Write(samples []float32) error {
	if a.dev == nil {
		return ErrClosed
	}
	raw := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(s))
	}
	return a.dev.Write(raw)
}

func (a *ALSA) Close() error {
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	if a.buf != nil {
		a.buf.Close()
		a.buf = nil
	}
	if a.dev != nil {
		a.dev.Close()
		a.dev = nil
	}
	return nil
}
