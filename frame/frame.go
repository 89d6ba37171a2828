/*
NAME
  frame.go

DESCRIPTION
  frame.go assembles and parses the wire frames of the acoustic MAC
  link (RTS, CTS, DATA, END) on top of the symbol codec and bit-slicer,
  driving an audio.Device directly for both directions.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package frame assembles and parses RTS, CTS, DATA and END frames,
// the wire format described by spec.md §3, on top of package symbol
// (tone mapping) and package bitslice (symbol-rate recovery).
package frame

import (
	"github.com/pkg/errors"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/bitslice"
	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/spectrum"
	"github.com/ausocean/tonemac/symbol"
	"github.com/ausocean/tonemac/tone"
)

// Payload nibble-count bounds, per spec.md §3's DATA length field.
const (
	MinPayloadNibbles = 1
	MaxPayloadNibbles = 15
)

// ErrUndecodable is returned when a received field decodes to the "?"
// symbol (spec.md §4.E): the frame is malformed and must be dropped
// without acknowledgement.
var ErrUndecodable = errors.New("frame: undecodable symbol")

// ErrPayloadSize is returned when a DATA payload's nibble count falls
// outside [MinPayloadNibbles, MaxPayloadNibbles].
var ErrPayloadSize = errors.New("frame: payload nibble count out of range")

// RTS is a request-to-send frame: one symbol, sender||dest.
type RTS struct {
	Sender config.NodeId
	Dest   config.NodeId
}

// CTS is a clear-to-send frame: one symbol, sender||dest, where dest
// is the node the sender is granting the channel to.
type CTS struct {
	Sender config.NodeId
	Dest   config.NodeId
}

// DATA is a data frame: header (sender||msg-id), length, and 1..15
// payload nibbles.
type DATA struct {
	Sender  config.NodeId
	MsgID   uint8
	Payload []byte // each element a nibble, 0..15
}

// Framer reads and writes RTS/CTS/DATA/END frames over an
// audio.Device, using cfg's tone table and timing.
type Framer struct {
	cfg       config.Config
	dev       audio.Device
	codec     *symbol.Codec
	analyzer  *spectrum.Analyzer
	symFrames int // samples per T_sym-length receive frame
}

// New returns a Framer that sends and receives over dev using cfg.
func New(cfg config.Config, dev audio.Device) *Framer {
	return &Framer{
		cfg:       cfg,
		dev:       dev,
		codec:     symbol.New(cfg),
		analyzer:  spectrum.New(cfg.SampleRate),
		symFrames: int(float64(cfg.SampleRate) * cfg.SymbolDuration.Seconds()),
	}
}

// --- send path ---

// sendNibble holds nibble's tone for SymbolRatio symbol-durations, so
// that a receiver sampling T_sym-long frames sees SymbolRatio
// consecutive matching reads, the run the bit-slicer requires to
// recover one nibble (spec.md §4.E).
func (f *Framer) sendNibble(nibble int) error {
	freq := f.codec.Map(nibble)
	d := f.cfg.SymbolDuration.Seconds() * float64(f.cfg.SymbolRatio)
	return f.dev.Write(tone.Generate(freq, d, f.cfg.Amplitude, f.cfg.SampleRate))
}

// SendPreamble transmits PreambleRepeats copies of the preamble tone
// identified by kind, each PreambleDuration long, matching the
// source's send_preamble.
func (f *Framer) SendPreamble(kind symbol.Kind) error {
	freq := f.codec.Freq(kind, config.Broadcast)
	samples := tone.Generate(freq, f.cfg.PreambleDuration.Seconds(), f.cfg.Amplitude, f.cfg.SampleRate)
	for i := 0; i < f.cfg.PreambleRepeats; i++ {
		if err := f.dev.Write(samples); err != nil {
			return err
		}
	}
	return nil
}

// SendRTS transmits an RTS frame requesting dest from sender.
func (f *Framer) SendRTS(sender, dest config.NodeId) error {
	return f.sendNibble(sender.Int()<<2 | dest.Int())
}

// SendCTS transmits a CTS frame from sender granting dest.
func (f *Framer) SendCTS(sender, dest config.NodeId) error {
	return f.sendNibble(sender.Int()<<2 | dest.Int())
}

// SendDATA transmits a DATA frame: header, length, then payload
// nibbles in order.
func (f *Framer) SendDATA(d DATA) error {
	if len(d.Payload) < MinPayloadNibbles || len(d.Payload) > MaxPayloadNibbles {
		return ErrPayloadSize
	}
	if err := f.sendNibble(d.Sender.Int()<<2 | int(d.MsgID&0b11)); err != nil {
		return err
	}
	if err := f.sendNibble(len(d.Payload)); err != nil {
		return err
	}
	for _, n := range d.Payload {
		if err := f.sendNibble(int(n)); err != nil {
			return err
		}
	}
	return nil
}

// SendEnd transmits a sustained END/ACK tone at freq for two symbol
// periods, per spec.md §3.
func (f *Framer) SendEnd(freq float64) error {
	d := 2 * f.cfg.SymbolDuration.Seconds()
	return f.dev.Write(tone.Generate(freq, d, f.cfg.Amplitude, f.cfg.SampleRate))
}

// --- receive path ---

// readNibbleFrame reads one T_sym-long frame and decodes it to a data
// nibble (or symbol.Unknown), using the low-pass cutoff as required
// when decoding data symbols (spec.md §4.B).
func (f *Framer) readNibbleFrame() (int, error) {
	samples, err := f.dev.Read(f.symFrames)
	if err != nil {
		return 0, err
	}
	freq := f.analyzer.Analyze(samples, f.cfg.LowPassCut)
	return f.codec.Demap(freq), nil
}

// recvOneSymbol drives a fresh bit-slicer until it emits exactly one
// nibble, the RTS/CTS termination rule of spec.md §4.E.
func (f *Framer) recvOneSymbol() (int, error) {
	return f.recvSymbolVia(bitslice.New(f.cfg.SymbolRatio, f.cfg.RatioTolerance))
}

// RecvRTS reads one RTS frame.
func (f *Framer) RecvRTS() (RTS, error) {
	v, err := f.recvOneSymbol()
	if err != nil {
		return RTS{}, err
	}
	if v == symbol.Unknown {
		return RTS{}, ErrUndecodable
	}
	return RTS{Sender: config.NodeId(v >> 2 & 0b11), Dest: config.NodeId(v & 0b11)}, nil
}

// RecvCTS reads one CTS frame.
func (f *Framer) RecvCTS() (CTS, error) {
	v, err := f.recvOneSymbol()
	if err != nil {
		return CTS{}, err
	}
	if v == symbol.Unknown {
		return CTS{}, ErrUndecodable
	}
	return CTS{Sender: config.NodeId(v >> 2 & 0b11), Dest: config.NodeId(v & 0b11)}, nil
}

// RecvDATA reads a full DATA frame: header, length, then exactly
// length payload nibbles, per spec.md §4.E's termination rule. Any
// emitted "?" anywhere in the frame yields ErrUndecodable, so the
// caller drops the frame without acknowledging it (spec.md §7).
func (f *Framer) RecvDATA() (DATA, error) {
	s := bitslice.New(f.cfg.SymbolRatio, f.cfg.RatioTolerance)

	header, err := f.recvSymbolVia(s)
	if err != nil {
		return DATA{}, err
	}
	length, err := f.recvSymbolVia(s)
	if err != nil {
		return DATA{}, err
	}
	if header == symbol.Unknown || length == symbol.Unknown {
		return DATA{}, ErrUndecodable
	}
	if length < MinPayloadNibbles || length > MaxPayloadNibbles {
		return DATA{}, errors.Wrapf(ErrPayloadSize, "length=%d", length)
	}

	payload := make([]byte, 0, length)
	for len(payload) < length {
		v, err := f.recvSymbolVia(s)
		if err != nil {
			return DATA{}, err
		}
		if v == symbol.Unknown {
			return DATA{}, ErrUndecodable
		}
		payload = append(payload, byte(v))
	}

	return DATA{
		Sender:  config.NodeId(header >> 2 & 0b11),
		MsgID:   uint8(header & 0b11),
		Payload: payload,
	}, nil
}

// recvSymbolVia drives s, sharing one bit-slicer across the whole
// frame the way the source's receive_message accumulates bits across
// header, length and payload without resetting its run-length state
// between fields.
func (f *Framer) recvSymbolVia(s *bitslice.Slicer) (int, error) {
	for {
		nibble, err := f.readNibbleFrame()
		if err != nil {
			return 0, err
		}
		if v, ok := s.Feed(nibble); ok {
			return v, nil
		}
	}
}
