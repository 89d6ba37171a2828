/*
NAME
  config.go

DESCRIPTION
  config.go contains the configuration settings shared across every
  component of the acoustic MAC link, from tone generation through to
  the MAC state machine.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config contains the immutable configuration settings for the
// acoustic MAC link: tone frequencies, symbol timing, preamble timing,
// and the MAC timers and node topology.
package config

import (
	"fmt"
	"time"

	"github.com/ausocean/utils/logging"
)

// NodeId is a 2-bit peer identifier. 00 is reserved as the broadcast
// destination wildcard in unicast address fields and is never valid as
// a source id.
type NodeId uint8

// Valid node ids.
const (
	Broadcast NodeId = 0b00
	Node1     NodeId = 0b01
	Node2     NodeId = 0b10
	Node3     NodeId = 0b11
)

// Int returns the integer value of the node id (1..3 for addressable
// peers), used directly in the backoff formula.
func (n NodeId) Int() int { return int(n) }

// Valid reports whether n is one of the four legal 2-bit values.
func (n NodeId) Valid() bool { return n <= Node3 }

// Addressable reports whether n is an addressable peer (not the
// broadcast wildcard).
func (n NodeId) Addressable() bool { return n == Node1 || n == Node2 || n == Node3 }

func (n NodeId) String() string {
	return fmt.Sprintf("%02b", uint8(n))
}

// Config holds every tunable parameter of the link. A Config is built
// once by New and then Validated; components receive it by value or as
// a read-only pointer and never mutate it, per the redesign note in
// spec.md §9 replacing the source's single shared mutable bag of
// constants with an injected immutable record.
type Config struct {
	Logger logging.Logger // Logger every component logs to. Must be set.

	// Audio format, per the audio I/O contract (spec.md §6).
	SampleRate uint    // Fs, Hz. Default 16000.
	Amplitude  float32 // Peak amplitude of generated tones.

	// Symbol timing.
	SymbolDuration   time.Duration // T_sym. Default 700ms.
	PreambleDuration time.Duration // T_pre. Default 50ms.
	SymbolRatio      int           // R, T_sym-long frames per transmitted nibble, a protocol parameter. Default 6.
	RatioTolerance   int           // R_TOL for the bit-slicer's run-length window. Default 3.

	// Data-tone band (component C).
	BitBaseFreq float64 // F_BIT_BASE. Default 4300.
	BitFreqGap  float64 // F_BIT_GAP. Default 200.
	FreqTol     float64 // F_TOL, matching tolerance for demapping. Default 100.
	LowPassCut  float64 // F_LP, low-pass cutoff applied only when decoding data symbols. Default 1000.

	// Control tones (component C, reserved preambles and per-node END).
	BroadcastPreambleFreq float64
	RTSPreambleFreq       float64
	CTSPreambleFreq       float64
	MessagePreambleFreq   float64
	DefaultEndFreq        float64
	EndFreqByNode         map[NodeId]float64

	// Preamble acquisition (component D).
	PreambleRepeats int           // N_PRE. Default 6 (5 consecutive hits after the detecting one).
	PreambleWait    time.Duration // preamble_wait_time. Default 5s.
	EndWait         time.Duration // end_wait_time. Default 5s.

	// MAC timers (component G).
	InterFrameGap time.Duration // Fixed gap before CTS/MSG_PRE, default 300ms.
	BackoffBase   time.Duration // B, default 3s.

	// Topology.
	NumNodes int // 2 or 3. Drives the ACK schedule.

	// CRC is carried but never applied on the data path by default; see
	// spec.md §9's CRC open question and SPEC_FULL.md §9.1's resolution.
	UseCRC        bool
	CRCPolynomial string
}

// Defaults, taken from original_source/config.py unless spec.md
// specifies otherwise.
const (
	DefaultSampleRate            = 16000
	DefaultAmplitude             = 4.0
	DefaultSymbolDuration        = 700 * time.Millisecond
	DefaultPreambleDuration      = 50 * time.Millisecond
	DefaultSymbolRatio           = 6
	DefaultRatioTolerance        = 3
	DefaultBitBaseFreq           = 4300
	DefaultBitFreqGap            = 200
	DefaultFreqTol               = 100
	DefaultLowPassCut            = 1000
	DefaultBroadcastPreambleFreq = 5000
	DefaultRTSPreambleFreq       = 4000
	DefaultCTSPreambleFreq       = 3500
	DefaultMessagePreambleFreq   = 3000
	DefaultEndFreq               = 7000
	DefaultPreambleRepeats       = 6
	DefaultPreambleWait          = 5 * time.Second
	DefaultEndWait               = 5 * time.Second
	DefaultInterFrameGap         = 300 * time.Millisecond
	DefaultBackoffBase           = 3 * time.Second
	DefaultNumNodes              = 3
	DefaultCRCPolynomial         = "010111010111"
)

// New returns a Config populated with the defaults above and the
// default node-specific END-frequency map (01→3300, 10→3400, 11→3600).
// l must not be nil.
func New(l logging.Logger) Config {
	return Config{
		Logger:                l,
		SampleRate:            DefaultSampleRate,
		Amplitude:             DefaultAmplitude,
		SymbolDuration:        DefaultSymbolDuration,
		PreambleDuration:      DefaultPreambleDuration,
		SymbolRatio:           DefaultSymbolRatio,
		RatioTolerance:        DefaultRatioTolerance,
		BitBaseFreq:           DefaultBitBaseFreq,
		BitFreqGap:            DefaultBitFreqGap,
		FreqTol:               DefaultFreqTol,
		LowPassCut:            DefaultLowPassCut,
		BroadcastPreambleFreq: DefaultBroadcastPreambleFreq,
		RTSPreambleFreq:       DefaultRTSPreambleFreq,
		CTSPreambleFreq:       DefaultCTSPreambleFreq,
		MessagePreambleFreq:   DefaultMessagePreambleFreq,
		DefaultEndFreq:        DefaultEndFreq,
		EndFreqByNode: map[NodeId]float64{
			Node1: 3300,
			Node2: 3400,
			Node3: 3600,
		},
		PreambleRepeats: DefaultPreambleRepeats,
		PreambleWait:    DefaultPreambleWait,
		EndWait:         DefaultEndWait,
		InterFrameGap:   DefaultInterFrameGap,
		BackoffBase:     DefaultBackoffBase,
		NumNodes:        DefaultNumNodes,
		UseCRC:          false,
		CRCPolynomial:   DefaultCRCPolynomial,
	}
}

// Validate checks that every field required for the protocol to be
// self-consistent is set; unlike the teacher's revid/config.Validate,
// which silently substitutes defaults and logs a warning, Validate here
// returns an error for anything load-bearing for interoperability (see
// SPEC_FULL.md §9.1: two nodes with different SymbolRatio must not
// silently fail to interoperate).
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errNoLogger
	}
	if c.SampleRate == 0 {
		return errField("SampleRate")
	}
	if c.SymbolDuration <= 0 || c.PreambleDuration <= 0 {
		return errField("SymbolDuration/PreambleDuration")
	}
	if c.SymbolRatio <= 0 {
		return errField("SymbolRatio")
	}
	if c.RatioTolerance < 0 {
		return errField("RatioTolerance")
	}
	if c.NumNodes != 2 && c.NumNodes != 3 {
		return errField("NumNodes (must be 2 or 3)")
	}
	if c.FreqTol <= 0 {
		return errField("FreqTol")
	}
	// Reserved control tones must be mutually separable by at least
	// 2*FreqTol, per spec.md §4.C. Separation from the data band is not
	// checked.
	tones := []float64{
		c.BroadcastPreambleFreq, c.RTSPreambleFreq, c.CTSPreambleFreq,
		c.MessagePreambleFreq, c.DefaultEndFreq,
	}
	for _, f := range c.EndFreqByNode {
		tones = append(tones, f)
	}
	for i := range tones {
		for j := range tones {
			if i == j {
				continue
			}
			if abs(tones[i]-tones[j]) < 2*c.FreqTol {
				return errField("control tones not separable by 2*FreqTol")
			}
		}
	}
	return nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

var errNoLogger = configError("logger must be set")

func errField(name string) error {
	return configError("invalid or missing field: " + name)
}

type configError string

func (e configError) Error() string { return "config: " + string(e) }
