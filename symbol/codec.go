/*
NAME
  codec.go

DESCRIPTION
  codec.go implements the bidirectional mapping between 4-bit nibbles
  and the 16 data tone frequencies, plus lookup of the reserved control
  tones (preambles and per-node END frequencies).

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package symbol maps between 4-bit data nibbles and FSK tone
// frequencies, and names the reserved control tones.
package symbol

import "github.com/ausocean/tonemac/config"

// Unknown is returned by Demap when a measured peak frequency does not
// fall within tolerance of any table entry, corresponding to the "?"
// symbol of spec.md §4.D/§4.E.
const Unknown = -1

// Codec maps nibbles 0..15 to/from the data-tone band and identifies
// control tones, all derived from a Config so that two nodes sharing
// the same Config always interoperate (spec.md §9, "R is a protocol
// parameter, not an implementation detail" generalizes to the whole
// tone table).
type Codec struct {
	cfg   config.Config
	freqs [16]float64
}

// New builds a Codec from cfg.
func New(cfg config.Config) *Codec {
	c := &Codec{cfg: cfg}
	for i := 0; i < 16; i++ {
		c.freqs[i] = cfg.BitBaseFreq + float64(i)*cfg.BitFreqGap
	}
	return c
}

// Map returns the frequency, in Hz, for data nibble n (0..15).
func (c *Codec) Map(n int) float64 {
	return c.freqs[n&0xF]
}

// Demap returns the data nibble whose frequency is within
// config.FreqTol of freq, or Unknown if no table entry matches.
func (c *Codec) Demap(freq float64) int {
	if freq == -1 {
		return Unknown
	}
	best := Unknown
	bestDiff := c.cfg.FreqTol
	for i, f := range c.freqs {
		diff := f - freq
		if diff < 0 {
			diff = -diff
		}
		if diff <= bestDiff {
			bestDiff = diff
			best = i
		}
	}
	return best
}

// Kind identifies a reserved control tone.
type Kind int

const (
	BroadcastPreamble Kind = iota
	RTSPreamble
	CTSPreamble
	MessagePreamble
	DefaultEnd
	NodeEnd
)

// Freq returns the frequency for a control tone. For NodeEnd, node must
// be an addressable peer; the call panics otherwise, since a caller
// asking for a node's END tone without an addressable node id is a
// programming error, not a runtime condition.
func (c *Codec) Freq(kind Kind, node config.NodeId) float64 {
	switch kind {
	case BroadcastPreamble:
		return c.cfg.BroadcastPreambleFreq
	case RTSPreamble:
		return c.cfg.RTSPreambleFreq
	case CTSPreamble:
		return c.cfg.CTSPreambleFreq
	case MessagePreamble:
		return c.cfg.MessagePreambleFreq
	case DefaultEnd:
		return c.cfg.DefaultEndFreq
	case NodeEnd:
		if !node.Addressable() {
			panic("symbol: NodeEnd requested for non-addressable node id")
		}
		return c.cfg.EndFreqByNode[node]
	default:
		panic("symbol: unknown control tone kind")
	}
}

// IsControlTone reports whether freq lies within config.FreqTol of any
// reserved control tone, and if so which kind and (for NodeEnd) which
// node. A per-node END tone strictly nearer to freq than a preamble or
// default END tone takes precedence over it.
func (c *Codec) IsControlTone(freq float64) (kind Kind, node config.NodeId, ok bool) {
	dist := func(target float64) float64 {
		d := target - freq
		if d < 0 {
			d = -d
		}
		return d
	}
	endNode, endDist := config.NodeId(0), c.cfg.FreqTol+1
	for n, f := range c.cfg.EndFreqByNode {
		if dist(f) < endDist {
			endNode, endDist = n, dist(f)
		}
	}
	within := func(target float64) bool {
		return dist(target) <= c.cfg.FreqTol && dist(target) <= endDist
	}
	switch {
	case within(c.cfg.BroadcastPreambleFreq):
		return BroadcastPreamble, config.Broadcast, true
	case within(c.cfg.RTSPreambleFreq):
		return RTSPreamble, config.Broadcast, true
	case within(c.cfg.CTSPreambleFreq):
		return CTSPreamble, config.Broadcast, true
	case within(c.cfg.MessagePreambleFreq):
		return MessagePreamble, config.Broadcast, true
	case within(c.cfg.DefaultEndFreq):
		return DefaultEnd, config.Broadcast, true
	}
	if endDist <= c.cfg.FreqTol {
		return NodeEnd, endNode, true
	}
	return 0, 0, false
}
