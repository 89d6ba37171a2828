/*
NAME
  mac.go

DESCRIPTION
  mac.go implements the acoustic MAC state machine: carrier sensing,
  the RTS/CTS unicast handshake, broadcast with a per-sender ACK
  schedule, duplicate suppression and exponential backoff, all driven
  by a single blocking run loop over one audio.Device.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mac drives the listen/transmit loop of the acoustic link:
// carrier sense, RTS/CTS exchange, broadcast, ACK collection,
// duplicate suppression and backoff, on top of packages frame,
// preamble and outbound.
package mac

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/frame"
	"github.com/ausocean/tonemac/outbound"
	"github.com/ausocean/tonemac/preamble"
	"github.com/ausocean/tonemac/spectrum"
	"github.com/ausocean/tonemac/symbol"
)

// device modes tracked locally so Machine reopens the shared
// audio.Device only when the required direction or frame length
// actually changes, per spec.md §5.
const (
	devClosed = iota
	devInput
	devOutput
)

// dedupeKey identifies one delivered DATA frame for the duplicate
// suppression set of spec.md §8 property 4.
type dedupeKey struct {
	sender config.NodeId
	msgID  uint8
}

// Machine is one node's MAC state machine. It is not safe for
// concurrent use; spec.md §5 requires the core to be strictly
// single-threaded.
type Machine struct {
	cfg   config.Config
	node  config.NodeId
	dev   audio.Device
	queue *outbound.Queue

	framer   *frame.Framer
	analyzer *spectrum.Analyzer
	codec    *symbol.Codec
	backoff  *Backoff

	seen    map[dedupeKey]struct{}
	wait    time.Duration // backoff remaining; TX_TRY is refused while wait > 0
	pending *outbound.Item

	preFrames int
	symFrames int

	curMode     int
	curFrameLen int

	// Now supplies the wall-clock timestamp for [SENT]/[RECVD] log
	// lines (spec.md §6); overridable in tests.
	Now func() time.Time
}

// New returns a Machine for node, driving dev and pulling outbound
// work from queue. cfg must already be Validated.
func New(cfg config.Config, node config.NodeId, dev audio.Device, queue *outbound.Queue) *Machine {
	return &Machine{
		cfg:       cfg,
		node:      node,
		dev:       dev,
		queue:     queue,
		framer:    frame.New(cfg, dev),
		analyzer:  spectrum.New(cfg.SampleRate),
		codec:     symbol.New(cfg),
		backoff:   NewBackoff(cfg.BackoffBase, rand.NewSource(time.Now().UnixNano())),
		seen:      make(map[dedupeKey]struct{}),
		preFrames: int(float64(cfg.SampleRate) * cfg.PreambleDuration.Seconds()),
		symFrames: int(float64(cfg.SampleRate) * cfg.SymbolDuration.Seconds()),
		Now:       time.Now,
	}
}

// Run drives the IDLE scan loop until ctx is cancelled or a fatal
// audio.Device error occurs. Per spec.md §7.1, every other condition
// (decode error, timeout, wrong-address CTS) is handled internally
// and never surfaces as a returned error.
func (m *Machine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.step(); err != nil {
			return err
		}
	}
}

// step runs one IDLE scan: poll the outbound queue, read one T_pre
// frame, and dispatch on what it carries.
func (m *Machine) step() error {
	if err := m.queue.Poll(); err != nil {
		m.cfg.Logger.Warning("mac: outbound poll failed", "error", err.Error())
	}
	if err := m.ensureInput(m.preFrames); err != nil {
		return err
	}
	samples, err := m.dev.Read(m.preFrames)
	if err != nil {
		return errors.Wrap(err, "mac: idle scan read failed")
	}
	m.wait -= m.cfg.PreambleDuration

	freq := m.analyzer.Analyze(samples, 0)
	kind, _, ok := m.codec.IsControlTone(freq)
	switch {
	case ok && kind == symbol.BroadcastPreamble:
		return m.rxBroadcast()
	case ok && kind == symbol.RTSPreamble:
		return m.rxRTS()
	default:
		return m.maybeStartTX()
	}
}

// --- receive side ---

// rxBroadcast implements spec.md §4.G's RX_BCAST state.
func (m *Machine) rxBroadcast() error {
	if err := m.ensureInput(m.preFrames); err != nil {
		return err
	}
	d := preamble.New(m.dev, m.analyzer, m.preFrames, m.cfg.FreqTol)
	if err := d.Confirm(m.cfg.BroadcastPreambleFreq, m.cfg.PreambleRepeats-1, m.cfg.PreambleWait); err != nil {
		if isTimeout(err) {
			return nil
		}
		return err
	}

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	data, err := m.framer.RecvDATA()
	if err != nil {
		if isDropErr(err) {
			return nil
		}
		return err
	}
	m.deliver(data)
	return m.sendEndForBroadcast(data.Sender)
}

// rxRTS implements spec.md §4.G's RX_RTS state.
func (m *Machine) rxRTS() error {
	if err := m.ensureInput(m.preFrames); err != nil {
		return err
	}
	d := preamble.New(m.dev, m.analyzer, m.preFrames, m.cfg.FreqTol)
	if err := d.Confirm(m.cfg.RTSPreambleFreq, m.cfg.PreambleRepeats-1, m.cfg.PreambleWait); err != nil {
		if isTimeout(err) {
			return nil
		}
		return err
	}

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	rts, err := m.framer.RecvRTS()
	if err != nil {
		if isDropErr(err) {
			return nil
		}
		return err
	}

	if rts.Dest == m.node || rts.Dest == config.Broadcast {
		return m.txCTS(rts)
	}
	return m.waitForAnyEnd(m.cfg.EndWait)
}

// txCTS implements spec.md §4.G's TX_CTS state.
func (m *Machine) txCTS(rts frame.RTS) error {
	time.Sleep(m.cfg.InterFrameGap)
	if err := m.ensureOutput(); err != nil {
		return err
	}
	if err := m.framer.SendPreamble(symbol.CTSPreamble); err != nil {
		return err
	}
	if err := m.framer.SendCTS(m.node, rts.Sender); err != nil {
		return err
	}

	if err := m.ensureInput(m.preFrames); err != nil {
		return err
	}
	d := preamble.New(m.dev, m.analyzer, m.preFrames, m.cfg.FreqTol)
	if err := d.Confirm(m.cfg.MessagePreambleFreq, m.cfg.PreambleRepeats, m.cfg.PreambleWait); err != nil {
		if isTimeout(err) {
			return nil
		}
		return err
	}

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	data, err := m.framer.RecvDATA()
	if err != nil {
		if isDropErr(err) {
			return nil
		}
		return err
	}
	m.deliver(data)

	if err := m.ensureOutput(); err != nil {
		return err
	}
	return m.framer.SendEnd(m.cfg.DefaultEndFreq)
}

// waitForAnyEnd implements spec.md §4.G's DEFER state: wait up to
// maxWait for any END tone (default or per-node), then return to IDLE
// regardless of outcome.
func (m *Machine) waitForAnyEnd(maxWait time.Duration) error {
	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), maxWait)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		samples, err := m.dev.Read(m.symFrames)
		if err != nil {
			return errors.Wrap(err, "mac: defer-state read failed")
		}
		freq := m.analyzer.Analyze(samples, 0)
		kind, _, ok := m.codec.IsControlTone(freq)
		if ok && (kind == symbol.DefaultEnd || kind == symbol.NodeEnd) {
			return nil
		}
	}
}

// sendEndForBroadcast transmits this node's own END tone in the slot
// the broadcast ACK schedule assigns it for sender's message.
func (m *Machine) sendEndForBroadcast(sender config.NodeId) error {
	slot := 0
	if m.cfg.NumNodes == 3 {
		slot = ackSlot(sender, m.node)
	}
	if slot == 1 {
		time.Sleep(m.cfg.SymbolDuration)
	}
	if err := m.ensureOutput(); err != nil {
		return err
	}
	return m.framer.SendEnd(m.codec.Freq(symbol.NodeEnd, m.node))
}

func (m *Machine) deliver(d frame.DATA) {
	key := dedupeKey{sender: d.Sender, msgID: d.MsgID}
	if _, dup := m.seen[key]; dup {
		return
	}
	m.seen[key] = struct{}{}
	m.cfg.Logger.Info(fmt.Sprintf("[RECVD]: %s %d %s", nibblesToBitString(d.Payload), d.Sender.Int(), m.Now().Format("15:04:05")))
}

// --- transmit side ---

// maybeStartTX implements spec.md §4.G's IDLE→TX_TRY transition: an
// outbound item is available, and backoff has fully elapsed.
func (m *Machine) maybeStartTX() error {
	if m.pending == nil {
		if item, ok := m.queue.Pop(); ok {
			m.pending = &item
		}
	}
	if m.pending == nil || m.wait > 0 {
		return nil
	}
	item := *m.pending
	if item.Kind == outbound.Broadcast {
		return m.txTryBroadcast(item)
	}
	return m.txTryUnicast(item)
}

// txTryBroadcast implements spec.md §4.G's TX_TRY (broadcast) branch.
func (m *Machine) txTryBroadcast(item outbound.Item) error {
	if err := m.ensureOutput(); err != nil {
		return err
	}
	if err := m.framer.SendPreamble(symbol.BroadcastPreamble); err != nil {
		return err
	}
	if err := m.framer.SendDATA(frame.DATA{Sender: m.node, MsgID: item.MsgID, Payload: item.Payload}); err != nil {
		return err
	}
	m.logSent(item)

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	for _, acker := range ackOrder(m.node, m.cfg.NumNodes) {
		freq := m.codec.Freq(symbol.NodeEnd, acker)
		d := preamble.New(m.dev, m.analyzer, m.symFrames, m.cfg.FreqTol)
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EndWait)
		err := d.Detect(ctx, freq)
		cancel()
		if err != nil {
			if !isTimeout(err) {
				return err
			}
			m.backoff.RecordCollision()
			m.wait = m.backoff.Next(m.node)
			return nil // item stays in m.pending: an implicit requeue
		}
	}
	m.backoff.Reset()
	m.pending = nil
	return nil
}

// txTryUnicast implements spec.md §4.G's TX_TRY (unicast) branch.
func (m *Machine) txTryUnicast(item outbound.Item) error {
	if err := m.ensureOutput(); err != nil {
		return err
	}
	if err := m.framer.SendPreamble(symbol.RTSPreamble); err != nil {
		return err
	}
	if err := m.framer.SendRTS(m.node, item.Dest); err != nil {
		return err
	}

	if err := m.ensureInput(m.preFrames); err != nil {
		return err
	}
	d := preamble.New(m.dev, m.analyzer, m.preFrames, m.cfg.FreqTol)
	if err := d.Confirm(m.cfg.CTSPreambleFreq, m.cfg.PreambleRepeats, m.cfg.PreambleWait); err != nil {
		if !isTimeout(err) {
			return err
		}
		m.backoff.RecordCollision()
		m.wait = m.backoff.Next(m.node)
		return nil
	}

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	cts, err := m.framer.RecvCTS()
	if err != nil {
		if isDropErr(err) {
			return nil // garbled CTS: abandon without a collision charge
		}
		return err
	}
	if cts.Dest != m.node && cts.Dest != config.Broadcast {
		return nil // wrong-address CTS: abandon without a collision charge
	}

	time.Sleep(m.cfg.InterFrameGap)
	if err := m.ensureOutput(); err != nil {
		return err
	}
	if err := m.framer.SendPreamble(symbol.MessagePreamble); err != nil {
		return err
	}
	if err := m.framer.SendDATA(frame.DATA{Sender: m.node, MsgID: item.MsgID, Payload: item.Payload}); err != nil {
		return err
	}
	m.logSent(item)

	if err := m.ensureInput(m.symFrames); err != nil {
		return err
	}
	d2 := preamble.New(m.dev, m.analyzer, m.symFrames, m.cfg.FreqTol)
	ctx2, cancel2 := context.WithTimeout(context.Background(), m.cfg.EndWait)
	err = d2.Detect(ctx2, m.cfg.DefaultEndFreq)
	cancel2()
	if err != nil {
		if !isTimeout(err) {
			return err
		}
		return nil // no END: requeue, no collision charge
	}

	m.backoff.Reset()
	m.pending = nil
	return nil
}

func (m *Machine) logSent(item outbound.Item) {
	target := "0"
	if item.Kind == outbound.Unicast {
		target = strconv.Itoa(item.Dest.Int())
	}
	m.cfg.Logger.Info(fmt.Sprintf("[SENT]: %s %s %s", item.Text, target, m.Now().Format("15:04:05")))
}

// --- device mode bookkeeping ---

func (m *Machine) ensureInput(frameLen int) error {
	if m.curMode == devInput && m.curFrameLen == frameLen {
		return nil
	}
	if m.curMode != devClosed {
		if err := m.dev.Close(); err != nil {
			return errors.Wrap(err, "mac: could not close device before switching to input")
		}
	}
	if err := m.dev.OpenInput(frameLen); err != nil {
		return errors.Wrap(err, "mac: could not open device for input")
	}
	m.curMode, m.curFrameLen = devInput, frameLen
	return nil
}

func (m *Machine) ensureOutput() error {
	if m.curMode == devOutput {
		return nil
	}
	if m.curMode != devClosed {
		if err := m.dev.Close(); err != nil {
			return errors.Wrap(err, "mac: could not close device before switching to output")
		}
	}
	if err := m.dev.OpenOutput(); err != nil {
		return errors.Wrap(err, "mac: could not open device for output")
	}
	m.curMode = devOutput
	return nil
}

// isDropErr reports whether err is a protocol-level decode failure
// that spec.md §7 says to drop silently, as opposed to a fatal
// audio.Device error that must propagate out of Run.
func isDropErr(err error) bool {
	return errors.Is(err, frame.ErrUndecodable) || errors.Is(err, frame.ErrPayloadSize)
}

// isTimeout reports whether err is preamble.ErrTimeout, as opposed to
// a fatal audio.Device error propagated up through the same call.
func isTimeout(err error) bool {
	return errors.Is(err, preamble.ErrTimeout)
}

// --- ACK schedule ---

// activeNodes returns the numNodes node ids taking part in the
// network: Node1 always, Node2 when numNodes >= 2, Node3 when
// numNodes == 3. spec.md leaves the two-node topology's concrete peer
// identities unspecified beyond "the other node"; this is the
// resolution recorded in DESIGN.md.
func activeNodes(numNodes int) []config.NodeId {
	all := []config.NodeId{config.Node1, config.Node2, config.Node3}
	return all[:numNodes]
}

// ackOrder returns the node ids expected to send an END after sender
// broadcasts, in ACK-slot order.
func ackOrder(sender config.NodeId, numNodes int) []config.NodeId {
	var others []config.NodeId
	for _, n := range activeNodes(numNodes) {
		if n != sender {
			others = append(others, n)
		}
	}
	return others
}

// ackSlot generalizes spec.md §4.G's three-node ACK-slot rule: acker's
// rank (0 or 1) among {Node1,Node2,Node3}\{sender}, ordered by integer
// value. This reproduces the spec's explicit per-sender table exactly.
func ackSlot(sender, acker config.NodeId) int {
	for i, n := range ackOrder(sender, 3) {
		if n == acker {
			return i
		}
	}
	return -1
}

// nibblesToBitString renders payload nibbles as the 4-bit-per-nibble
// binary string spec.md §8 property 6 shows in a [RECVD] log line.
func nibblesToBitString(payload []byte) string {
	b := make([]byte, 0, 4*len(payload))
	for _, n := range payload {
		for bit := 3; bit >= 0; bit-- {
			if n&(1<<uint(bit)) != 0 {
				b = append(b, '1')
			} else {
				b = append(b, '0')
			}
		}
	}
	return string(b)
}
