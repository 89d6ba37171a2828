/*
NAME
  frame_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/config"
)

type dumbLogger struct{}

func (dumbLogger) Log(l int8, m string, a ...interface{}) {}
func (dumbLogger) SetLevel(l int8)                         {}
func (dumbLogger) Debug(msg string, args ...interface{})   {}
func (dumbLogger) Info(msg string, args ...interface{})    {}
func (dumbLogger) Warning(msg string, args ...interface{}) {}
func (dumbLogger) Error(msg string, args ...interface{})   {}
func (dumbLogger) Fatal(msg string, args ...interface{})   {}

// testConfig shortens the symbol and preamble durations relative to
// config.New's real-world defaults, so that loopback.Device's
// real-time-simulating Read calls keep these tests fast, without
// altering the sample rate, the frequency plan or the ratio/tolerance
// values that drive the bit-slicer.
func testConfig() config.Config {
	cfg := config.New(dumbLogger{})
	cfg.SymbolDuration = 20 * time.Millisecond
	cfg.PreambleDuration = 5 * time.Millisecond
	return cfg
}

func TestSendRecvRTS(t *testing.T) {
	cfg := testConfig()
	m := audio.NewMedium(2)
	a := m.NewLoopback(0, cfg.SampleRate)
	b := m.NewLoopback(1, cfg.SampleRate)
	if err := a.OpenOutput(); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := b.OpenInput(100); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	sender := New(cfg, a)
	receiver := New(cfg, b)

	if err := sender.SendRTS(config.Node1, config.Node2); err != nil {
		t.Fatalf("SendRTS: %v", err)
	}
	got, err := receiver.RecvRTS()
	if err != nil {
		t.Fatalf("RecvRTS: %v", err)
	}
	want := RTS{Sender: config.Node1, Dest: config.Node2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecvRTS mismatch (-want +got):\n%s", diff)
	}
}

func TestSendRecvCTS(t *testing.T) {
	cfg := testConfig()
	m := audio.NewMedium(2)
	a := m.NewLoopback(0, cfg.SampleRate)
	b := m.NewLoopback(1, cfg.SampleRate)
	if err := a.OpenOutput(); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := b.OpenInput(100); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	sender := New(cfg, a)
	receiver := New(cfg, b)

	if err := sender.SendCTS(config.Node2, config.Node1); err != nil {
		t.Fatalf("SendCTS: %v", err)
	}
	got, err := receiver.RecvCTS()
	if err != nil {
		t.Fatalf("RecvCTS: %v", err)
	}
	want := CTS{Sender: config.Node2, Dest: config.Node1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecvCTS mismatch (-want +got):\n%s", diff)
	}
}

// TestPayloadLengthBoundaries covers spec.md §8 property 10: messages
// of 1, 4, 5 and 15 payload nibbles recover exactly.
func TestPayloadLengthBoundaries(t *testing.T) {
	cfg := testConfig()
	for _, n := range []int{1, 4, 5, 15} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte((i*3 + 1) & 0xF)
		}

		m := audio.NewMedium(2)
		a := m.NewLoopback(0, cfg.SampleRate)
		b := m.NewLoopback(1, cfg.SampleRate)
		if err := a.OpenOutput(); err != nil {
			t.Fatalf("OpenOutput: %v", err)
		}
		if err := b.OpenInput(100); err != nil {
			t.Fatalf("OpenInput: %v", err)
		}

		sender := New(cfg, a)
		receiver := New(cfg, b)

		want := DATA{Sender: config.Node1, MsgID: 2, Payload: payload}
		if err := sender.SendDATA(want); err != nil {
			t.Fatalf("n=%d: SendDATA: %v", n, err)
		}
		got, err := receiver.RecvDATA()
		if err != nil {
			t.Fatalf("n=%d: RecvDATA: %v", n, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("n=%d: RecvDATA mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestSendDATARejectsOutOfRangePayload(t *testing.T) {
	cfg := testConfig()
	m := audio.NewMedium(1)
	a := m.NewLoopback(0, cfg.SampleRate)
	if err := a.OpenOutput(); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	f := New(cfg, a)

	if err := f.SendDATA(DATA{Payload: nil}); err != ErrPayloadSize {
		t.Errorf("SendDATA(empty payload) = %v, want ErrPayloadSize", err)
	}
	if err := f.SendDATA(DATA{Payload: make([]byte, 16)}); err != ErrPayloadSize {
		t.Errorf("SendDATA(16 nibbles) = %v, want ErrPayloadSize", err)
	}
}

func TestSendEnd(t *testing.T) {
	cfg := testConfig()
	m := audio.NewMedium(2)
	a := m.NewLoopback(0, cfg.SampleRate)
	b := m.NewLoopback(1, cfg.SampleRate)
	if err := a.OpenOutput(); err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	if err := b.OpenInput(100); err != nil {
		t.Fatalf("OpenInput: %v", err)
	}

	sender := New(cfg, a)
	if err := sender.SendEnd(cfg.DefaultEndFreq); err != nil {
		t.Fatalf("SendEnd: %v", err)
	}
	frame, err := b.Read(int(float64(cfg.SampleRate) * cfg.SymbolDuration.Seconds()))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	nonzero := 0
	for _, s := range frame {
		if s != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Errorf("expected an audible END tone, got silence")
	}
}
