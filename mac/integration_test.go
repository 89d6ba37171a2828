/*
NAME
  integration_test.go

DESCRIPTION
  integration_test.go exercises the MAC state machine end to end over
  an in-memory acoustic medium, running two or three independent
  Machines concurrently as a test harness (spec.md §8's multi-node
  properties).

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mac

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/tonemac/audio"
	"github.com/ausocean/tonemac/config"
	"github.com/ausocean/tonemac/outbound"
)

// testConfig shrinks every timing constant well below config.New's
// real-world defaults, so loopback.Device's real-time-simulating Read
// calls keep these tests fast without altering the sample rate,
// frequency plan, ratio or tolerance values.
func testConfig(logger *recordingLogger, numNodes int) config.Config {
	cfg := config.New(logger)
	cfg.SymbolDuration = 20 * time.Millisecond
	cfg.PreambleDuration = 5 * time.Millisecond
	cfg.PreambleRepeats = 4
	cfg.PreambleWait = 300 * time.Millisecond
	cfg.EndWait = 200 * time.Millisecond
	cfg.InterFrameGap = 10 * time.Millisecond
	cfg.BackoffBase = 30 * time.Millisecond
	cfg.NumNodes = numNodes
	return cfg
}

func testQueue(t *testing.T, cfg config.Config, lines string) *outbound.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".buffer")
	if lines != "" {
		if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	q, err := outbound.New(cfg, path)
	if err != nil {
		t.Fatalf("outbound.New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func runFor(machines []*Machine, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	var wg sync.WaitGroup
	for _, m := range machines {
		wg.Add(1)
		go func(m *Machine) {
			defer wg.Done()
			m.Run(ctx)
		}(m)
	}
	wg.Wait()
}

func linesWithPrefix(lines []string, prefix string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// TestUnicastHappyPath covers spec.md §8 property 6: node 01 sends
// "HI" to node 10 over a two-node medium and the exchange completes
// with exactly one [SENT] and one [RECVD] line.
func TestUnicastHappyPath(t *testing.T) {
	loggerA, loggerB := &recordingLogger{}, &recordingLogger{}
	cfgA, cfgB := testConfig(loggerA, 2), testConfig(loggerB, 2)

	medium := audio.NewMedium(2)
	devA, devB := medium.NewLoopback(0, cfgA.SampleRate), medium.NewLoopback(1, cfgB.SampleRate)

	queueA := testQueue(t, cfgA, "HI 2\n")
	queueB := testQueue(t, cfgB, "")

	mA := New(cfgA, config.Node1, devA, queueA)
	mB := New(cfgB, config.Node2, devB, queueB)

	runFor([]*Machine{mA, mB}, 3*time.Second)

	sent := linesWithPrefix(loggerA.lines, "[SENT]: HI 2")
	if len(sent) != 1 {
		t.Fatalf("A's [SENT] lines = %v, want exactly one \"[SENT]: HI 2 ...\"", loggerA.lines)
	}
	recvd := linesWithPrefix(loggerB.lines, "[RECVD]:")
	if len(recvd) != 1 {
		t.Fatalf("B's [RECVD] lines = %v, want exactly one", loggerB.lines)
	}
	if !strings.Contains(recvd[0], " 1 ") {
		t.Errorf("B's [RECVD] line = %q, want sender 1", recvd[0])
	}
	if mA.pending != nil {
		t.Errorf("A still has a pending item after a successful exchange")
	}
	if mA.backoff.Collisions() != 0 {
		t.Errorf("A's collision count = %d, want 0 after success", mA.backoff.Collisions())
	}
}

// TestBroadcastACKSchedule covers spec.md §8 property 7: with three
// nodes, both ackers' ENDs arrive and the sender resets its collision
// count.
func TestBroadcastACKSchedule(t *testing.T) {
	loggerA := &recordingLogger{}
	loggerB := &recordingLogger{}
	loggerC := &recordingLogger{}
	cfgA := testConfig(loggerA, 3)
	cfgB := testConfig(loggerB, 3)
	cfgC := testConfig(loggerC, 3)

	medium := audio.NewMedium(3)
	devA := medium.NewLoopback(0, cfgA.SampleRate)
	devB := medium.NewLoopback(1, cfgB.SampleRate)
	devC := medium.NewLoopback(2, cfgC.SampleRate)

	queueA := testQueue(t, cfgA, "X 0\n")
	queueB := testQueue(t, cfgB, "")
	queueC := testQueue(t, cfgC, "")

	mA := New(cfgA, config.Node1, devA, queueA)
	mB := New(cfgB, config.Node2, devB, queueB)
	mC := New(cfgC, config.Node3, devC, queueC)

	runFor([]*Machine{mA, mB, mC}, 3*time.Second)

	if mA.pending != nil {
		t.Errorf("sender still has a pending item after both ENDs should have arrived")
	}
	if mA.backoff.Collisions() != 0 {
		t.Errorf("sender's collision count = %d, want 0", mA.backoff.Collisions())
	}
	if len(linesWithPrefix(loggerB.lines, "[RECVD]:")) != 1 {
		t.Errorf("node 10's [RECVD] lines = %v, want exactly one", loggerB.lines)
	}
	if len(linesWithPrefix(loggerC.lines, "[RECVD]:")) != 1 {
		t.Errorf("node 11's [RECVD] lines = %v, want exactly one", loggerC.lines)
	}
}

// TestBroadcastACKLoss covers spec.md §8 property 8: the same setup as
// TestBroadcastACKSchedule but with node 11 never run (muted), so the
// sender's wait for the second END times out and it charges one
// collision, leaving the message queued for retry.
func TestBroadcastACKLoss(t *testing.T) {
	loggerA := &recordingLogger{}
	loggerB := &recordingLogger{}
	cfgA := testConfig(loggerA, 3)
	cfgB := testConfig(loggerB, 3)

	medium := audio.NewMedium(3) // index 2 (node 11) has no Machine driving it
	devA := medium.NewLoopback(0, cfgA.SampleRate)
	devB := medium.NewLoopback(1, cfgB.SampleRate)

	queueA := testQueue(t, cfgA, "X 0\n")
	queueB := testQueue(t, cfgB, "")

	mA := New(cfgA, config.Node1, devA, queueA)
	mB := New(cfgB, config.Node2, devB, queueB)

	runFor([]*Machine{mA, mB}, 3*time.Second)

	if mA.pending == nil {
		t.Fatalf("sender dropped the item, want it requeued after a missing END")
	}
	if mA.backoff.Collisions() != 1 {
		t.Errorf("sender's collision count = %d, want 1", mA.backoff.Collisions())
	}
}

// TestCollisionRecoveryBacksOffIndependently covers spec.md §8
// property 9's intent: two nodes independently racing for the channel
// toward an unreachable peer both time out waiting for CTS and back
// off with collision counts driven independently, bounded by their
// own node id.
func TestCollisionRecoveryBacksOffIndependently(t *testing.T) {
	loggerA := &recordingLogger{}
	loggerB := &recordingLogger{}
	cfgA := testConfig(loggerA, 3)
	cfgB := testConfig(loggerB, 3)

	medium := audio.NewMedium(3) // node 11 (index 2) never answers either RTS
	devA := medium.NewLoopback(0, cfgA.SampleRate)
	devB := medium.NewLoopback(1, cfgB.SampleRate)

	queueA := testQueue(t, cfgA, "A1 3\n")
	queueB := testQueue(t, cfgB, "B1 3\n")

	mA := New(cfgA, config.Node1, devA, queueA)
	mB := New(cfgB, config.Node2, devB, queueB)

	runFor([]*Machine{mA, mB}, 3*time.Second)

	if mA.backoff.Collisions() == 0 {
		t.Errorf("node 01's collision count = 0, want at least one collision from an unanswered RTS")
	}
	if mB.backoff.Collisions() == 0 {
		t.Errorf("node 10's collision count = 0, want at least one collision from an unanswered RTS")
	}
	if mA.pending == nil || mB.pending == nil {
		t.Errorf("both senders should still have their item queued for retry")
	}
}
