/*
NAME
  backoff_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mac

import (
	"math/rand"
	"testing"
	"time"

	"github.com/ausocean/tonemac/config"
)

// TestBackoffBoundedByCollisionCount covers spec.md §8 property 5:
// after c consecutive collisions with node-id i, wait falls in
// [B*i, 2^c*B*i].
func TestBackoffBoundedByCollisionCount(t *testing.T) {
	const base = 3 * time.Second
	b := NewBackoff(base, rand.NewSource(1))
	for c := 0; c < 5; c++ {
		for i := 0; i < 20; i++ {
			wait := b.Next(config.Node3)
			lo := base * 1 * 3
			hi := time.Duration(1<<uint(c)) * base * 3
			if wait < lo || wait > hi {
				t.Fatalf("c=%d: wait=%v, want in [%v, %v]", c, wait, lo, hi)
			}
		}
		b.RecordCollision()
	}
}

func TestBackoffResetsCollisions(t *testing.T) {
	b := NewBackoff(time.Second, rand.NewSource(1))
	b.RecordCollision()
	b.RecordCollision()
	b.RecordCollision()
	if b.Collisions() != 3 {
		t.Fatalf("Collisions() = %d, want 3", b.Collisions())
	}
	b.Reset()
	if b.Collisions() != 0 {
		t.Fatalf("Collisions() after Reset = %d, want 0", b.Collisions())
	}
}

func TestBackoffScalesWithNodeId(t *testing.T) {
	b := NewBackoff(time.Second, rand.NewSource(7))
	w1 := b.Next(config.Node1)
	b2 := NewBackoff(time.Second, rand.NewSource(7))
	w3 := b2.Next(config.Node3)
	if w3 != 3*w1 {
		t.Errorf("Node3 draw = %v, want exactly 3x Node1 draw %v (same seed, same collision count)", w3, w1)
	}
}
