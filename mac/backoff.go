/*
NAME
  backoff.go

DESCRIPTION
  backoff.go implements the MAC layer's truncated binary exponential
  backoff: wait := uniform_int(1, 2^c) * B * id_int, per spec.md
  §4.G's Backoff rule.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mac

import (
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ausocean/tonemac/config"
)

// Backoff tracks the consecutive-collision counter c and draws the
// next wait interval from it.
type Backoff struct {
	base       time.Duration
	collisions int
	src        rand.Source
}

// NewBackoff returns a Backoff with base interval base, drawing from
// src. Passing a fixed-seed src makes the draw reproducible in tests;
// mac.New seeds from the wall clock.
func NewBackoff(base time.Duration, src rand.Source) *Backoff {
	return &Backoff{base: base, src: src}
}

// Collisions reports the current consecutive-collision count c.
func (b *Backoff) Collisions() int { return b.collisions }

// RecordCollision increments c ahead of the next Next call.
func (b *Backoff) RecordCollision() { b.collisions++ }

// Reset zeroes c, as spec.md §4.G requires on any successful exchange.
func (b *Backoff) Reset() { b.collisions = 0 }

// Next draws a wait duration uniform_int(1, 2^c) * base * node.Int(),
// using the current collision count. A continuous Uniform(1, 2^c+1)
// draw is floored to recover the integer draw in [1, 2^c].
func (b *Backoff) Next(node config.NodeId) time.Duration {
	upper := math.Pow(2, float64(b.collisions))
	u := distuv.Uniform{Min: 1, Max: upper + 1, Src: b.src}.Rand()
	draw := int(u)
	if draw < 1 {
		draw = 1
	}
	if draw > int(upper) {
		draw = int(upper)
	}
	return time.Duration(draw) * b.base * time.Duration(node.Int())
}
