// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package color

import "maps"

// Pool counts how many participants hold each color. A color with a
// non-zero count is unavailable. Pool is not safe for concurrent use;
// the Engine guards it.
type Pool struct {
	used map[int]int
}

// NewPool returns an empty pool.
func NewPool() *Pool { return &Pool{used: make(map[int]int)} }

// Add marks color as held once more. UnknownColor is ignored.
func (p *Pool) Add(color int) {
	if color < 0 {
		return
	}
	p.used[color]++
}

// Release drops one hold on color. Counts never go below zero.
func (p *Pool) Release(color int) {
	count, ok := p.used[color]
	if !ok {
		return
	}
	if count <= 1 {
		delete(p.used, color)
		return
	}
	p.used[color] = count - 1
}

// InUse reports whether color is held.
func (p *Pool) InUse(color int) bool { return p.used[color] > 0 }

// LowestFree returns the smallest non-negative color not held: the
// first gap, or one past the highest held color.
func (p *Pool) LowestFree() int {
	for color := 0; ; color++ {
		if !p.InUse(color) {
			return color
		}
	}
}

// Snapshot returns a copy of the hold counts.
func (p *Pool) Snapshot() map[int]int { return maps.Clone(p.used) }
