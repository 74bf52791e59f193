// Package sequence implements the per-market monotonic gapless sequence
// counter (spec.md §4.1).
package sequence

import "sync/atomic"

// Generator issues gapless, monotonically increasing sequence numbers for
// one market. Each market owns exactly one Generator, consulted by exactly
// one writer goroutine (spec.md §5: "the sequence counter is strictly
// per-market"), so a plain atomic counter — rather than a mutex — is
// sufficient and matches spec.md §4.1 ("single-writer variants use simple
// increment"); the atomic is retained so the value can also be read
// concurrently (e.g. by a metrics exporter) without synchronizing with the
// writer.
type Generator struct {
	next atomic.Uint64
}

// New creates a generator whose first issued sequence is start. Recovery
// (spec.md §4.9 step 3) constructs one with start = last_replayed + 1.
func New(start uint64) *Generator {
	g := &Generator{}
	g.next.Store(start)
	return g
}

// Next returns the next sequence and advances the counter. Must only be
// called by the market's single writer goroutine.
func (g *Generator) Next() uint64 {
	return g.next.Add(1) - 1
}

// Peek returns the next sequence that Next() would return, without
// consuming it. Safe for concurrent read from other goroutines (metrics,
// snapshotting of "next sequence" for a point-in-time capture).
func (g *Generator) Peek() uint64 {
	return g.next.Load()
}
