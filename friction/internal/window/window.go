// Package window holds age-bounded sample buffers. A Buffer never keeps a
// sample older than its span relative to the newest sample, whatever the
// input rate: excess input is evicted, never queued.
package window

import "time"

// Point is a timestamped pointer position.
type Point struct {
	At   time.Time
	X, Y float64
}

// Buffer keeps entries no older than span. Entries must be added in
// non-decreasing time order. Not safe for concurrent use.
type Buffer[T any] struct {
	span    time.Duration
	at      []time.Time
	entries []T
}

// New returns an empty Buffer with the given age span.
func New[T any](span time.Duration) *Buffer[T] {
	return &Buffer[T]{span: span}
}

// Add appends v observed at t and evicts entries older than t - span.
func (b *Buffer[T]) Add(t time.Time, v T) {
	b.at = append(b.at, t)
	b.entries = append(b.entries, v)
	b.Prune(t)
}

// Prune evicts entries older than now - span. An entry exactly span old
// is kept.
func (b *Buffer[T]) Prune(now time.Time) {
	cut := 0
	for cut < len(b.at) && now.Sub(b.at[cut]) > b.span {
		cut++
	}
	if cut == 0 {
		return
	}
	// Shift down so the backing array does not grow without bound.
	n := copy(b.at, b.at[cut:])
	b.at = b.at[:n]
	m := copy(b.entries, b.entries[cut:])
	clear(b.entries[m:len(b.entries)])
	b.entries = b.entries[:m]
}

// Len returns the number of live entries.
func (b *Buffer[T]) Len() int { return len(b.entries) }

// Entries returns the live entries, oldest first. The slice is shared with
// the buffer until the next Add, Prune or Reset.
func (b *Buffer[T]) Entries() []T { return b.entries }

// Times returns the observation times of the live entries.
func (b *Buffer[T]) Times() []time.Time { return b.at }

// Span returns the time between the oldest and the newest entry.
func (b *Buffer[T]) Span() time.Duration {
	if len(b.at) < 2 {
		return 0
	}
	return b.at[len(b.at)-1].Sub(b.at[0])
}

// Since returns the entries observed at or after t.
func (b *Buffer[T]) Since(t time.Time) []T {
	for i, at := range b.at {
		if !at.Before(t) {
			return b.entries[i:]
		}
	}
	return nil
}

// Reset drops every entry.
func (b *Buffer[T]) Reset() {
	clear(b.entries)
	b.at = b.at[:0]
	b.entries = b.entries[:0]
}
