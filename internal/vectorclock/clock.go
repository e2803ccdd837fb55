// Package vectorclock implements the causality primitive used to decide
// precedence between concurrent shape edits (§4.B).
package vectorclock

// Clock is a sparse mapping from author id to a monotonic counter. A
// missing key reads as 0; the zero value of Clock is a valid empty clock.
type Clock map[string]uint64

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Clone returns a deep copy so callers can mutate freely without aliasing
// the receiver's backing map.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Inc increments node's counter by one and returns the resulting clock
// (a copy; c is left untouched).
func (c Clock) Inc(node string) Clock {
	out := c.Clone()
	out[node] = out[node] + 1
	return out
}

// Get returns node's counter, or 0 if node has never touched this clock.
func (c Clock) Get(node string) uint64 {
	return c[node]
}

// Merge returns the pointwise maximum of c and other.
func (c Clock) Merge(other Clock) Clock {
	out := c.Clone()
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// HappensBefore reports whether c causally precedes other: every entry of
// c is <= the corresponding entry of other, and at least one is strictly
// less.
func (c Clock) HappensBefore(other Clock) bool {
	strictlyLess := false
	for k, v := range c {
		if v > other[k] {
			return false
		}
		if v < other[k] {
			strictlyLess = true
		}
	}
	for k, v := range other {
		if _, ok := c[k]; !ok && v > 0 {
			strictlyLess = true
		}
	}
	return strictlyLess
}

// Concurrent reports whether neither clock happens-before the other.
func (c Clock) Concurrent(other Clock) bool {
	return !c.HappensBefore(other) && !other.HappensBefore(c)
}

// Equal reports whether c and other have identical effective entries
// (missing keys treated as 0).
func (c Clock) Equal(other Clock) bool {
	for k, v := range c {
		if other[k] != v {
			return false
		}
	}
	for k, v := range other {
		if c[k] != v {
			return false
		}
	}
	return true
}
