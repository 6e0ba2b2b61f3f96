// Package freshness decides whether a stored timestamp is recent enough to
// answer a lookup without a remote refresh.
package freshness

import (
	"fmt"
	"time"
)

type kind uint8

const (
	kindAny kind = iota
	kindNone
	kindNotOlderThan
	kindNewerThan
)

// Bound is a freshness policy. The zero value is Any.
type Bound struct {
	kind   kind
	maxAge time.Duration
	after  time.Time
}

// Any accepts every stored value regardless of age.
func Any() Bound { return Bound{kind: kindAny} }

// None accepts nothing; a refresh is always required.
func None() Bound { return Bound{kind: kindNone} }

// NotOlderThan accepts values fetched within d of now.
func NotOlderThan(d time.Duration) Bound {
	return Bound{kind: kindNotOlderThan, maxAge: d}
}

// NewerThan accepts values fetched strictly after t.
func NewerThan(t time.Time) Bound {
	return Bound{kind: kindNewerThan, after: t}
}

// Satisfied reports whether a value fetched at ts satisfies b at now.
func (b Bound) Satisfied(ts, now time.Time) bool {
	switch b.kind {
	case kindAny:
		return true
	case kindNone:
		return false
	case kindNotOlderThan:
		return now.Sub(ts) <= b.maxAge
	case kindNewerThan:
		return ts.After(b.after)
	}
	return false
}

// SatisfiedByRefreshStartedAt reports whether a refresh started at start
// is guaranteed to produce a value satisfying b. Values produced by a
// refresh are timestamped no earlier than its start, so a waiter may join
// such a refresh instead of issuing its own.
func (b Bound) SatisfiedByRefreshStartedAt(start, now time.Time) bool {
	if b.kind == kindNone {
		// any value fetched after the request was made is acceptable.
		return !start.Before(now)
	}
	return b.Satisfied(start, now)
}

// IsAny reports whether b accepts every value.
func (b Bound) IsAny() bool { return b.kind == kindAny }

func (b Bound) String() string {
	switch b.kind {
	case kindAny:
		return "any"
	case kindNone:
		return "none"
	case kindNotOlderThan:
		return fmt.Sprintf("not-older-than(%s)", b.maxAge)
	case kindNewerThan:
		return fmt.Sprintf("newer-than(%s)", b.after.Format(time.RFC3339Nano))
	}
	return "unknown"
}
