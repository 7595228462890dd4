// Package ledger holds the vote transition rules shared by every store
// backend. A transition is computed from the previous ledger row alone,
// never from the denormalized aggregate, so deltas from concurrent voters
// commute.
package ledger

import (
	"mangrove/internal/models"
)

// Op is the ledger row operation a cast resolves to.
type Op int

const (
	OpInsert Op = iota // no prior vote: insert the row
	OpDelete           // same direction cast again: toggle off
	OpUpdate           // opposite direction: overwrite the row
)

// Transition is the outcome of resolving a cast against the prior row.
type Transition struct {
	Op            Op
	State         models.VoteState
	UpvoteDelta   int
	DownvoteDelta int
}

// Resolve computes the transition for a cast. prev is nil when the user
// has no vote on the subject. The caller must hold the per-(subject,user)
// serialization point while reading prev and applying the result.
func Resolve(prev *models.VoteDirection, direction models.VoteDirection) Transition {
	if prev == nil {
		t := Transition{Op: OpInsert, State: stateFor(direction)}
		t.UpvoteDelta, t.DownvoteDelta = sides(direction, 1)
		return t
	}

	if *prev == direction {
		// Toggle semantics: casting the same direction twice retracts.
		t := Transition{Op: OpDelete, State: models.VoteStateNone}
		t.UpvoteDelta, t.DownvoteDelta = sides(direction, -1)
		return t
	}

	// Opposite direction: one count reverses, the other is added.
	t := Transition{Op: OpUpdate, State: stateFor(direction)}
	newUp, newDown := sides(direction, 1)
	oldUp, oldDown := sides(*prev, -1)
	t.UpvoteDelta = newUp + oldUp
	t.DownvoteDelta = newDown + oldDown
	return t
}

// KarmaDelta is the author-karma adjustment implied by a transition.
func (t Transition) KarmaDelta() int {
	return t.UpvoteDelta - t.DownvoteDelta
}

func stateFor(d models.VoteDirection) models.VoteState {
	if d == models.VoteUp {
		return models.VoteStateUp
	}
	return models.VoteStateDown
}

func sides(d models.VoteDirection, sign int) (up, down int) {
	if d == models.VoteUp {
		return sign, 0
	}
	return 0, sign
}

// Counters are a subject's denormalized vote counts.
type Counters struct {
	Upvotes   int
	Downvotes int
}

// Score is the derived vote score.
func (c Counters) Score() int {
	return c.Upvotes - c.Downvotes
}

// ViolationFunc is invoked when applying a delta would drive a counter
// negative. The counter is clamped to zero and the violation surfaced as
// an observability event instead of propagating a negative value.
type ViolationFunc func(counter string, attempted int)

// Apply adds a transition's deltas to the counters, clamping at zero.
func Apply(c Counters, t Transition, onViolation ViolationFunc) Counters {
	c.Upvotes = clamp(c.Upvotes+t.UpvoteDelta, "upvotes", onViolation)
	c.Downvotes = clamp(c.Downvotes+t.DownvoteDelta, "downvotes", onViolation)
	return c
}

func clamp(v int, counter string, onViolation ViolationFunc) int {
	if v < 0 {
		if onViolation != nil {
			onViolation(counter, v)
		}
		return 0
	}
	return v
}
