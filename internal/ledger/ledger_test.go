package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangrove/internal/models"
)

// userState applies a cast for one user and returns their stored vote
// after the transition, mirroring what a store does under its lock.
func applyCast(prev *models.VoteDirection, dir models.VoteDirection) (*models.VoteDirection, Transition) {
	t := Resolve(prev, dir)
	switch t.Op {
	case OpDelete:
		return nil, t
	default:
		d := dir
		return &d, t
	}
}

func TestResolveFreshVote(t *testing.T) {
	tr := Resolve(nil, models.VoteUp)
	assert.Equal(t, OpInsert, tr.Op)
	assert.Equal(t, models.VoteStateUp, tr.State)
	assert.Equal(t, 1, tr.UpvoteDelta)
	assert.Equal(t, 0, tr.DownvoteDelta)
}

func TestResolveToggleOff(t *testing.T) {
	prev := models.VoteDown
	tr := Resolve(&prev, models.VoteDown)
	assert.Equal(t, OpDelete, tr.Op)
	assert.Equal(t, models.VoteStateNone, tr.State)
	assert.Equal(t, 0, tr.UpvoteDelta)
	assert.Equal(t, -1, tr.DownvoteDelta)
}

func TestResolveOverwrite(t *testing.T) {
	prev := models.VoteDown
	tr := Resolve(&prev, models.VoteUp)
	assert.Equal(t, OpUpdate, tr.Op)
	assert.Equal(t, models.VoteStateUp, tr.State)
	assert.Equal(t, 1, tr.UpvoteDelta)
	assert.Equal(t, -1, tr.DownvoteDelta)
	assert.Equal(t, 2, tr.KarmaDelta())
}

// Final state equals the direction of the last cast, or none when the
// last cast repeats the second-to-last.
func TestLastCastWins(t *testing.T) {
	sequences := [][]models.VoteDirection{
		{models.VoteUp},
		{models.VoteUp, models.VoteUp},
		{models.VoteUp, models.VoteDown},
		{models.VoteDown, models.VoteDown, models.VoteDown},
		{models.VoteUp, models.VoteDown, models.VoteDown},
		{models.VoteDown, models.VoteUp, models.VoteDown, models.VoteUp},
	}

	for _, seq := range sequences {
		var prev, beforeLast *models.VoteDirection
		var last Transition
		for _, dir := range seq {
			beforeLast = prev
			prev, last = applyCast(prev, dir)
		}

		lastDir := seq[len(seq)-1]
		if beforeLast != nil && *beforeLast == lastDir {
			// Toggle-off: repeating the held direction clears the vote.
			assert.Nil(t, prev)
			assert.Equal(t, models.VoteStateNone, last.State)
		} else {
			require.NotNil(t, prev)
			assert.Equal(t, lastDir, *prev)
		}
	}
}

// Counter deltas from distinct users commute: any interleaving converges
// to the sum of each user's final contribution.
func TestDeltasCommute(t *testing.T) {
	const users = 8
	const casts = 50

	rng := rand.New(rand.NewSource(42))

	type cast struct {
		user int
		dir  models.VoteDirection
	}
	var schedule []cast
	for i := 0; i < casts; i++ {
		dir := models.VoteUp
		if rng.Intn(2) == 0 {
			dir = models.VoteDown
		}
		schedule = append(schedule, cast{user: rng.Intn(users), dir: dir})
	}

	run := func(order []cast) (Counters, [users]*models.VoteDirection) {
		var state [users]*models.VoteDirection
		agg := Counters{}
		for _, c := range order {
			var tr Transition
			state[c.user], tr = applyCast(state[c.user], c.dir)
			agg = Apply(agg, tr, nil)
		}
		return agg, state
	}

	agg1, state1 := run(schedule)

	// Shuffle preserving per-user order (per-user casts are linearized by
	// the per-(subject,user) lock; cross-user order is free).
	perUser := make([][]cast, users)
	for _, c := range schedule {
		perUser[c.user] = append(perUser[c.user], c)
	}
	var interleaved []cast
	idx := make([]int, users)
	for len(interleaved) < len(schedule) {
		u := rng.Intn(users)
		if idx[u] < len(perUser[u]) {
			interleaved = append(interleaved, perUser[u][idx[u]])
			idx[u]++
		}
	}

	agg2, state2 := run(interleaved)

	assert.Equal(t, agg1, agg2)
	assert.Equal(t, state1, state2)

	// Aggregate equals the ledger sum.
	want := Counters{}
	for _, s := range state1 {
		if s == nil {
			continue
		}
		if *s == models.VoteUp {
			want.Upvotes++
		} else {
			want.Downvotes++
		}
	}
	assert.Equal(t, want, agg1)
	assert.Equal(t, want.Upvotes-want.Downvotes, agg1.Score())
}

func TestApplyClampsNegative(t *testing.T) {
	violations := 0
	c := Apply(Counters{}, Transition{UpvoteDelta: -1}, func(counter string, attempted int) {
		violations++
		assert.Equal(t, "upvotes", counter)
		assert.Equal(t, -1, attempted)
	})
	assert.Equal(t, 0, c.Upvotes)
	assert.Equal(t, 1, violations)
}
