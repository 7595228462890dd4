package pagination

import (
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromQueryDefaults(t *testing.T) {
	p, err := FromQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Equal(t, SortRecent, p.SortBy)
}

func TestFromQueryRejectsBadInput(t *testing.T) {
	_, err := FromQuery(url.Values{"page": {"0"}})
	assert.Error(t, err)

	_, err = FromQuery(url.Values{"limit": {"nope"}})
	assert.Error(t, err)

	_, err = FromQuery(url.Values{"sortBy": {"HOTTEST"}})
	assert.Error(t, err)
}

func TestFromQueryCapsLimit(t *testing.T) {
	p, err := FromQuery(url.Values{"limit": {"5000"}})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, p.Limit)
}

func TestMetaTotalPages(t *testing.T) {
	meta := NewMeta(Params{Page: 2, Limit: 10}, 20)
	assert.Equal(t, 2, meta.TotalPages)

	meta = NewMeta(Params{Page: 1, Limit: 10}, 21)
	assert.Equal(t, 3, meta.TotalPages)

	meta = NewMeta(Params{Page: 1, Limit: 10}, 0)
	assert.Equal(t, 0, meta.TotalPages)
}

func keys(n int) []SortKey {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := make([]SortKey, n)
	for i := range out {
		out[i] = SortKey{
			VoteScore: i % 3,
			CreatedAt: base.Add(time.Duration(i%7) * time.Minute),
			ID:        uuid.New(),
		}
	}
	return out
}

// Sorting twice from different initial orders must agree: the ordering is
// total thanks to the id tie-break.
func TestLessIsDeterministic(t *testing.T) {
	for _, mode := range []SortMode{SortRecent, SortMostVoted} {
		a := keys(40)
		b := make([]SortKey, len(a))
		copy(b, a)
		for i := range b {
			j := (i * 17) % len(b)
			b[i], b[j] = b[j], b[i]
		}

		sort.Slice(a, func(i, j int) bool { return Less(a[i], a[j], mode) })
		sort.Slice(b, func(i, j int) bool { return Less(b[i], b[j], mode) })

		assert.Equal(t, a, b, "mode %s", mode)
	}
}

func TestLessRecentOrdersByCreationDesc(t *testing.T) {
	older := SortKey{CreatedAt: time.Now().Add(-time.Hour), ID: uuid.New()}
	newer := SortKey{CreatedAt: time.Now(), ID: uuid.New()}
	assert.True(t, Less(newer, older, SortRecent))
	assert.False(t, Less(older, newer, SortRecent))
}

func TestLessMostVotedFallsBackToRecency(t *testing.T) {
	now := time.Now()
	high := SortKey{VoteScore: 5, CreatedAt: now.Add(-time.Hour), ID: uuid.New()}
	low := SortKey{VoteScore: 1, CreatedAt: now, ID: uuid.New()}
	assert.True(t, Less(high, low, SortMostVoted))

	tiedOld := SortKey{VoteScore: 5, CreatedAt: now.Add(-2 * time.Hour), ID: uuid.New()}
	assert.True(t, Less(high, tiedOld, SortMostVoted))
}

func TestWindow(t *testing.T) {
	start, end := Window(20, Params{Page: 2, Limit: 10})
	assert.Equal(t, 10, start)
	assert.Equal(t, 20, end)

	start, end = Window(5, Params{Page: 3, Limit: 10})
	assert.Equal(t, 5, start)
	assert.Equal(t, 5, end)
}
