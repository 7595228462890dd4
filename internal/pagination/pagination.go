// Package pagination implements the sort modes and offset paging shared
// by the REST surface and the in-memory store. Orderings are total: every
// mode ends in an id tie-break so equal primary keys cannot reshuffle
// between requests.
package pagination

import (
	"bytes"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mangrove/internal/utils"
)

type SortMode string

const (
	SortRecent    SortMode = "RECENT"
	SortMostVoted SortMode = "MOST_VOTED"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ParseSortMode validates a sortBy query value. Empty defaults to RECENT.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case "":
		return SortRecent, nil
	case SortRecent:
		return SortRecent, nil
	case SortMostVoted:
		return SortMostVoted, nil
	}
	return "", utils.NewValidationError("unknown sortBy value: " + s)
}

// Params is a 1-indexed page request.
type Params struct {
	Page   int
	Limit  int
	SortBy SortMode
}

// FromQuery parses page/limit/sortBy with defaults and caps.
func FromQuery(values url.Values) (Params, error) {
	p := Params{Page: 1, Limit: DefaultLimit}

	if pageStr := values.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return p, utils.NewValidationError("page must be a positive integer")
		}
		p.Page = page
	}
	if limitStr := values.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return p, utils.NewValidationError("limit must be a positive integer")
		}
		p.Limit = limit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	sortBy, err := ParseSortMode(values.Get("sortBy"))
	if err != nil {
		return p, err
	}
	p.SortBy = sortBy
	return p, nil
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Meta describes the page actually returned. Total comes from a count
// query sharing the data query's filter predicate.
type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewMeta(p Params, total int) Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + p.Limit - 1) / p.Limit
	}
	return Meta{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// SortKey carries the fields any entity is ordered by.
type SortKey struct {
	VoteScore int
	CreatedAt time.Time
	ID        uuid.UUID
}

// Compare orders two keys by the mode's primary keys only, returning
// <0, 0, >0. Ties on every primary key return 0; callers add their own
// final id tie-break (descending for page feeds, ascending for sibling
// groups inside a comment tree).
func Compare(a, b SortKey, mode SortMode) int {
	if mode == SortMostVoted {
		if a.VoteScore != b.VoteScore {
			if a.VoteScore > b.VoteScore {
				return -1
			}
			return 1
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return 0
}

// Less is the full feed ordering: mode primaries, then id descending.
func Less(a, b SortKey, mode SortMode) bool {
	if c := Compare(a, b, mode); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

// OrderBy renders the mode as a SQL ORDER BY body for the given column
// prefix, with the id-descending tie-break included.
func (m SortMode) OrderBy(prefix string) string {
	if prefix != "" {
		prefix += "."
	}
	if m == SortMostVoted {
		return prefix + "vote_score DESC, " + prefix + "created_at DESC, " + prefix + "id DESC"
	}
	return prefix + "created_at DESC, " + prefix + "id DESC"
}

// Window slices an already-sorted slice length into [start, end) bounds.
func Window(total int, p Params) (start, end int) {
	start = p.Offset()
	if start > total {
		start = total
	}
	end = start + p.Limit
	if end > total {
		end = total
	}
	return start, end
}
