// Package threads assembles a comment forest from a flat page of rows.
// The forest is an arena keyed by id with child lists as ordered id
// sequences, never embedded object cycles, so serialization and partial
// updates stay tractable.
package threads

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"mangrove/internal/models"
	"mangrove/internal/pagination"
)

const DefaultRepliesPerNode = 5

// Node is one comment in the forest. Replies are ids into the arena.
type Node struct {
	Comment *models.Comment `json:"comment"`
	Replies []uuid.UUID     `json:"replies"`

	// HasMoreReplies signals children beyond this page's per-node limit;
	// ReplyCursor is the offset to continue from.
	HasMoreReplies bool   `json:"hasMoreReplies"`
	ReplyCursor    string `json:"replyCursor,omitempty"`

	// IsPartial marks a node whose parent lies outside the fetched
	// window; ancestors may exist even though it renders at top level.
	IsPartial bool `json:"isPartial,omitempty"`
}

// Forest is the arena plus the ordered roots of this page.
type Forest struct {
	Roots []uuid.UUID         `json:"roots"`
	Nodes map[uuid.UUID]*Node `json:"nodes"`
}

// Options control sibling ordering and per-node reply pagination.
type Options struct {
	SortBy         pagination.SortMode
	RepliesPerNode int // <= 0 means unlimited
}

// Build groups rows by parent and attaches each group under its parent
// node. Rows whose parent is not in the page become roots flagged
// IsPartial. Soft-deleted parents stay in place so reply subtrees keep
// their conversational context; orphans are never promoted past them.
func Build(rows []*models.Comment, opts Options) *Forest {
	if opts.SortBy == "" {
		opts.SortBy = pagination.SortRecent
	}

	forest := &Forest{Nodes: make(map[uuid.UUID]*Node, len(rows))}
	for _, row := range rows {
		forest.Nodes[row.ID] = &Node{Comment: row}
	}

	children := make(map[uuid.UUID][]uuid.UUID)
	var roots []uuid.UUID
	for _, row := range rows {
		if row.ParentID != nil {
			if _, ok := forest.Nodes[*row.ParentID]; ok {
				children[*row.ParentID] = append(children[*row.ParentID], row.ID)
				continue
			}
			forest.Nodes[row.ID].IsPartial = true
		}
		roots = append(roots, row.ID)
	}

	orderSiblings(forest, roots, opts.SortBy)
	forest.Roots = roots

	for parentID, group := range children {
		orderSiblings(forest, group, opts.SortBy)
		node := forest.Nodes[parentID]
		shown := len(group)
		if opts.RepliesPerNode > 0 && shown > opts.RepliesPerNode {
			shown = opts.RepliesPerNode
			for _, dropped := range group[shown:] {
				prune(forest, children, dropped)
			}
			group = group[:shown]
		}
		node.Replies = group
		// More replies can also exist outside the fetched page entirely;
		// the denormalized reply count is authoritative for that.
		if node.Comment.ReplyCount > shown || len(children[parentID]) > shown {
			node.HasMoreReplies = true
			node.ReplyCursor = strconv.Itoa(shown)
		}
	}

	return forest
}

// orderSiblings sorts a sibling group in place: pinned first, then the
// active sort mode, with an id-ascending final tie-break so pagination
// is stable across requests with equal primary keys.
func orderSiblings(f *Forest, group []uuid.UUID, mode pagination.SortMode) {
	sort.SliceStable(group, func(i, j int) bool {
		a, b := f.Nodes[group[i]].Comment, f.Nodes[group[j]].Comment
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		ka := pagination.SortKey{VoteScore: a.VoteScore, CreatedAt: a.CreatedAt, ID: a.ID}
		kb := pagination.SortKey{VoteScore: b.VoteScore, CreatedAt: b.CreatedAt, ID: b.ID}
		if c := pagination.Compare(ka, kb, mode); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}

// prune removes a node and its subtree from the arena after it falls past
// the per-node reply limit.
func prune(f *Forest, children map[uuid.UUID][]uuid.UUID, id uuid.UUID) {
	for _, child := range children[id] {
		prune(f, children, child)
	}
	delete(children, id)
	delete(f.Nodes, id)
}

// Flatten walks the forest pre-order, yielding every id with parents
// before children.
func (f *Forest) Flatten() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(f.Nodes))
	var walk func(id uuid.UUID)
	walk = func(id uuid.UUID) {
		out = append(out, id)
		for _, child := range f.Nodes[id].Replies {
			walk(child)
		}
	}
	for _, root := range f.Roots {
		walk(root)
	}
	return out
}
