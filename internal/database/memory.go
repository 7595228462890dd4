// internal/database/memory.go
package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mangrove/internal/ledger"
	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/utils"
)

type voteKey struct {
	SubjectID   uuid.UUID
	SubjectType models.SubjectType
	UserID      uuid.UUID
}

// MemoryStore is an in-memory Store and NotificationInbox. It backs unit
// tests and the simulator's offline mode; a single mutex stands in for
// the row locks the Postgres backend takes.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*models.User
	usersByName   map[string]uuid.UUID
	posts         map[uuid.UUID]*models.Post
	solutions     map[uuid.UUID]*models.Solution
	comments      map[uuid.UUID]*models.Comment
	votes         map[voteKey]models.VoteDirection
	notifications map[uuid.UUID][]*models.Notification

	// OnViolation, when set, observes counter clamps the way the Postgres
	// backend reports them through logs and metrics.
	OnViolation ledger.ViolationFunc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]*models.User),
		usersByName:   make(map[string]uuid.UUID),
		posts:         make(map[uuid.UUID]*models.Post),
		solutions:     make(map[uuid.UUID]*models.Solution),
		comments:      make(map[uuid.UUID]*models.Comment),
		votes:         make(map[voteKey]models.VoteDirection),
		notifications: make(map[uuid.UUID][]*models.Notification),
	}
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

// --- User Methods ---

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, utils.NewNotFoundError("user")
	}
	copied := *user
	return &copied, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, utils.NewNotFoundError("user")
	}
	copied := *m.users[id]
	return &copied, nil
}

func (m *MemoryStore) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.usersByName[user.Username]; ok && existing != user.ID {
		return utils.NewAppError(utils.ErrConflict, "username already taken", nil)
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	copied := *user
	m.users[user.ID] = &copied
	m.usersByName[user.Username] = user.ID
	return nil
}

// --- Post Methods ---

func (m *MemoryStore) SavePost(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.posts {
		if existing.Slug == post.Slug && existing.ID != post.ID {
			return utils.NewAppError(utils.ErrConflict, "slug already in use", nil)
		}
	}
	now := time.Now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	copied := *post
	m.posts[post.ID] = &copied
	return nil
}

func (m *MemoryStore) GetPost(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	post, ok := m.posts[id]
	if !ok {
		return nil, utils.NewNotFoundError("post")
	}
	copied := *post
	m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
	copied.CurrentUserVote = m.voteStateLocked(requestingUserID, id, models.SubjectPost)
	return &copied, nil
}

func (m *MemoryStore) UpdatePost(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.posts[post.ID]
	if !ok {
		return utils.NewNotFoundError("post")
	}
	existing.Title = post.Title
	existing.Content = post.Content
	existing.Tags = post.Tags
	existing.IsLocked = post.IsLocked
	existing.IsDeleted = post.IsDeleted
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementViewCount(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if post, ok := m.posts[id]; ok {
		post.ViewCount++
	}
	return nil
}

func (m *MemoryStore) GetRecentPosts(ctx context.Context, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Post, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var visible []*models.Post
	for _, post := range m.posts {
		if !post.IsDeleted {
			visible = append(visible, post)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		return pagination.Less(
			pagination.SortKey{VoteScore: a.VoteScore, CreatedAt: a.CreatedAt, ID: a.ID},
			pagination.SortKey{VoteScore: b.VoteScore, CreatedAt: b.CreatedAt, ID: b.ID},
			params.SortBy,
		)
	})

	total := len(visible)
	start, end := pagination.Window(total, params)
	page := make([]*models.Post, 0, end-start)
	for _, post := range visible[start:end] {
		copied := *post
		m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
		copied.CurrentUserVote = m.voteStateLocked(requestingUserID, copied.ID, models.SubjectPost)
		page = append(page, &copied)
	}
	return page, total, nil
}

// --- Solution Methods ---

func (m *MemoryStore) SaveSolution(ctx context.Context, solution *models.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if solution.CreatedAt.IsZero() {
		solution.CreatedAt = now
	}
	solution.UpdatedAt = now
	copied := *solution
	m.solutions[solution.ID] = &copied
	return nil
}

func (m *MemoryStore) GetSolution(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Solution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	solution, ok := m.solutions[id]
	if !ok {
		return nil, utils.NewNotFoundError("solution")
	}
	copied := *solution
	m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
	copied.CurrentUserVote = m.voteStateLocked(requestingUserID, id, models.SubjectSolution)
	return &copied, nil
}

// --- Comment Methods ---

func (m *MemoryStore) SaveComment(ctx context.Context, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if comment.ParentID != nil {
		parent, ok := m.comments[*comment.ParentID]
		if !ok {
			return utils.NewNotFoundError("parent comment")
		}
		parent.ReplyCount++
	}

	switch comment.RootKind {
	case models.SubjectSolution:
		root, ok := m.solutions[comment.RootID]
		if !ok {
			return utils.NewNotFoundError("solution")
		}
		root.CommentCount++
	default:
		root, ok := m.posts[comment.RootID]
		if !ok {
			return utils.NewNotFoundError("post")
		}
		root.CommentCount++
	}

	now := time.Now()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	comment.UpdatedAt = now
	copied := *comment
	m.comments[comment.ID] = &copied
	return nil
}

func (m *MemoryStore) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	comment, ok := m.comments[id]
	if !ok {
		return nil, utils.NewNotFoundError("comment")
	}
	copied := *comment
	m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
	return &copied, nil
}

func (m *MemoryStore) UpdateCommentContent(ctx context.Context, id, authorID uuid.UUID, content string) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[id]
	if !ok || comment.IsDeleted {
		return nil, utils.NewNotFoundError("comment")
	}
	if comment.AuthorID != authorID {
		return nil, utils.NewForbiddenError("not the comment author")
	}
	now := time.Now()
	comment.Content = content
	comment.IsEdited = true
	comment.EditedAt = &now
	comment.UpdatedAt = now
	copied := *comment
	m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
	return &copied, nil
}

func (m *MemoryStore) SoftDeleteComment(ctx context.Context, id, authorID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	comment, ok := m.comments[id]
	if !ok {
		return utils.NewNotFoundError("comment")
	}
	if comment.IsDeleted {
		return nil
	}
	if comment.AuthorID != authorID {
		return utils.NewForbiddenError("not the comment author")
	}
	comment.IsDeleted = true
	comment.Content = models.RedactedContent
	comment.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetCommentPage(ctx context.Context, rootID uuid.UUID, rootKind models.SubjectType, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Comment, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var topLevel []*models.Comment
	for _, comment := range m.comments {
		if comment.RootID == rootID && comment.RootKind == rootKind && comment.ParentID == nil {
			topLevel = append(topLevel, comment)
		}
	}
	sort.Slice(topLevel, func(i, j int) bool {
		a, b := topLevel[i], topLevel[j]
		return pagination.Less(
			pagination.SortKey{VoteScore: a.VoteScore, CreatedAt: a.CreatedAt, ID: a.ID},
			pagination.SortKey{VoteScore: b.VoteScore, CreatedAt: b.CreatedAt, ID: b.ID},
			params.SortBy,
		)
	})

	total := len(topLevel)
	start, end := pagination.Window(total, params)

	voteType := models.SubjectComment
	if rootKind == models.SubjectSolution {
		voteType = models.SubjectSolutionComment
	}

	inPage := make(map[uuid.UUID]bool)
	var rows []*models.Comment
	emit := func(c *models.Comment) {
		copied := *c
		m.fillAuthorLocked(copied.AuthorID, &copied.AuthorUsername)
		copied.CurrentUserVote = m.voteStateLocked(requestingUserID, copied.ID, voteType)
		rows = append(rows, &copied)
		inPage[c.ID] = true
	}
	for _, top := range topLevel[start:end] {
		emit(top)
	}

	// Pull descendants of the paged top-level comments, breadth-first over
	// the flat map until the frontier stops growing.
	for {
		grew := false
		for _, comment := range m.comments {
			if comment.ParentID == nil || inPage[comment.ID] {
				continue
			}
			if inPage[*comment.ParentID] {
				emit(comment)
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return rows, total, nil
}

// --- Ledger Methods ---

func (m *MemoryStore) CastVote(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType, direction models.VoteDirection) (*models.VoteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counters *ledger.Counters
	var authorID uuid.UUID
	switch subjectType {
	case models.SubjectPost:
		post, ok := m.posts[subjectID]
		if !ok || post.IsDeleted {
			return nil, utils.NewNotFoundError("vote subject")
		}
		if post.IsLocked {
			return nil, utils.NewForbiddenError("subject is locked")
		}
		counters = &ledger.Counters{Upvotes: post.Upvotes, Downvotes: post.Downvotes}
		authorID = post.AuthorID
		defer func() {
			post.Upvotes, post.Downvotes = counters.Upvotes, counters.Downvotes
			post.VoteScore = counters.Score()
		}()
	case models.SubjectSolution:
		solution, ok := m.solutions[subjectID]
		if !ok || solution.IsDeleted {
			return nil, utils.NewNotFoundError("vote subject")
		}
		counters = &ledger.Counters{Upvotes: solution.Upvotes, Downvotes: solution.Downvotes}
		authorID = solution.AuthorID
		defer func() {
			solution.Upvotes, solution.Downvotes = counters.Upvotes, counters.Downvotes
			solution.VoteScore = counters.Score()
		}()
	case models.SubjectComment, models.SubjectSolutionComment:
		comment, ok := m.comments[subjectID]
		if !ok || comment.IsDeleted {
			return nil, utils.NewNotFoundError("vote subject")
		}
		counters = &ledger.Counters{Upvotes: comment.Upvotes, Downvotes: comment.Downvotes}
		authorID = comment.AuthorID
		defer func() {
			comment.Upvotes, comment.Downvotes = counters.Upvotes, counters.Downvotes
			comment.VoteScore = counters.Score()
		}()
	default:
		return nil, utils.NewValidationError("invalid subject type for voting")
	}

	key := voteKey{SubjectID: subjectID, SubjectType: subjectType, UserID: userID}
	var prev *models.VoteDirection
	if prevDir, ok := m.votes[key]; ok {
		prev = &prevDir
	}

	transition := ledger.Resolve(prev, direction)
	*counters = ledger.Apply(*counters, transition, m.OnViolation)

	switch transition.Op {
	case ledger.OpDelete:
		delete(m.votes, key)
	default:
		m.votes[key] = direction
	}

	if author, ok := m.users[authorID]; ok && authorID != userID {
		author.Karma += transition.KarmaDelta()
	}

	return &models.VoteResult{
		State:         transition.State,
		UpvoteDelta:   transition.UpvoteDelta,
		DownvoteDelta: transition.DownvoteDelta,
		Upvotes:       counters.Upvotes,
		Downvotes:     counters.Downvotes,
		VoteScore:     counters.Score(),
	}, nil
}

func (m *MemoryStore) GetVoteState(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType) (models.VoteState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	direction, ok := m.votes[voteKey{SubjectID: subjectID, SubjectType: subjectType, UserID: userID}]
	if !ok {
		return models.VoteStateNone, nil
	}
	if direction == models.VoteUp {
		return models.VoteStateUp, nil
	}
	return models.VoteStateDown, nil
}

// --- Notification Inbox ---

func (m *MemoryStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	copied := *n
	m.notifications[n.RecipientID] = append(m.notifications[n.RecipientID], &copied)
	return nil
}

func (m *MemoryStore) GetNotifications(ctx context.Context, recipientID uuid.UUID, skip, take int) ([]*models.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inbox := m.notifications[recipientID]
	sorted := make([]*models.Notification, len(inbox))
	copy(sorted, inbox)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() > sorted[j].ID.String()
	})

	total := len(sorted)
	if skip > total {
		skip = total
	}
	end := skip + take
	if end > total {
		end = total
	}
	page := make([]*models.Notification, 0, end-skip)
	for _, n := range sorted[skip:end] {
		copied := *n
		page = append(page, &copied)
	}
	return page, total, nil
}

func (m *MemoryStore) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications[recipientID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications[recipientID] {
		if n.ID == id {
			n.IsRead = true
			n.UpdatedAt = time.Now()
			return nil
		}
	}
	return utils.NewNotFoundError("notification")
}

func (m *MemoryStore) MarkAllRead(ctx context.Context, recipientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications[recipientID] {
		if !n.IsRead {
			n.IsRead = true
			n.UpdatedAt = time.Now()
		}
	}
	return nil
}

// --- helpers ---

func (m *MemoryStore) fillAuthorLocked(authorID uuid.UUID, dst *string) {
	if user, ok := m.users[authorID]; ok {
		*dst = user.Username
	}
}

func (m *MemoryStore) voteStateLocked(userID, subjectID uuid.UUID, subjectType models.SubjectType) *string {
	if userID == uuid.Nil {
		return nil
	}
	direction, ok := m.votes[voteKey{SubjectID: subjectID, SubjectType: subjectType, UserID: userID}]
	if !ok {
		return nil
	}
	s := string(models.VoteStateUp)
	if direction == models.VoteDown {
		s = string(models.VoteStateDown)
	}
	return &s
}
