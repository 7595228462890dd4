// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mangrove/internal/ledger"
	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/utils"
)

// PostgresStore implements Store and NotificationInbox on PostgreSQL.
type PostgresStore struct {
	DB      *sqlx.DB
	logger  *slog.Logger
	metrics *utils.MetricsCollector
}

// NewPostgresStore connects and configures the pool.
func NewPostgresStore(connectionString string, logger *slog.Logger, metrics *utils.MetricsCollector) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to PostgreSQL")

	return &PostgresStore{DB: db, logger: logger, metrics: metrics}, nil
}

func (p *PostgresStore) Close(ctx context.Context) error {
	p.logger.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

// InitializeTables creates all necessary tables if they don't exist.
func (p *PostgresStore) InitializeTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			karma INTEGER DEFAULT 0 NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id UUID PRIMARY KEY,
			title VARCHAR(300) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			slug VARCHAR(320) UNIQUE NOT NULL,
			author_id UUID REFERENCES users(id),
			tags TEXT[] NOT NULL DEFAULT '{}',
			view_count INTEGER DEFAULT 0 NOT NULL,
			upvotes INTEGER DEFAULT 0 NOT NULL,
			downvotes INTEGER DEFAULT 0 NOT NULL,
			vote_score INTEGER DEFAULT 0 NOT NULL,
			comment_count INTEGER DEFAULT 0 NOT NULL,
			is_locked BOOLEAN DEFAULT FALSE NOT NULL,
			is_deleted BOOLEAN DEFAULT FALSE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS solutions (
			id UUID PRIMARY KEY,
			post_id UUID REFERENCES posts(id),
			author_id UUID REFERENCES users(id),
			content TEXT NOT NULL,
			upvotes INTEGER DEFAULT 0 NOT NULL,
			downvotes INTEGER DEFAULT 0 NOT NULL,
			vote_score INTEGER DEFAULT 0 NOT NULL,
			comment_count INTEGER DEFAULT 0 NOT NULL,
			is_deleted BOOLEAN DEFAULT FALSE NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id UUID PRIMARY KEY,
			root_id UUID NOT NULL,
			root_kind VARCHAR(20) NOT NULL,
			parent_id UUID REFERENCES comments(id),
			content TEXT NOT NULL,
			author_id UUID REFERENCES users(id),
			upvotes INTEGER DEFAULT 0 NOT NULL,
			downvotes INTEGER DEFAULT 0 NOT NULL,
			vote_score INTEGER DEFAULT 0 NOT NULL,
			reply_count INTEGER DEFAULT 0 NOT NULL,
			is_pinned BOOLEAN DEFAULT FALSE NOT NULL,
			is_deleted BOOLEAN DEFAULT FALSE NOT NULL,
			is_edited BOOLEAN DEFAULT FALSE NOT NULL,
			edited_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_root ON comments (root_id, root_kind)`,
		`CREATE TABLE IF NOT EXISTS votes (
			subject_id UUID NOT NULL,
			subject_type VARCHAR(20) NOT NULL,
			user_id UUID REFERENCES users(id),
			direction INTEGER NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (subject_id, subject_type, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY,
			recipient_id UUID NOT NULL,
			sender_id UUID,
			type VARCHAR(20) NOT NULL,
			title VARCHAR(300) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			link VARCHAR(500) NOT NULL DEFAULT '',
			is_read BOOLEAN DEFAULT FALSE NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_id, is_read)`,
	}

	for _, stmt := range statements {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize tables: %w", err)
		}
	}
	return nil
}

// --- User Methods ---

func (p *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, karma, created_at, updated_at FROM users WHERE id = $1`
	var user models.User
	err := p.DB.GetContext(ctx, &user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("user")
		}
		return nil, utils.WrapStorageError(err, "get user")
	}
	return &user, nil
}

func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, karma, created_at, updated_at FROM users WHERE username = $1`
	var user models.User
	err := p.DB.GetContext(ctx, &user, query, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("user")
		}
		return nil, utils.WrapStorageError(err, "get user by username")
	}
	return &user, nil
}

func (p *PostgresStore) SaveUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.UpdatedAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	query := `
		INSERT INTO users (id, username, karma, created_at, updated_at)
		VALUES (:id, :username, :karma, :created_at, :updated_at)
	`
	_, err := p.DB.NamedExecContext(ctx, query, user)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrConflict, "username already taken", err)
		}
		return utils.WrapStorageError(err, "save user")
	}
	return nil
}

// --- Post Methods ---

func (p *PostgresStore) SavePost(ctx context.Context, post *models.Post) error {
	post.UpdatedAt = time.Now()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = post.UpdatedAt
	}

	query := `
		INSERT INTO posts (id, title, content, slug, author_id, tags, view_count, upvotes, downvotes, vote_score, comment_count, is_locked, is_deleted, created_at, updated_at)
		VALUES (:id, :title, :content, :slug, :author_id, :tags, :view_count, :upvotes, :downvotes, :vote_score, :comment_count, :is_locked, :is_deleted, :created_at, :updated_at)
	`
	_, err := p.DB.NamedExecContext(ctx, query, post)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrConflict, "slug already in use", err)
		}
		return utils.WrapStorageError(err, "save post")
	}
	return nil
}

func (p *PostgresStore) GetPost(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Post, error) {
	query := `
		SELECT
			p.id, p.title, p.content, p.slug, p.author_id, u.username AS author_username,
			p.tags, p.view_count, p.upvotes, p.downvotes, p.vote_score, p.comment_count,
			p.is_locked, p.is_deleted, p.created_at, p.updated_at
		FROM posts p
		LEFT JOIN users u ON p.author_id = u.id
		WHERE p.id = $1`
	var post models.Post
	err := p.DB.GetContext(ctx, &post, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("post")
		}
		return nil, utils.WrapStorageError(err, "get post")
	}

	if requestingUserID != uuid.Nil {
		state, err := p.GetVoteState(ctx, requestingUserID, id, models.SubjectPost)
		if err != nil {
			p.logger.Warn("failed to fetch vote state for post", "post", id, "error", err)
		} else if state != models.VoteStateNone {
			s := string(state)
			post.CurrentUserVote = &s
		}
	}
	return &post, nil
}

func (p *PostgresStore) UpdatePost(ctx context.Context, post *models.Post) error {
	post.UpdatedAt = time.Now()
	query := `
		UPDATE posts SET
			title = :title, content = :content, tags = :tags,
			is_locked = :is_locked, is_deleted = :is_deleted, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := p.DB.NamedExecContext(ctx, query, post)
	if err != nil {
		return utils.WrapStorageError(err, "update post")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewNotFoundError("post")
	}
	return nil
}

func (p *PostgresStore) IncrementViewCount(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE posts SET view_count = view_count + 1 WHERE id = $1`
	if _, err := p.DB.ExecContext(ctx, query, id); err != nil {
		return utils.WrapStorageError(err, "increment view count")
	}
	return nil
}

func (p *PostgresStore) GetRecentPosts(ctx context.Context, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Post, int, error) {
	// Count and data queries share the deletion filter so meta and data
	// never disagree on scope.
	var total int
	if err := p.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM posts WHERE is_deleted = FALSE`); err != nil {
		return nil, 0, utils.WrapStorageError(err, "count posts")
	}

	query := fmt.Sprintf(`
		SELECT
			p.id, p.title, p.content, p.slug, p.author_id, u.username AS author_username,
			p.tags, p.view_count, p.upvotes, p.downvotes, p.vote_score, p.comment_count,
			p.is_locked, p.is_deleted, p.created_at, p.updated_at,
			v.direction AS raw_vote
		FROM posts p
		LEFT JOIN users u ON p.author_id = u.id
		LEFT JOIN votes v ON v.subject_id = p.id AND v.subject_type = 'post' AND v.user_id = $1
		WHERE p.is_deleted = FALSE
		ORDER BY %s
		LIMIT $2 OFFSET $3
	`, params.SortBy.OrderBy("p"))

	type scanPost struct {
		models.Post
		RawVote sql.NullInt64 `db:"raw_vote"`
	}
	var scanned []scanPost
	if err := p.DB.SelectContext(ctx, &scanned, query, requestingUserID, params.Limit, params.Offset()); err != nil {
		return nil, 0, utils.WrapStorageError(err, "query recent posts")
	}

	posts := make([]*models.Post, len(scanned))
	for i, sp := range scanned {
		post := sp.Post
		post.CurrentUserVote = voteStateString(sp.RawVote)
		posts[i] = &post
	}
	return posts, total, nil
}

// --- Solution Methods ---

func (p *PostgresStore) SaveSolution(ctx context.Context, solution *models.Solution) error {
	solution.UpdatedAt = time.Now()
	if solution.CreatedAt.IsZero() {
		solution.CreatedAt = solution.UpdatedAt
	}

	query := `
		INSERT INTO solutions (id, post_id, author_id, content, upvotes, downvotes, vote_score, comment_count, is_deleted, created_at, updated_at)
		VALUES (:id, :post_id, :author_id, :content, :upvotes, :downvotes, :vote_score, :comment_count, :is_deleted, :created_at, :updated_at)
	`
	if _, err := p.DB.NamedExecContext(ctx, query, solution); err != nil {
		return utils.WrapStorageError(err, "save solution")
	}
	return nil
}

func (p *PostgresStore) GetSolution(ctx context.Context, id uuid.UUID, requestingUserID uuid.UUID) (*models.Solution, error) {
	query := `
		SELECT
			s.id, s.post_id, s.author_id, u.username AS author_username, s.content,
			s.upvotes, s.downvotes, s.vote_score, s.comment_count, s.is_deleted,
			s.created_at, s.updated_at
		FROM solutions s
		LEFT JOIN users u ON s.author_id = u.id
		WHERE s.id = $1`
	var solution models.Solution
	err := p.DB.GetContext(ctx, &solution, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("solution")
		}
		return nil, utils.WrapStorageError(err, "get solution")
	}

	if requestingUserID != uuid.Nil {
		state, err := p.GetVoteState(ctx, requestingUserID, id, models.SubjectSolution)
		if err == nil && state != models.VoteStateNone {
			s := string(state)
			solution.CurrentUserVote = &s
		}
	}
	return &solution, nil
}

// --- Comment Methods ---

// SaveComment inserts a new comment and bumps the root's comment count
// and, for replies, the parent's reply count in one transaction.
func (p *PostgresStore) SaveComment(ctx context.Context, comment *models.Comment) error {
	comment.UpdatedAt = time.Now()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = comment.UpdatedAt
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.WrapStorageError(err, "begin save comment")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO comments (id, root_id, root_kind, parent_id, content, author_id, upvotes, downvotes, vote_score, reply_count, is_pinned, is_deleted, is_edited, edited_at, created_at, updated_at)
		VALUES (:id, :root_id, :root_kind, :parent_id, :content, :author_id, :upvotes, :downvotes, :vote_score, :reply_count, :is_pinned, :is_deleted, :is_edited, :edited_at, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
		return utils.WrapStorageError(err, "save comment")
	}

	if comment.ParentID != nil {
		bump := `UPDATE comments SET reply_count = reply_count + 1, updated_at = NOW() WHERE id = $1`
		result, err := tx.ExecContext(ctx, bump, *comment.ParentID)
		if err != nil {
			return utils.WrapStorageError(err, "bump parent reply count")
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return utils.NewNotFoundError("parent comment")
		}
	}

	rootTable := "posts"
	if comment.RootKind == models.SubjectSolution {
		rootTable = "solutions"
	}
	bumpRoot := fmt.Sprintf(`UPDATE %s SET comment_count = comment_count + 1, updated_at = NOW() WHERE id = $1`, rootTable)
	result, err := tx.ExecContext(ctx, bumpRoot, comment.RootID)
	if err != nil {
		return utils.WrapStorageError(err, "bump root comment count")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewNotFoundError(rootTable[:len(rootTable)-1])
	}

	if err := tx.Commit(); err != nil {
		return utils.WrapStorageError(err, "commit save comment")
	}
	return nil
}

func (p *PostgresStore) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	query := `
		SELECT
			c.id, c.root_id, c.root_kind, c.parent_id, c.content, c.author_id,
			u.username AS author_username, c.upvotes, c.downvotes, c.vote_score,
			c.reply_count, c.is_pinned, c.is_deleted, c.is_edited, c.edited_at,
			c.created_at, c.updated_at
		FROM comments c
		LEFT JOIN users u ON c.author_id = u.id
		WHERE c.id = $1`
	var comment models.Comment
	err := p.DB.GetContext(ctx, &comment, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("comment")
		}
		return nil, utils.WrapStorageError(err, "get comment")
	}
	return &comment, nil
}

func (p *PostgresStore) UpdateCommentContent(ctx context.Context, id, authorID uuid.UUID, content string) (*models.Comment, error) {
	query := `
		UPDATE comments
		SET content = $1, is_edited = TRUE, edited_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND author_id = $3 AND is_deleted = FALSE
	`
	result, err := p.DB.ExecContext(ctx, query, content, id, authorID)
	if err != nil {
		return nil, utils.WrapStorageError(err, "update comment content")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Distinguish missing from not-owned for the error taxonomy.
		existing, err := p.GetComment(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.IsDeleted {
			return nil, utils.NewNotFoundError("comment")
		}
		return nil, utils.NewForbiddenError("not the comment author")
	}
	return p.GetComment(ctx, id)
}

// SoftDeleteComment redacts content but keeps the row so the reply
// subtree remains addressable. Never cascades.
func (p *PostgresStore) SoftDeleteComment(ctx context.Context, id, authorID uuid.UUID) error {
	query := `
		UPDATE comments
		SET is_deleted = TRUE, content = $1, updated_at = NOW()
		WHERE id = $2 AND author_id = $3 AND is_deleted = FALSE
	`
	result, err := p.DB.ExecContext(ctx, query, models.RedactedContent, id, authorID)
	if err != nil {
		return utils.WrapStorageError(err, "soft delete comment")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		existing, err := p.GetComment(ctx, id)
		if err != nil {
			return err
		}
		if existing.IsDeleted {
			return nil // already deleted: idempotent
		}
		return utils.NewForbiddenError("not the comment author")
	}
	return nil
}

func (p *PostgresStore) GetCommentPage(ctx context.Context, rootID uuid.UUID, rootKind models.SubjectType, params pagination.Params, requestingUserID uuid.UUID) ([]*models.Comment, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM comments WHERE root_id = $1 AND root_kind = $2 AND parent_id IS NULL`
	if err := p.DB.GetContext(ctx, &total, countQuery, rootID, rootKind); err != nil {
		return nil, 0, utils.WrapStorageError(err, "count top-level comments")
	}

	// One page of top-level comments plus every descendant beneath them.
	voteType := string(models.SubjectComment)
	if rootKind == models.SubjectSolution {
		voteType = string(models.SubjectSolutionComment)
	}
	query := fmt.Sprintf(`
		WITH RECURSIVE page_roots AS (
			SELECT * FROM comments
			WHERE root_id = $1 AND root_kind = $2 AND parent_id IS NULL
			ORDER BY %s
			LIMIT $3 OFFSET $4
		), thread AS (
			SELECT * FROM page_roots
			UNION ALL
			SELECT c.* FROM comments c JOIN thread t ON c.parent_id = t.id
		)
		SELECT
			t.id, t.root_id, t.root_kind, t.parent_id, t.content, t.author_id,
			u.username AS author_username, t.upvotes, t.downvotes, t.vote_score,
			t.reply_count, t.is_pinned, t.is_deleted, t.is_edited, t.edited_at,
			t.created_at, t.updated_at,
			v.direction AS raw_vote
		FROM thread t
		LEFT JOIN users u ON t.author_id = u.id
		LEFT JOIN votes v ON v.subject_id = t.id AND v.subject_type = $5 AND v.user_id = $6
	`, params.SortBy.OrderBy(""))

	type scanComment struct {
		models.Comment
		RawVote sql.NullInt64 `db:"raw_vote"`
	}
	var scanned []scanComment
	err := p.DB.SelectContext(ctx, &scanned, query, rootID, rootKind, params.Limit, params.Offset(), voteType, requestingUserID)
	if err != nil {
		return nil, 0, utils.WrapStorageError(err, "query comment page")
	}

	comments := make([]*models.Comment, len(scanned))
	for i, sc := range scanned {
		comment := sc.Comment
		comment.CurrentUserVote = voteStateString(sc.RawVote)
		comments[i] = &comment
	}
	return comments, total, nil
}

// --- Ledger Methods ---

type subjectRow struct {
	AuthorID  uuid.UUID `db:"author_id"`
	Upvotes   int       `db:"upvotes"`
	Downvotes int       `db:"downvotes"`
	IsDeleted bool      `db:"is_deleted"`
	IsLocked  bool      `db:"is_locked"`
}

func subjectTable(subjectType models.SubjectType) (string, error) {
	switch subjectType {
	case models.SubjectPost:
		return "posts", nil
	case models.SubjectComment, models.SubjectSolutionComment:
		return "comments", nil
	case models.SubjectSolution:
		return "solutions", nil
	}
	return "", utils.NewValidationError("invalid subject type for voting")
}

// CastVote resolves the toggle/overwrite decision and applies the counter
// delta under a transaction. Row locks on the subject and the ledger row
// are the per-(subject,user) serialization point: two rapid clicks from
// the same user queue behind each other instead of losing an update.
func (p *PostgresStore) CastVote(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType, direction models.VoteDirection) (*models.VoteResult, error) {
	table, err := subjectTable(subjectType)
	if err != nil {
		return nil, err
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.WrapStorageError(err, "begin vote transaction")
	}
	defer tx.Rollback()

	// 1. Lock and inspect the subject.
	lockCols := "author_id, upvotes, downvotes, is_deleted, FALSE AS is_locked"
	if subjectType == models.SubjectPost {
		lockCols = "author_id, upvotes, downvotes, is_deleted, is_locked"
	}
	var subject subjectRow
	err = tx.GetContext(ctx, &subject,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, lockCols, table), subjectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewNotFoundError("vote subject")
		}
		return nil, utils.WrapStorageError(err, "lock vote subject")
	}
	if subject.IsDeleted {
		// A toggle-off racing a deletion resolves as not-found rather
		// than resurrecting state.
		return nil, utils.NewNotFoundError("vote subject")
	}
	if subject.IsLocked {
		return nil, utils.NewForbiddenError("subject is locked")
	}

	// 2. Read the user's prior vote under the same lock scope.
	var prev *models.VoteDirection
	var prevDir models.VoteDirection
	err = tx.GetContext(ctx, &prevDir,
		`SELECT direction FROM votes WHERE subject_id = $1 AND subject_type = $2 AND user_id = $3 FOR UPDATE`,
		subjectID, subjectType, userID)
	if err != nil && err != sql.ErrNoRows {
		return nil, utils.WrapStorageError(err, "read prior vote")
	}
	if err == nil {
		prev = &prevDir
	}

	// 3. Resolve the transition and apply it to the aggregate.
	transition := ledger.Resolve(prev, direction)
	counters := ledger.Apply(
		ledger.Counters{Upvotes: subject.Upvotes, Downvotes: subject.Downvotes},
		transition,
		func(counter string, attempted int) {
			p.logger.Error("aggregate invariant violation: counter clamped",
				"subject", subjectID, "subject_type", subjectType,
				"counter", counter, "attempted", attempted)
			p.metrics.RecordInvariantViolation()
		},
	)

	updateSubject := fmt.Sprintf(
		`UPDATE %s SET upvotes = $1, downvotes = $2, vote_score = $3, updated_at = NOW() WHERE id = $4`, table)
	if _, err := tx.ExecContext(ctx, updateSubject, counters.Upvotes, counters.Downvotes, counters.Score(), subjectID); err != nil {
		return nil, utils.WrapStorageError(err, "update subject counters")
	}

	// 4. Mutate the ledger row.
	switch transition.Op {
	case ledger.OpDelete:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM votes WHERE subject_id = $1 AND subject_type = $2 AND user_id = $3`,
			subjectID, subjectType, userID)
	default:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO votes (subject_id, subject_type, user_id, direction, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (subject_id, subject_type, user_id) DO UPDATE SET
				direction = EXCLUDED.direction,
				updated_at = NOW()
		`, subjectID, subjectType, userID, direction)
	}
	if err != nil {
		return nil, utils.WrapStorageError(err, "write ledger row")
	}

	// 5. Author karma tracks the score delta; self-votes don't farm it.
	if subject.AuthorID != uuid.Nil && subject.AuthorID != userID && transition.KarmaDelta() != 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET karma = karma + $1, updated_at = NOW() WHERE id = $2`,
			transition.KarmaDelta(), subject.AuthorID)
		if err != nil {
			p.logger.Warn("failed to update author karma", "author", subject.AuthorID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.WrapStorageError(err, "commit vote transaction")
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

func (p *PostgresStore) GetVoteState(ctx context.Context, userID, subjectID uuid.UUID, subjectType models.SubjectType) (models.VoteState, error) {
	var direction models.VoteDirection
	err := p.DB.GetContext(ctx, &direction,
		`SELECT direction FROM votes WHERE subject_id = $1 AND subject_type = $2 AND user_id = $3`,
		subjectID, subjectType, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.VoteStateNone, nil
		}
		return models.VoteStateNone, utils.WrapStorageError(err, "get vote state")
	}
	if direction == models.VoteUp {
		return models.VoteStateUp, nil
	}
	return models.VoteStateDown, nil
}

// --- Notification Inbox ---

func (p *PostgresStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	n.UpdatedAt = time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = n.UpdatedAt
	}

	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return utils.WrapStorageError(err, "encode notification metadata")
	}

	query := `
		INSERT INTO notifications (id, recipient_id, sender_id, type, title, content, link, is_read, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = p.DB.ExecContext(ctx, query,
		n.ID, n.RecipientID, n.SenderID, n.Type, n.Title, n.Content, n.Link, n.IsRead, metadata, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return utils.WrapStorageError(err, "save notification")
	}
	return nil
}

func (p *PostgresStore) GetNotifications(ctx context.Context, recipientID uuid.UUID, skip, take int) ([]*models.Notification, int, error) {
	var total int
	if err := p.DB.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1`, recipientID); err != nil {
		return nil, 0, utils.WrapStorageError(err, "count notifications")
	}

	query := `
		SELECT id, recipient_id, sender_id, type, title, content, link, is_read, created_at, updated_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	notifications := []*models.Notification{}
	if err := p.DB.SelectContext(ctx, &notifications, query, recipientID, take, skip); err != nil {
		return nil, 0, utils.WrapStorageError(err, "query notifications")
	}
	return notifications, total, nil
}

func (p *PostgresStore) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error) {
	var count int
	err := p.DB.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID)
	if err != nil {
		return 0, utils.WrapStorageError(err, "count unread notifications")
	}
	return count, nil
}

// MarkRead is idempotent: re-marking an already-read notification is a
// no-op, not an error.
func (p *PostgresStore) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	query := `UPDATE notifications SET is_read = TRUE, updated_at = NOW() WHERE id = $1 AND recipient_id = $2 AND is_read = FALSE`
	result, err := p.DB.ExecContext(ctx, query, id, recipientID)
	if err != nil {
		return utils.WrapStorageError(err, "mark notification read")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists bool
		err := p.DB.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND recipient_id = $2)`, id, recipientID)
		if err != nil {
			return utils.WrapStorageError(err, "check notification exists")
		}
		if !exists {
			return utils.NewNotFoundError("notification")
		}
	}
	return nil
}

func (p *PostgresStore) MarkAllRead(ctx context.Context, recipientID uuid.UUID) error {
	query := `UPDATE notifications SET is_read = TRUE, updated_at = NOW() WHERE recipient_id = $1 AND is_read = FALSE`
	if _, err := p.DB.ExecContext(ctx, query, recipientID); err != nil {
		return utils.WrapStorageError(err, "mark all notifications read")
	}
	return nil
}

func voteStateString(raw sql.NullInt64) *string {
	if !raw.Valid {
		return nil
	}
	var s string
	switch models.VoteDirection(raw.Int64) {
	case models.VoteUp:
		s = string(models.VoteStateUp)
	case models.VoteDown:
		s = string(models.VoteStateDown)
	default:
		return nil
	}
	return &s
}
