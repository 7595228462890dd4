package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mangrove/internal/middleware"
	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/utils"
)

type CreatePostRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

type UpdatePostRequest struct {
	Title    *string   `json:"title,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	IsLocked *bool     `json:"isLocked,omitempty"`
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a title into a URL slug with a short random suffix so
// repeated titles never collide.
func slugify(title string) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug + "-" + uuid.NewString()[:8]
}

func (s *Server) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	var req CreatePostRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Title == "" || len(req.Title) > 300 {
		s.respondError(w, utils.NewValidationError("title must be 1-300 characters"))
		return
	}

	post := &models.Post{
		ID:       uuid.New(),
		Title:    req.Title,
		Content:  req.Content,
		Slug:     slugify(req.Title),
		AuthorID: userID,
		Tags:     pq.StringArray(req.Tags),
	}
	if err := s.Store.SavePost(r.Context(), post); err != nil {
		s.respondError(w, err)
		return
	}

	s.respondData(w, http.StatusCreated, post, nil)
}

func (s *Server) HandleGetPost(w http.ResponseWriter, r *http.Request) {
	postID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid post id"))
		return
	}
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	post, err := s.Store.GetPost(r.Context(), postID, userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if post.IsDeleted {
		s.respondError(w, utils.NewNotFoundError("post"))
		return
	}

	if err := s.Store.IncrementViewCount(r.Context(), postID); err != nil {
		s.Logger.Warn("failed to increment view count", "post", postID, "error", err)
	} else {
		post.ViewCount++
	}

	s.respondData(w, http.StatusOK, post, nil)
}

func (s *Server) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.FromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, err)
		return
	}
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	posts, total, err := s.Store.GetRecentPosts(r.Context(), params, userID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondData(w, http.StatusOK, posts, pagination.NewMeta(params, total))
}

func (s *Server) HandleUpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}
	postID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid post id"))
		return
	}

	var req UpdatePostRequest
	if !s.decode(w, r, &req) {
		return
	}

	post, err := s.Store.GetPost(r.Context(), postID, uuid.Nil)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if post.AuthorID != userID {
		s.respondError(w, utils.NewForbiddenError("not the post author"))
		return
	}

	if req.Title != nil {
		if *req.Title == "" || len(*req.Title) > 300 {
			s.respondError(w, utils.NewValidationError("title must be 1-300 characters"))
			return
		}
		post.Title = *req.Title
	}
	if req.Content != nil {
		post.Content = *req.Content
	}
	if req.Tags != nil {
		post.Tags = pq.StringArray(*req.Tags)
	}
	if req.IsLocked != nil {
		post.IsLocked = *req.IsLocked
	}

	if err := s.Store.UpdatePost(r.Context(), post); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, post, nil)
}

// --- Solutions ---

type CreateSolutionRequest struct {
	PostID  string `json:"postId"`
	Content string `json:"content"`
}

func (s *Server) HandleCreateSolution(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	var req CreateSolutionRequest
	if !s.decode(w, r, &req) {
		return
	}
	postID, err := uuid.Parse(req.PostID)
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid post id"))
		return
	}
	if req.Content == "" {
		s.respondError(w, utils.NewValidationError("solution content cannot be empty"))
		return
	}

	post, err := s.Store.GetPost(r.Context(), postID, uuid.Nil)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if post.IsDeleted {
		s.respondError(w, utils.NewNotFoundError("post"))
		return
	}
	if post.IsLocked {
		s.respondError(w, utils.NewForbiddenError("post is locked"))
		return
	}

	solution := &models.Solution{
		ID:       uuid.New(),
		PostID:   postID,
		AuthorID: userID,
		Content:  req.Content,
	}
	if err := s.Store.SaveSolution(r.Context(), solution); err != nil {
		s.respondError(w, err)
		return
	}

	s.respondData(w, http.StatusCreated, solution, nil)
}

func (s *Server) HandleGetSolution(w http.ResponseWriter, r *http.Request) {
	solutionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid solution id"))
		return
	}
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	solution, err := s.Store.GetSolution(r.Context(), solutionID, userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if solution.IsDeleted {
		s.respondError(w, utils.NewNotFoundError("solution"))
		return
	}
	s.respondData(w, http.StatusOK, solution, nil)
}
