package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"mangrove/internal/engine/actors"
	"mangrove/internal/middleware"
	"mangrove/internal/models"
	"mangrove/internal/pagination"
	"mangrove/internal/utils"
)

// CreateCommentRequest creates a top-level comment or a reply. RootKind
// defaults to "post" for clients that only thread under posts.
type CreateCommentRequest struct {
	RootID   string `json:"rootId"`
	RootKind string `json:"rootKind,omitempty"`
	ParentID string `json:"parentId,omitempty"`
	Content  string `json:"content"`
}

type EditCommentRequest struct {
	Content string `json:"content"`
}

func (s *Server) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	var req CreateCommentRequest
	if !s.decode(w, r, &req) {
		return
	}
	rootID, err := uuid.Parse(req.RootID)
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid root id"))
		return
	}
	rootKind := models.SubjectType(req.RootKind)
	if req.RootKind == "" {
		rootKind = models.SubjectPost
	}

	var parentID *uuid.UUID
	if req.ParentID != "" {
		parsed, err := uuid.Parse(req.ParentID)
		if err != nil {
			s.respondError(w, utils.NewValidationError("invalid parent comment id"))
			return
		}
		parentID = &parsed
	}

	result, err := s.ask(s.Engine.GetCommentActor(), &actors.CreateCommentMsg{
		RootID:   rootID,
		RootKind: rootKind,
		ParentID: parentID,
		AuthorID: userID,
		Content:  req.Content,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusCreated, result, nil)
}

func (s *Server) HandleEditComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}
	commentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid comment id"))
		return
	}

	var req EditCommentRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.ask(s.Engine.GetCommentActor(), &actors.EditCommentMsg{
		CommentID: commentID,
		AuthorID:  userID,
		Content:   req.Content,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}

func (s *Server) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}
	commentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid comment id"))
		return
	}

	result, err := s.ask(s.Engine.GetCommentActor(), &actors.DeleteCommentMsg{
		CommentID: commentID,
		AuthorID:  userID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}

func (s *Server) HandleGetPostComments(w http.ResponseWriter, r *http.Request) {
	s.handleGetThread(w, r, models.SubjectPost)
}

func (s *Server) HandleGetSolutionComments(w http.ResponseWriter, r *http.Request) {
	s.handleGetThread(w, r, models.SubjectSolution)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request, rootKind models.SubjectType) {
	rootID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid id"))
		return
	}
	params, err := pagination.FromQuery(r.URL.Query())
	if err != nil {
		s.respondError(w, err)
		return
	}
	repliesPerNode := 0
	if raw := r.URL.Query().Get("repliesPerNode"); raw != "" {
		repliesPerNode, err = strconv.Atoi(raw)
		if err != nil || repliesPerNode < 1 {
			s.respondError(w, utils.NewValidationError("repliesPerNode must be a positive integer"))
			return
		}
	}
	userID, _ := middleware.GetUserIDFromContext(r.Context())

	result, err := s.ask(s.Engine.GetCommentActor(), &actors.GetThreadMsg{
		RootID:           rootID,
		RootKind:         rootKind,
		Params:           params,
		RepliesPerNode:   repliesPerNode,
		RequestingUserID: userID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	page := result.(*actors.ThreadPageReply)
	s.respondData(w, http.StatusOK, page.Forest, page.Meta)
}
