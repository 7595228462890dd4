package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"mangrove/internal/engine/actors"
	"mangrove/internal/middleware"
	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// VoteRequest casts a vote. voteType is 1 or -1; casting the same value
// twice retracts the vote.
type VoteRequest struct {
	VoteType int `json:"voteType"`
}

func (s *Server) HandleVotePost(w http.ResponseWriter, r *http.Request) {
	s.handleVote(w, r, models.SubjectPost)
}

func (s *Server) HandleVoteSolution(w http.ResponseWriter, r *http.Request) {
	s.handleVote(w, r, models.SubjectSolution)
}

// HandleVoteComment resolves whether the comment hangs off a post or a
// solution thread before casting, so the ledger keys stay distinct.
func (s *Server) HandleVoteComment(w http.ResponseWriter, r *http.Request) {
	commentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid comment id"))
		return
	}

	result, err := s.ask(s.Engine.GetCommentActor(), &actors.GetCommentMsg{CommentID: commentID})
	if err != nil {
		s.respondError(w, err)
		return
	}
	comment := result.(*models.Comment)

	s.castVote(w, r, commentID, comment.SubjectType())
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request, subjectType models.SubjectType) {
	subjectID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid id"))
		return
	}
	s.castVote(w, r, subjectID, subjectType)
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request, subjectID uuid.UUID, subjectType models.SubjectType) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	var req VoteRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.ask(s.Engine.GetVoteActor(), &actors.CastVoteMsg{
		UserID:      userID,
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Direction:   models.VoteDirection(req.VoteType),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}
