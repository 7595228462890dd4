package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"mangrove/internal/models"
	"mangrove/internal/utils"
)

// CreateUserRequest registers a participant. Identity is deliberately
// thin: a username and a token to act with.
type CreateUserRequest struct {
	Username string `json:"username"`
}

type CreateUserResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

func (s *Server) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Username == "" || len(req.Username) > 50 {
		s.respondError(w, utils.NewValidationError("username must be 1-50 characters"))
		return
	}

	user := &models.User{ID: uuid.New(), Username: req.Username}
	if err := s.Store.SaveUser(r.Context(), user); err != nil {
		s.respondError(w, err)
		return
	}

	token, err := s.Auth.GenerateToken(user.ID)
	if err != nil {
		s.respondError(w, utils.NewAppError(utils.ErrDatabase, "failed to issue token", err))
		return
	}

	s.respondData(w, http.StatusCreated, CreateUserResponse{User: user, Token: token}, nil)
}
