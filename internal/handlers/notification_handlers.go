package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"mangrove/internal/engine/actors"
	"mangrove/internal/middleware"
	"mangrove/internal/utils"
)

const (
	defaultNotificationTake = 20
	maxNotificationTake     = 100
)

func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	skip := 0
	take := defaultNotificationTake
	var err error
	if raw := r.URL.Query().Get("skip"); raw != "" {
		skip, err = strconv.Atoi(raw)
		if err != nil || skip < 0 {
			s.respondError(w, utils.NewValidationError("skip must be a non-negative integer"))
			return
		}
	}
	if raw := r.URL.Query().Get("take"); raw != "" {
		take, err = strconv.Atoi(raw)
		if err != nil || take < 1 {
			s.respondError(w, utils.NewValidationError("take must be a positive integer"))
			return
		}
	}
	if take > maxNotificationTake {
		take = maxNotificationTake
	}

	result, err := s.ask(s.Engine.GetNotificationActor(), &actors.ListNotificationsMsg{
		RecipientID: userID,
		Skip:        skip,
		Take:        take,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	page := result.(*actors.NotificationPageReply)
	s.respondData(w, http.StatusOK, page.Notifications, map[string]int{
		"skip": skip, "take": take, "total": page.Total,
	})
}

func (s *Server) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	result, err := s.ask(s.Engine.GetNotificationActor(), &actors.UnreadCountMsg{RecipientID: userID})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}

func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}
	notificationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, utils.NewValidationError("invalid notification id"))
		return
	}

	result, err := s.ask(s.Engine.GetNotificationActor(), &actors.MarkReadMsg{
		NotificationID: notificationID,
		RecipientID:    userID,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}

func (s *Server) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		s.respondError(w, utils.NewAppError(utils.ErrUnauthorized, "authentication required", nil))
		return
	}

	result, err := s.ask(s.Engine.GetNotificationActor(), &actors.MarkAllReadMsg{RecipientID: userID})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondData(w, http.StatusOK, result, nil)
}
