package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/asynkron/protoactor-go/actor"

	"mangrove/internal/database"
	"mangrove/internal/engine"
	"mangrove/internal/middleware"
	"mangrove/internal/utils"
	"mangrove/internal/websocket"
)

// Server holds the HTTP surface's dependencies: the actor system the
// operations are routed through, the store for read paths that need no
// serialization, and the hub for websocket upgrades.
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Store          database.Store
	Hub            *websocket.Hub
	Auth           *middleware.Authenticator
	Metrics        *utils.MetricsCollector
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

func NewServer(
	system *actor.ActorSystem,
	eng *engine.Engine,
	store database.Store,
	hub *websocket.Hub,
	auth *middleware.Authenticator,
	metrics *utils.MetricsCollector,
	logger *slog.Logger,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         eng,
		Store:          store,
		Hub:            hub,
		Auth:           auth,
		Metrics:        metrics,
		Logger:         logger,
		RequestTimeout: 5 * time.Second,
	}
}

// Routes wires every endpoint. Reads and writes that touch an aggregate
// go through the actors; /health and /ws are served directly.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ws", s.HandleWebSocket)

	mux.Handle("POST /users", http.HandlerFunc(s.HandleCreateUser))

	mux.Handle("POST /posts", s.Auth.Middleware(http.HandlerFunc(s.HandleCreatePost)))
	mux.Handle("GET /posts", s.withOptionalAuth(s.HandleListPosts))
	mux.Handle("GET /posts/{id}", s.withOptionalAuth(s.HandleGetPost))
	// Partial updates answer to PATCH; the PUT/POST forms stay as aliases
	// for clients that predate the verb change.
	mux.Handle("PATCH /posts/{id}", s.Auth.Middleware(http.HandlerFunc(s.HandleUpdatePost)))
	mux.Handle("PUT /posts/{id}", s.Auth.Middleware(http.HandlerFunc(s.HandleUpdatePost)))
	mux.Handle("POST /posts/{id}/vote", s.Auth.Middleware(http.HandlerFunc(s.HandleVotePost)))
	mux.Handle("GET /posts/{id}/comments", s.withOptionalAuth(s.HandleGetPostComments))

	mux.Handle("POST /solutions", s.Auth.Middleware(http.HandlerFunc(s.HandleCreateSolution)))
	mux.Handle("GET /solutions/{id}", s.withOptionalAuth(s.HandleGetSolution))
	mux.Handle("POST /solutions/{id}/vote", s.Auth.Middleware(http.HandlerFunc(s.HandleVoteSolution)))
	mux.Handle("GET /solutions/{id}/comments", s.withOptionalAuth(s.HandleGetSolutionComments))

	mux.Handle("POST /comments", s.Auth.Middleware(http.HandlerFunc(s.HandleCreateComment)))
	mux.Handle("PUT /comments/{id}", s.Auth.Middleware(http.HandlerFunc(s.HandleEditComment)))
	mux.Handle("DELETE /comments/{id}", s.Auth.Middleware(http.HandlerFunc(s.HandleDeleteComment)))
	mux.Handle("POST /comments/{id}/vote", s.Auth.Middleware(http.HandlerFunc(s.HandleVoteComment)))

	mux.Handle("GET /notifications", s.Auth.Middleware(http.HandlerFunc(s.HandleListNotifications)))
	mux.Handle("GET /notifications/unread-count", s.Auth.Middleware(http.HandlerFunc(s.HandleUnreadCount)))
	mux.Handle("PATCH /notifications/{id}/read", s.Auth.Middleware(http.HandlerFunc(s.HandleMarkRead)))
	mux.Handle("POST /notifications/{id}/read", s.Auth.Middleware(http.HandlerFunc(s.HandleMarkRead)))
	mux.Handle("PATCH /notifications/read-all", s.Auth.Middleware(http.HandlerFunc(s.HandleMarkAllRead)))
	mux.Handle("POST /notifications/read-all", s.Auth.Middleware(http.HandlerFunc(s.HandleMarkAllRead)))

	return mux
}

// withOptionalAuth resolves the caller's identity when a token is sent
// but never rejects anonymous reads.
func (s *Server) withOptionalAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			if claims, err := s.Auth.ValidateToken(authHeader[7:]); err == nil {
				r = r.WithContext(middleware.SetUserIDInContext(r.Context(), claims.UserID))
			}
		}
		next(w, r)
	})
}

// --- Response envelope ---

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    any  `json:"meta,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) respondData(w http.ResponseWriter, status int, data any, meta any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Meta: meta}); err != nil {
		s.Logger.Error("failed to encode response", "error", err)
	}
}

// respondError maps an error into the envelope. Internal codes are
// collapsed to a generic one before crossing the API boundary.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*utils.AppError)
	if !ok {
		appErr = utils.NewAppError(utils.ErrDatabase, "internal error", err)
	}

	status := utils.AppErrorToHTTPStatus(appErr.Code)
	if status >= 500 {
		s.Logger.Error("request failed", "code", appErr.Code, "error", appErr)
	}

	message := appErr.Message
	code := utils.PublicCode(appErr.Code)
	if code == "INTERNAL_ERROR" {
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error:   errorBody{Code: code, Message: message},
	})
}

// ask routes a message through an actor and unwraps the AppError-or-value
// convention actors respond with.
func (s *Server) ask(pid *actor.PID, msg any) (any, error) {
	future := s.Context.RequestFuture(pid, msg, s.RequestTimeout)
	result, err := future.Result()
	if err != nil {
		return nil, utils.NewActorTimeoutError("engine")
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}
	return result, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, utils.NewValidationError("invalid request body"))
		return false
	}
	return true
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondData(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}
