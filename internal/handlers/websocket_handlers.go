package handlers

import (
	"net/http"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"mangrove/internal/websocket"
)

// AllowedOrigins gates websocket upgrades. Empty means allow all, for
// local development.
var AllowedOrigins []string

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		if len(AllowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowed := range AllowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	},
}

// HandleWebSocket authenticates via the token query parameter (browsers
// cannot set headers on websocket handshakes) and hands the connection
// to the hub.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := s.Auth.ValidateToken(tokenString)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}
	if claims.UserID == uuid.Nil {
		http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.Logger.Debug("websocket upgrade failed", "user", claims.UserID, "error", err)
		return
	}

	client := &websocket.Client{
		Hub:    s.Hub,
		UserID: claims.UserID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Logger: s.Logger,
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
