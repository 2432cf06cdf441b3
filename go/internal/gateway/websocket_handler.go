package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for game and owner rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	commands          *Commands
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, commands *Commands) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		commands:          commands,
	}
}

// HandleGameConnection upgrades and joins the room of ?game_id=.
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	gameID, ok := queryUUID(w, r, "game_id")
	if !ok {
		return
	}
	h.connect(w, r, func(ctx context.Context, conn *Connection) error {
		return h.commands.JoinGame(ctx, conn, gameID)
	})
}

// HandleUserConnection upgrades and joins the room of ?owner_id=.
func (h *WebSocketHandler) HandleUserConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := queryUUID(w, r, "owner_id")
	if !ok {
		return
	}
	h.connect(w, r, func(ctx context.Context, conn *Connection) error {
		return h.commands.JoinOwner(ctx, conn, ownerID)
	})
}

func (h *WebSocketHandler) connect(w http.ResponseWriter, r *http.Request, join func(context.Context, *Connection) error) {
	// In production, this would come from a session
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, userID)
	if err != nil {
		// The upgrader has already written an HTTP error.
		log.Error().Err(err).Str("user_id", userID).Msg("failed to upgrade WebSocket connection")
		return
	}

	if err := join(context.Background(), conn); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID()).Msg("initial join failed")
		h.commands.sendError(conn, Command{}, err)
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/game", h.HandleGameConnection)
	mux.HandleFunc("/ws/user", h.HandleUserConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		http.Error(w, name+" is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid "+name+" format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

var (
	_ Session          = (*Connection)(nil)
	_ events.Publisher = (*ConnectionManager)(nil)
)
