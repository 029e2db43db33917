// Package stream pushes per-stage turn progress over WebSocket, so
// clients can show what the guard is doing between the user message and
// the final text.
package stream

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/omniguard-ai/omniguard/internal/service/conversation"
	"github.com/omniguard-ai/omniguard/internal/service/orchestrator"
)

// Handler upgrades chat sessions to a WebSocket turn transport.
type Handler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New creates the stream handler.
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/{sessionID}/ws", h.handleWebSocket)
}

type inboundFrame struct {
	Content string `json:"content"`
}

type outboundFrame struct {
	Event   string                `json:"event"`
	Stage   string                `json:"stage,omitempty"`
	Outcome *orchestrator.Outcome `json:"outcome,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed for session=%s: %v", sessionID, err)
			}
			return
		}

		observer := func(stage orchestrator.Stage) {
			if stage == orchestrator.StageComplete {
				return
			}
			h.send(conn, outboundFrame{Event: "stage", Stage: string(stage)})
		}

		outcome, err := h.chatSvc.RunTurn(ctx, sessionID, frame.Content, observer)
		if err != nil {
			h.send(conn, outboundFrame{Event: "error", Error: userFacingError(err)})
			continue
		}

		h.send(conn, outboundFrame{Event: "final", Outcome: &outcome})
	}
}

func (h *Handler) send(conn *websocket.Conn, frame outboundFrame) {
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func userFacingError(err error) string {
	switch {
	case err == nil:
		return ""
	case err == chatservice.ErrSessionNotFound, err == chatservice.ErrEmptyMessage:
		return err.Error()
	default:
		return "failed to process message"
	}
}
