// Package ws provides the WebSocket transport for chat clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/protocol"
	"github.com/my-personal-agent/chat-service/internal/session"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second

	maxMessageSize = 1 << 20
)

// Server handles WebSocket connections.
type Server struct {
	sessions *session.Service
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewServer creates a new WebSocket server.
func NewServer(sessions *session.Service) *Server {
	return &Server{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
}

// RegisterRoutes registers the chat WebSocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/chat", s.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs the client loop.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	// TODO: replace with real authentication once the auth service lands.
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = "default_user"
	}

	conn := newConnection(ws)
	go conn.writePump(s.pingInterval, s.writeTimeout)
	s.readLoop(c.Request().Context(), conn, userID)
	return nil
}

// readLoop reads client frames and processes them sequentially: a turn
// runs end-to-end (including confirmation suspension) before the next
// frame is read.
func (s *Server) readLoop(ctx context.Context, conn *Connection, userID string) {
	defer conn.Close()

	conn.conn.SetReadLimit(maxMessageSize)
	conn.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		s.handleFrame(ctx, conn, userID, message)

		// A turn can outlast the deadline armed before it; re-arm after the
		// frame so a healthy client is not dropped on the next read.
		conn.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// handleFrame dispatches one client frame.
func (s *Server) handleFrame(ctx context.Context, conn *Connection, userID string, data []byte) {
	var evt protocol.ClientEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.sendError(conn, "Invalid JSON")
		return
	}

	switch evt.Type {
	case protocol.TypePing:
		if err := conn.Send(protocol.Pong()); err != nil {
			log.Printf("Failed to send pong: %v", err)
		}

	case protocol.TypeResume:
		s.handleResume(ctx, conn, evt)

	case protocol.TypeUserMessage:
		s.handleUserMessage(ctx, conn, userID, evt)

	case protocol.TypeStop:
		// Stop only settles the client-visible stream; the underlying agent
		// turn is not cancelled.
		if err := conn.Send(protocol.CompleteFrame{Type: protocol.TypeComplete}); err != nil {
			log.Printf("Failed to send complete: %v", err)
		}

	default:
		s.sendError(conn, "Unknown type '"+evt.Type+"'")
	}
}

// handleResume replays the cached in-flight segment after a reconnect.
// Replaying is read-only; retrying the same resume returns the same
// segment.
func (s *Server) handleResume(ctx context.Context, conn *Connection, evt protocol.ClientEvent) {
	if evt.ChatID == "" {
		s.sendError(conn, "Missing chat_id")
		return
	}

	entry, err := s.sessions.Progress().Load(ctx, evt.ChatID)
	if err != nil {
		log.Printf("WARN: failed to load progress cache: %v", err)
	}
	if entry != nil && entry.Current != nil {
		frameType := protocol.TypeResumeMessaging
		if entry.Thinking {
			frameType = protocol.TypeResumeThinking
		}
		if err := conn.Send(protocol.SegmentFrame(frameType, *entry.Current)); err != nil {
			log.Printf("Failed to send resume frame: %v", err)
			return
		}
	}

	if err := conn.Send(protocol.ResumeAckFrame{Type: protocol.TypeResumeAck, ChatID: evt.ChatID}); err != nil {
		log.Printf("Failed to send resume_ack: %v", err)
	}
}

func (s *Server) handleUserMessage(ctx context.Context, conn *Connection, userID string, evt protocol.ClientEvent) {
	err := s.sessions.HandleUserMessage(ctx, conn, userID, evt)
	if err == nil {
		return
	}

	log.Printf("ERROR: user message handling failed: %v", err)
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		s.sendError(conn, "Chat not found")
	case errors.Is(err, domain.ErrInvalidApproval):
		s.sendError(conn, "Invalid approval value")
	default:
		s.sendError(conn, "Internal error")
	}
}

func (s *Server) sendError(conn *Connection, message string) {
	if err := conn.Send(protocol.Error(message)); err != nil {
		log.Printf("Failed to send error frame: %v", err)
	}
}
