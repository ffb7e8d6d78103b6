// Package ws provides the WebSocket gateway for session rooms.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/prism/internal/auth"
	"github.com/xiaot623/prism/internal/config"
	"github.com/xiaot623/prism/internal/domain"
	"github.com/xiaot623/prism/internal/hub"
	"github.com/xiaot623/prism/internal/metrics"
	"github.com/xiaot623/prism/internal/protocol"
	"github.com/xiaot623/prism/internal/service"
)

// inboxSize bounds the frames queued per connection behind a running turn.
const inboxSize = 32

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	svc      *service.Service
	verifier *auth.Verifier
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, verifier *auth.Verifier, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	return &Server{
		cfg:      cfg,
		hub:      h,
		svc:      svc,
		verifier: verifier,
		metrics:  m,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket authenticates the handshake, upgrades and starts the connection pumps.
// Handshake failures are answered with a plain HTTP error before any upgrade.
func (s *Server) HandleWebSocket(c echo.Context) error {
	creds := auth.CredentialsFromRequest(c.Request())
	if creds.Token == "" || creds.APIKey == "" || creds.SessionID == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": domain.ErrAuthentication.Error()})
	}

	identity, err := s.verifier.Authenticate(creds)
	if err != nil {
		s.log.WithError(err).Info("websocket handshake rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": domain.ErrAuthentication.Error()})
	}
	if _, err := s.svc.AuthorizeSession(c.Request().Context(), identity, creds.SessionID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id":    identity.UserID,
			"session_id": creds.SessionID,
		}).Info("websocket session access denied")
		return c.JSON(handshakeStatus(err), map[string]string{"error": err.Error()})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws, identity.UserID, creds.SessionID)
	s.hub.Register(conn)
	s.metrics.ConnectionOpened()
	s.log.WithFields(logrus.Fields{
		"conn_id":    conn.ID,
		"user_id":    conn.UserID,
		"session_id": conn.ChatID,
	}).Info("client connected")

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	inbox := make(chan []byte, inboxSize)

	go s.writePump(conn)
	go s.dispatch(ctx, conn, inbox)
	go s.readPump(conn, inbox, cancel)

	return nil
}

func handshakeStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readPump reads frames and queues them for the dispatch worker.
func (s *Server) readPump(conn *hub.Connection, inbox chan<- []byte, cancel context.CancelFunc) {
	defer func() {
		close(inbox)
		cancel()
		s.hub.Unregister(conn)
		conn.Close()
		s.metrics.ConnectionClosed()
		s.log.WithFields(logrus.Fields{"conn_id": conn.ID, "user_id": conn.UserID}).Info("client disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).WithField("conn_id", conn.ID).Warn("websocket read error")
			}
			return
		}

		select {
		case inbox <- message:
		default:
			s.sendError(conn, protocol.ErrorCodeInvalidMessage, "too many pending messages")
		}
	}
}

// dispatch handles queued frames one at a time so a connection's requests stay ordered.
func (s *Server) dispatch(ctx context.Context, conn *hub.Connection, inbox <-chan []byte) {
	for data := range inbox {
		s.handleMessage(ctx, conn, data)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).WithField("conn_id", conn.ID).Warn("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(conn, data)
	case protocol.TypeChatMessage:
		s.handleChatMessage(ctx, conn, data)
	case protocol.TypeGetChatHistory:
		s.handleGetChatHistory(ctx, conn)
	case protocol.TypeStartSummaryProcess:
		s.handleStartSummary(ctx, conn, data)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

func (s *Server) handleJoinRoom(conn *hub.Connection, data []byte) {
	var msg protocol.JoinRoomMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid join_room message")
		return
	}

	roomID := msg.RoomID
	if roomID == "" {
		roomID = conn.ChatID
	}
	if roomID != conn.ChatID {
		s.sendError(conn, protocol.ErrorCodeUnauthorized, "room does not match the authorized session")
		return
	}

	s.hub.JoinRoom(conn, roomID)
	s.hub.SendJSONToConnection(conn, protocol.RoomJoinedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeRoomJoined, roomID),
		RoomID:      roomID,
		Message:     "Joined room " + roomID,
	})
	s.log.WithFields(logrus.Fields{"conn_id": conn.ID, "session_id": roomID}).Debug("room joined")
}

func (s *Server) handleChatMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg protocol.ChatMessageRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid chat_message message")
		return
	}
	if conn.RoomID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must join_room first")
		return
	}
	if msg.Text == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "text is required")
		return
	}

	res, err := s.svc.Turn(ctx, conn.RoomID, msg.Text)
	if err != nil {
		s.sendServiceError(conn, err)
		return
	}

	if err := s.hub.BroadcastJSON(conn.RoomID, protocol.ChatMessageBroadcast{
		BaseMessage: protocol.NewBase(protocol.TypeChatMessage, conn.RoomID),
		UserID:      protocol.AssistantUserID,
		Username:    protocol.AssistantUsername,
		Message:     res.Reply,
	}); err != nil {
		s.log.WithError(err).Error("failed to broadcast reply")
	}
	s.hub.SendJSONToConnection(conn, protocol.SessionInfoUpdateMessage{
		BaseMessage: protocol.NewBase(protocol.TypeSessionInfoUpdate, conn.RoomID),
		SessionInfo: res.Info,
	})
}

func (s *Server) handleGetChatHistory(ctx context.Context, conn *hub.Connection) {
	if conn.RoomID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must join_room first")
		return
	}
	messages, err := s.svc.History(ctx, conn.RoomID)
	if err != nil {
		s.sendServiceError(conn, err)
		return
	}
	s.hub.SendJSONToConnection(conn, protocol.ChatHistoryMessage{
		BaseMessage: protocol.NewBase(protocol.TypeChatHistory, conn.RoomID),
		Messages:    messages,
	})
}

func (s *Server) handleStartSummary(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg protocol.StartSummaryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid start_summary_process message")
		return
	}
	if conn.RoomID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must join_room first")
		return
	}
	if msg.ChatUUID != "" && msg.ChatUUID != conn.RoomID {
		s.sendError(conn, protocol.ErrorCodeUnauthorized, "chat_uuid does not match the joined room")
		return
	}

	started, err := s.svc.StartSummary(ctx, conn.RoomID)
	if err != nil {
		s.sendServiceError(conn, err)
		return
	}
	text := "Summary process started"
	if !started {
		text = "Summary process already started"
	}
	s.hub.SendJSONToConnection(conn, protocol.SummaryProcessStartedMessage{
		BaseMessage: protocol.NewBase(protocol.TypeSummaryProcessStarted, conn.RoomID),
		Started:     started,
		Message:     text,
	})
}

// sendServiceError maps a service error to a scoped error event.
func (s *Server) sendServiceError(conn *hub.Connection, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, domain.ErrSessionExpired):
		s.sendError(conn, protocol.ErrorCodeSessionExpired, domain.ErrSessionExpired.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, err.Error())
	case errors.Is(err, domain.ErrUpstreamCompletion):
		s.sendError(conn, protocol.ErrorCodeUpstreamError, "failed to generate a response")
	case errors.Is(err, domain.ErrSessionNotFound):
		s.sendError(conn, protocol.ErrorCodeSessionRequired, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		s.sendError(conn, protocol.ErrorCodeUnauthorized, err.Error())
	default:
		s.log.WithError(err).WithField("conn_id", conn.ID).Error("request failed")
		s.sendError(conn, protocol.ErrorCodeInternalError, "internal error")
	}
}

// sendError sends an error message to a connection. It is called from both pumps,
// so it reads only the immutable handshake session.
func (s *Server) sendError(conn *hub.Connection, code, message string) {
	s.hub.SendJSONToConnection(conn, protocol.ErrorMessage{
		BaseMessage: protocol.NewBase(protocol.TypeError, conn.ChatID),
		Code:        code,
		Message:     message,
	})
}
