// Package protocol defines the WebSocket message protocol between clients and the gateway.
package protocol

import (
	"time"

	"github.com/xiaot623/prism/internal/domain"
)

// Message types from client to gateway
const (
	TypeJoinRoom            = "join_room"
	TypeChatMessage         = "chat_message"
	TypeGetChatHistory      = "get_chat_history"
	TypeStartSummaryProcess = "start_summary_process"
)

// Message types from gateway to client
const (
	TypeRoomJoined            = "room_joined"
	TypeChatHistory           = "chat_history"
	TypeSessionInfoUpdate     = "session_info_update"
	TypeSummaryProcessStarted = "summary_process_started"
	TypeError                 = "error"
)

// AI sender shown on assistant broadcasts.
const (
	AssistantUserID   = "AI"
	AssistantUsername = "AI Assistant"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
}

// NewBase stamps a message header with the current time.
func NewBase(typ, sessionID string) BaseMessage {
	return BaseMessage{Type: typ, Ts: time.Now().UnixMilli(), SessionID: sessionID}
}

// JoinRoomMessage asks to join the session room.
type JoinRoomMessage struct {
	BaseMessage
	RoomID string `json:"room_id"`
}

// RoomJoinedMessage confirms a room join.
type RoomJoinedMessage struct {
	BaseMessage
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// ChatMessageRequest carries the user's text for one turn.
type ChatMessageRequest struct {
	BaseMessage
	Text string `json:"text"`
}

// ChatMessageBroadcast delivers the assistant reply to the room.
type ChatMessageBroadcast struct {
	BaseMessage
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Message  domain.Message `json:"message"`
}

// ChatHistoryMessage returns the transcript to the requester.
type ChatHistoryMessage struct {
	BaseMessage
	Messages []domain.Message `json:"messages"`
}

// SessionInfoUpdateMessage carries session timing and status after a turn.
type SessionInfoUpdateMessage struct {
	BaseMessage
	SessionInfo domain.SessionInfo `json:"session_info"`
}

// StartSummaryMessage requests the summary process for a chat.
type StartSummaryMessage struct {
	BaseMessage
	ChatUUID string `json:"chat_uuid"`
}

// SummaryProcessStartedMessage acknowledges a summary request.
// Started is false when a run was already claimed.
type SummaryProcessStartedMessage struct {
	BaseMessage
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// EventMessage is a pipeline or lifecycle event pushed to the room.
type EventMessage struct {
	BaseMessage
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
	*domain.SessionArtifacts
}

// FromEvent converts a domain event to its wire form.
func FromEvent(evt domain.Event) EventMessage {
	return EventMessage{
		BaseMessage:      NewBase(string(evt.Type), evt.SessionID),
		UserID:           evt.UserID,
		Message:          evt.Message,
		SessionArtifacts: evt.Artifacts,
	}
}

// ErrorMessage is sent by the gateway when an error occurs.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeSessionExpired  = "session_expired"
	ErrorCodeInternalError   = "internal_error"
	ErrorCodeUpstreamError   = "upstream_error"
)
