package wire

import "chatsync/pkg/models"

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type SendMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content,omitempty"`
	MediaRef       string `json:"media_ref,omitempty"`
	ClientTempID   string `json:"client_temp_id,omitempty"`
}

type EditMessage struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageRef struct {
	MessageID string `json:"message_id"`
}

type React struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type MarkReadBatch struct {
	MessageIDs []string `json:"message_ids"`
}

type SessionRef struct {
	SessionID string `json:"session_id"`
}

type RequestRef struct {
	RequestID string `json:"request_id"`
}

type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

type CreateSession struct {
	Title           string `json:"title,omitempty"`
	Capacity        int    `json:"capacity"`
	RequireApproval bool   `json:"require_approval"`
}

type AddCoHost struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// Hello is the first frame on every connection.
type Hello struct {
	UserID     string `json:"user_id"`
	ConnID     string `json:"conn_id"`
	ServerTime int64  `json:"server_time"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomJoined is the ack result of join_room.
type RoomJoined struct {
	RoomID  string   `json:"room_id"`
	Members []string `json:"members"`
}

type MessageRead struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Seq            uint64 `json:"seq"`
	ReadAt         int64  `json:"read_at"`
}

// ReadResult is one item of a batch read result.
type ReadResult struct {
	MessageID string `json:"message_id"`
	Advanced  bool   `json:"advanced"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

type Participant struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type JoinRequestReceived struct {
	Request models.JoinRequest `json:"request"`
}

type JoinRequestResolved struct {
	RequestID string            `json:"request_id"`
	SessionID string            `json:"session_id"`
	Status    models.JoinStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
}

type SessionEvent struct {
	Session models.LiveSession `json:"session"`
}

type Typing struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}
