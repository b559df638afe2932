// Package wire is the transport-agnostic event contract spoken between the
// gateway and clients. Every frame has the shape
//
//	{"type": "...", "ref": "...", "room": "...", "data": {...}}
//
// and is encoded with one of the registered codecs, negotiated through the
// websocket subprotocol.
package wire

import "strings"

// Client to server commands.
const (
	CmdJoinRoom       = "join_room"
	CmdLeaveRoom      = "leave_room"
	CmdSendMessage    = "send_message"
	CmdEditMessage    = "edit_message"
	CmdDeleteMessage  = "delete_message"
	CmdReact          = "react"
	CmdUnreact        = "unreact"
	CmdMarkRead       = "mark_read"
	CmdMarkReadBatch  = "mark_read_batch"
	CmdRequestJoin    = "request_join"
	CmdApproveRequest = "approve_request"
	CmdRejectRequest  = "reject_request"
	CmdTyping         = "typing"
	CmdStopTyping     = "stop_typing"
	CmdCreateSession  = "create_session"
	CmdStartSession   = "start_session"
	CmdEndSession     = "end_session"
	CmdLeaveSession   = "leave_session"
	CmdAddCoHost      = "add_cohost"
	CmdPing           = "ping"
)

// Server to client events.
const (
	EvtHello               = "hello"
	EvtAck                 = "ack"
	EvtError               = "error"
	EvtMessageCreated      = "message_created"
	EvtMessageEdited       = "message_edited"
	EvtMessageDeleted      = "message_deleted"
	EvtReactionAdded       = "reaction_added"
	EvtReactionRemoved     = "reaction_removed"
	EvtMessageRead         = "message_read"
	EvtParticipantJoined   = "participant_joined"
	EvtParticipantLeft     = "participant_left"
	EvtJoinRequestReceived = "join_request_received"
	EvtJoinRequestApproved = "join_request_approved"
	EvtJoinRequestRejected = "join_request_rejected"
	EvtLiveSessionStarted  = "live_session_started"
	EvtLiveSessionEnded    = "live_session_ended"
	EvtTyping              = "typing"
	EvtPong                = "pong"
)

// Header is decoded first to route a frame before its payload is decoded.
type Header struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Room string `json:"room,omitempty"`
}

type Frame[T any] struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`
	Room string `json:"room,omitempty"`
	TS   int64  `json:"ts,omitempty"`
	Data T      `json:"data"`
}

// Room kinds.
const (
	RoomConversation = "conversation"
	RoomSession      = "session"
	RoomUser         = "user"
)

func ConversationRoom(id string) string { return RoomConversation + ":" + id }
func SessionRoom(id string) string      { return RoomSession + ":" + id }
func UserRoom(id string) string         { return RoomUser + ":" + id }

// ParseRoom splits "kind:id". ok is false for unknown kinds or empty ids.
func ParseRoom(room string) (kind, id string, ok bool) {
	kind, id, found := strings.Cut(room, ":")
	if !found || id == "" {
		return "", "", false
	}
	switch kind {
	case RoomConversation, RoomSession, RoomUser:
		return kind, id, true
	}
	return "", "", false
}
