package client

import (
	"strconv"

	"chatsync/pkg/client/cache"
	"chatsync/pkg/models"
	"chatsync/pkg/wire"
)

// State is the engine's connection state.
type State uint8

const (
	StateConnecting State = iota
	StateOnline
	// StateOffline is between attempts while reconnecting.
	StateOffline
	// StateFailed means retries are exhausted; the user sees "can't connect".
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type UpdateKind uint8

const (
	MessageUpserted UpdateKind = iota
	MessageRemoved
	// ActionFailed reports a rejected local change; Entry is set when a
	// message was affected.
	ActionFailed
	ReactionChanged
	ReadChanged
	TypingChanged
	JoinRequestChanged
	SessionChanged
	ParticipantChanged
	ConnectionChanged
)

// Update is what UI layers subscribe to. Only the fields of its Kind are set.
type Update struct {
	Kind           UpdateKind
	ConversationID string

	Entry *cache.Entry
	// Key of a removed entry.
	Key string

	Reaction        *models.Reaction
	ReactionRemoved bool
	Read            *wire.MessageRead
	Typing          []string

	// Request is set for a new request addressed to a host, Resolution
	// when a request was approved or rejected.
	Request    *models.JoinRequest
	Resolution *wire.JoinRequestResolved
	Session    *models.LiveSession
	// Event is the wire event type for session and participant updates.
	Event       string
	Participant *wire.Participant

	State State
	Err   error
}
