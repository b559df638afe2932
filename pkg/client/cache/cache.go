// Package cache is the client's local replica: messages with their local
// send status, per-conversation sync cursors and the outbox of actions not
// yet acknowledged by the server.
package cache

import (
	"sort"
	"strconv"

	"chatsync/pkg/models"
)

// Status is the local delivery state of a message.
type Status uint8

const (
	// Pending is a local change the server has not acknowledged yet.
	Pending Status = iota
	// Confirmed mirrors server state.
	Confirmed
	// Failed was rejected by the server; the user may retry or discard.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Entry is one message as the user sees it.
type Entry struct {
	Message models.Message `json:"message"`
	Status  Status         `json:"status"`
	// TempID is the optimistic placeholder id of a local send.
	TempID string `json:"temp_id,omitempty"`
	// Base is the last confirmed server state while a local edit or delete
	// is pending, restored if the server rejects the change.
	Base  *models.Message `json:"base,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Key identifies the entry within its conversation: the durable id once
// known, else the temp id.
func (e *Entry) Key() string {
	if e.Message.ID != "" {
		return e.Message.ID
	}
	return TempKey(e.TempID)
}

func TempKey(tempID string) string { return "~" + tempID }

// SyncCursor records how far a conversation has been synced. Seq is the
// highest contiguous message seq held. Rev is the highest change revision
// after which nothing was missed; catch-up resumes from it.
type SyncCursor struct {
	ConversationID string `json:"conversation_id"`
	Seq            uint64 `json:"seq"`
	Rev            uint64 `json:"rev"`
	TS             int64  `json:"ts"`
}

// Action is a queued outbound command.
type Action struct {
	ID             uint64 `json:"id"`
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	TempID         string `json:"temp_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MediaRef       string `json:"media_ref,omitempty"`
	Emoji          string `json:"emoji,omitempty"`
	CreatedTS      int64  `json:"created_ts"`
}

// Cache is implemented by the pebble-backed and in-memory stores.
type Cache interface {
	PutEntry(e Entry) error
	DeleteEntry(convID, key string) error
	Entry(convID, key string) (*Entry, error)
	// Entries returns a conversation in display order.
	Entries(convID string) ([]Entry, error)

	PutCursor(c SyncCursor) error
	Cursor(convID string) (SyncCursor, error)
	Cursors() ([]SyncCursor, error)

	// Enqueue assigns the action the next outbox id.
	Enqueue(a Action) (Action, error)
	UpdateAction(a Action) error
	Outbox() ([]Action, error)
	Dequeue(id uint64) error

	Close() error
}

// SortEntries orders confirmed messages by seq and puts local sends after
// them in creation order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Message, entries[j].Message
		switch {
		case a.Seq != 0 && b.Seq != 0:
			return a.Seq < b.Seq
		case a.Seq != 0:
			return true
		case b.Seq != 0:
			return false
		default:
			return a.CreatedTS < b.CreatedTS
		}
	})
}
