package models

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	// Seq is the per-conversation commit order; clients render by it.
	Seq uint64 `json:"seq"`
	// Rev is the conversation revision of the last create, edit or delete.
	Rev      uint64 `json:"rev"`
	Content  string `json:"content,omitempty"`
	MediaRef string `json:"media_ref,omitempty"`
	// ClientTempID is the sender's optimistic placeholder id, if any.
	ClientTempID string `json:"client_temp_id,omitempty"`
	CreatedTS    int64  `json:"created_ts"`
	EditedTS     int64  `json:"edited_ts,omitempty"`
	DeletedTS    int64  `json:"deleted_ts,omitempty"`
}

func (m *Message) Deleted() bool { return m.DeletedTS != 0 }

// Redact turns the message into a tombstone. The id and seq survive so that
// other caches keep their ordering.
func (m *Message) Redact(ts int64) {
	m.Content = ""
	m.MediaRef = ""
	m.DeletedTS = ts
}

// UpdatedTS is the server time of the last mutation.
func (m *Message) UpdatedTS() int64 {
	ts := m.CreatedTS
	if m.EditedTS > ts {
		ts = m.EditedTS
	}
	if m.DeletedTS > ts {
		ts = m.DeletedTS
	}
	return ts
}

type Reaction struct {
	ID             string `json:"id"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji"`
	CreatedTS      int64  `json:"created_ts"`
}

// ReadReceipt records when a user read a particular message.
type ReadReceipt struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ReadTS    int64  `json:"read_ts"`
}

// ReadCursor is the authoritative per-user, per-conversation read position.
// It only ever moves forward.
type ReadCursor struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	MessageID      string `json:"message_id"`
	Seq            uint64 `json:"seq"`
	ReadTS         int64  `json:"read_ts"`
}
