package models

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
	KindLive   ConversationKind = "live"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case KindDirect, KindGroup, KindLive:
		return true
	}
	return false
}

type ConversationSettings struct {
	ApprovalRequired bool `json:"approval_required"`
	// MaxParticipants of 0 means unbounded.
	MaxParticipants int `json:"max_participants"`
}

type Conversation struct {
	ID           string               `json:"id"`
	Kind         ConversationKind     `json:"kind"`
	Title        string               `json:"title,omitempty"`
	CreatedBy    string               `json:"created_by"`
	Participants []string             `json:"participants"`
	Moderators   []string             `json:"moderators,omitempty"`
	Settings     ConversationSettings `json:"settings"`
	// LastSeq is the sequence of the newest committed message.
	LastSeq uint64 `json:"last_seq"`
	// LastRev counts message creates, edits and deletes.
	LastRev   uint64 `json:"last_rev"`
	CreatedTS int64  `json:"created_ts"`
	UpdatedTS int64  `json:"updated_ts"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

func (c *Conversation) IsModerator(userID string) bool {
	return c.CreatedBy == userID || contains(c.Moderators, userID)
}

// AddParticipant reports whether the participant set changed.
func (c *Conversation) AddParticipant(userID string) bool {
	if c.HasParticipant(userID) {
		return false
	}
	c.Participants = append(c.Participants, userID)
	return true
}

// RemoveParticipant reports whether the participant set changed.
func (c *Conversation) RemoveParticipant(userID string) bool {
	var ok bool
	c.Participants, ok = remove(c.Participants, userID)
	c.Moderators, _ = remove(c.Moderators, userID)
	return ok
}

// Counterpart returns the other member of a direct conversation.
func (c *Conversation) Counterpart(userID string) string {
	if c.Kind != KindDirect {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) ([]string, bool) {
	for i, s := range list {
		if s == v {
			out := append([]string{}, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}
