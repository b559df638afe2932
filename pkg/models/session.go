package models

type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

func (s SessionStatus) rank() int {
	switch s {
	case SessionWaiting:
		return 0
	case SessionActive:
		return 1
	case SessionEnded:
		return 2
	}
	return -1
}

// CanTransition reports whether s -> next is a forward transition.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	return next.rank() > s.rank() && s.rank() >= 0
}

type LiveSession struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversation_id"`
	HostID          string        `json:"host_id"`
	CoHosts         []string      `json:"co_hosts,omitempty"`
	Status          SessionStatus `json:"status"`
	Capacity        int           `json:"capacity"`
	RequireApproval bool          `json:"require_approval"`
	// Participants excludes the host; its length is the participant count.
	Participants            []string `json:"participants"`
	CurrentParticipantCount int      `json:"current_participant_count"`
	CreatedTS               int64    `json:"created_ts"`
	StartedTS               int64    `json:"started_ts,omitempty"`
	EndedTS                 int64    `json:"ended_ts,omitempty"`
	EndReason               string   `json:"end_reason,omitempty"`
}

func (s *LiveSession) IsHost(userID string) bool {
	return s.HostID == userID || contains(s.CoHosts, userID)
}

func (s *LiveSession) HasParticipant(userID string) bool {
	return contains(s.Participants, userID)
}

func (s *LiveSession) Full() bool {
	return s.Capacity > 0 && s.CurrentParticipantCount >= s.Capacity
}

func (s *LiveSession) AddParticipant(userID string) {
	if s.HasParticipant(userID) {
		return
	}
	s.Participants = append(s.Participants, userID)
	s.CurrentParticipantCount = len(s.Participants)
}

func (s *LiveSession) RemoveParticipant(userID string) bool {
	var ok bool
	s.Participants, ok = remove(s.Participants, userID)
	s.CurrentParticipantCount = len(s.Participants)
	return ok
}

type JoinStatus string

const (
	JoinPending  JoinStatus = "pending"
	JoinApproved JoinStatus = "approved"
	JoinRejected JoinStatus = "rejected"
)

func (s JoinStatus) Terminal() bool { return s == JoinApproved || s == JoinRejected }

type JoinRequest struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	Status      JoinStatus `json:"status"`
	CreatedTS   int64      `json:"created_ts"`
	RespondedTS int64      `json:"responded_ts,omitempty"`
	RespondedBy string     `json:"responded_by,omitempty"`
	// Reason is set for automatic rejections ("session_ended").
	Reason string `json:"reason,omitempty"`
}
