package models

import "testing"

func TestSessionTransitionsAreMonotonic(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		ok       bool
	}{
		{SessionWaiting, SessionActive, true},
		{SessionWaiting, SessionEnded, true},
		{SessionActive, SessionEnded, true},
		{SessionActive, SessionWaiting, false},
		{SessionEnded, SessionActive, false},
		{SessionEnded, SessionEnded, false},
		{SessionStatus("bogus"), SessionActive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Fatalf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestMessageRedactKeepsIdentity(t *testing.T) {
	m := Message{ID: "m-1", Seq: 7, Content: "hi", MediaRef: "img", CreatedTS: 10}
	m.Redact(20)
	if m.Content != "" || m.MediaRef != "" {
		t.Fatalf("content not redacted")
	}
	if m.ID != "m-1" || m.Seq != 7 || !m.Deleted() {
		t.Fatalf("tombstone lost identity: %+v", m)
	}
	if m.UpdatedTS() != 20 {
		t.Fatalf("UpdatedTS = %d", m.UpdatedTS())
	}
}

func TestLiveSessionParticipants(t *testing.T) {
	s := LiveSession{HostID: "h", Capacity: 2}
	s.AddParticipant("x")
	s.AddParticipant("x")
	s.AddParticipant("y")
	if s.CurrentParticipantCount != 2 || !s.Full() {
		t.Fatalf("unexpected count %d", s.CurrentParticipantCount)
	}
	if !s.RemoveParticipant("x") || s.CurrentParticipantCount != 1 {
		t.Fatalf("remove failed")
	}
	if s.RemoveParticipant("x") {
		t.Fatalf("second remove should report false")
	}
}

func TestConversationCounterpart(t *testing.T) {
	c := Conversation{Kind: KindDirect, Participants: []string{"a", "b"}}
	if c.Counterpart("a") != "b" {
		t.Fatalf("counterpart mismatch")
	}
	g := Conversation{Kind: KindGroup, Participants: []string{"a", "b"}}
	if g.Counterpart("a") != "" {
		t.Fatalf("group has no counterpart")
	}
}
