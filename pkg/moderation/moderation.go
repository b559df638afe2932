// Package moderation answers block and ban questions before a send or a
// reaction is accepted, and records the decisions made by moderators.
package moderation

import (
	"context"
)

// Checker is consulted by the coordinator.
type Checker interface {
	// IsBlocked reports whether blocker has blocked blocked.
	IsBlocked(ctx context.Context, blocker, blocked string) (bool, error)
	IsBanned(ctx context.Context, conversationID, userID string) (bool, error)
}

// Service also lets moderators change state.
type Service interface {
	Checker
	SetBan(ctx context.Context, conversationID, userID string, banned bool) error
	SetBlock(ctx context.Context, blocker, blocked string, on bool) error
}

// Allow permits everything.
type Allow struct{}

func (Allow) IsBlocked(context.Context, string, string) (bool, error) { return false, nil }
func (Allow) IsBanned(context.Context, string, string) (bool, error)  { return false, nil }
