// Package notify holds the notification dispatcher collaborator: it is told
// about events for users who have no live connection, and hands them to a
// push pipeline this service does not implement.
package notify

import (
	"context"
	"time"

	"chatsync/pkg/logger"
)

type Notification struct {
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
	TS        int64  `json:"ts"`
}

type Dispatcher interface {
	Notify(ctx context.Context, userID, eventType string, payload any) error
}

// Log only records notifications. It is the default driver.
type Log struct{}

func (Log) Notify(_ context.Context, userID, eventType string, _ any) error {
	logger.Info("notification_dispatched", "user", userID, "event", eventType)
	return nil
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, userID, eventType string, payload any) error

func (f Func) Notify(ctx context.Context, userID, eventType string, payload any) error {
	return f(ctx, userID, eventType, payload)
}

func newNotification(userID, eventType string, payload any) Notification {
	return Notification{UserID: userID, EventType: eventType, Payload: payload, TS: time.Now().UTC().UnixNano()}
}
