package pubsub

import (
	"context"
)

type Publisher interface {
	// Publish topic to message broker with payload.
	Publish(ctx context.Context, topic string, payload []byte) error
}

type PubSub interface {
	Publisher
	Subscribe(ctx context.Context, topic string, handler func(payload []byte) error) (Subscription, error)
	Close()
}

type Subscription interface {
	Unsubscribe() error
}

// GetSessionQueue is the subject carrying lifecycle events for one
// session; the websocket handler subscribes here.
func GetSessionQueue(doctorID, sessionID string) string {
	return "session-updates." + doctorID + "." + sessionID
}

// GetAdminQueue carries every session event for admin monitoring.
func GetAdminQueue() string {
	return "session-updates.admin"
}
