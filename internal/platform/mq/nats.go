// Package mq publishes domain events.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectUserCreated      = "user.created"
	SubjectUserDeleted      = "user.deleted"
	SubjectCharacterCreated = "character.created"
	SubjectCharacterMoved   = "character.moved"
	SubjectCharacterDeleted = "character.deleted"
	SubjectSessionCreated   = "session.created"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close()
}

// Event is the JSON envelope of every published message.
type Event struct {
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// PublishJSON wraps payload in an Event and publishes it on subject.
func PublishJSON(ctx context.Context, pub Publisher, subject string, payload any) error {
	if pub == nil {
		return nil
	}
	b, err := json.Marshal(Event{Subject: subject, OccurredAt: time.Now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := pub.Publish(ctx, subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

type natsPublisher struct {
	conn *nats.Conn
}

func NewPublisher(url, name string) (Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &natsPublisher{conn: conn}, nil
}

func (n *natsPublisher) Publish(_ context.Context, subject string, data []byte) error {
	return n.conn.Publish(subject, data)
}

func (n *natsPublisher) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
}

type noopPublisher struct{}

func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (noopPublisher) Close()                                        {}
