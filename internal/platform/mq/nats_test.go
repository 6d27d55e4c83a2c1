package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	subject string
	data    []byte
	err     error
}

func (r *recorder) Publish(_ context.Context, subject string, data []byte) error {
	r.subject, r.data = subject, data
	return r.err
}

func (r *recorder) Close() {}

func TestPublishJSON(t *testing.T) {
	rec := &recorder{}
	err := PublishJSON(context.Background(), rec, SubjectCharacterMoved, map[string]any{"characterId": "c1"})
	require.NoError(t, err)
	assert.Equal(t, SubjectCharacterMoved, rec.subject)

	var ev struct {
		Subject string         `json:"subject"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.data, &ev))
	assert.Equal(t, SubjectCharacterMoved, ev.Subject)
	assert.Equal(t, "c1", ev.Data["characterId"])
}

func TestPublishJSONWrapsErrors(t *testing.T) {
	rec := &recorder{err: errors.New("nats: connection closed")}
	err := PublishJSON(context.Background(), rec, SubjectUserCreated, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectUserCreated)

	err = PublishJSON(context.Background(), rec, SubjectUserCreated, make(chan int))
	require.Error(t, err)
}

func TestNilAndNoopPublishers(t *testing.T) {
	require.NoError(t, PublishJSON(context.Background(), nil, SubjectUserCreated, "x"))
	require.NoError(t, PublishJSON(context.Background(), NewNoopPublisher(), SubjectUserCreated, "x"))
}
