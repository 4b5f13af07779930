package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by photodrop.
const (
	SubjectSubmissionReceived = "photodrop.submissions.received"
	SubjectArtifactsExpired   = "photodrop.artifacts.expired"
	SubjectArtifactsDeleted   = "photodrop.artifacts.deleted"
)

// SubmissionReceived is published after an upload has been stored.
type SubmissionReceived struct {
	ArtifactIDs []string  `json:"artifact_ids"`
	Shape       string    `json:"shape"`
	Files       int       `json:"files"`
	Bytes       int64     `json:"bytes"`
	At          time.Time `json:"at"`
}

// ArtifactsRemoved is published when artifacts leave the store.
type ArtifactsRemoved struct {
	ArtifactIDs []string  `json:"artifact_ids"`
	Reason      string    `json:"reason"`
	At          time.Time `json:"at"`
}

// Bus wraps a NATS connection for publishing inbox events.
// A nil *Bus drops every event, so NATS stays optional.
type Bus struct {
	conn *nats.Conn
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	opts = append([]nats.Option{nats.Name("photodrop"), nats.Timeout(5 * time.Second)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil || subj == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}
