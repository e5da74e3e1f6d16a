// Package notify announces played utterances on NATS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "speech.audio.played"

	clientName     = "speech-mcp"
	publishTimeout = 5 * time.Second
)

var (
	// ErrNilConnection indicates that a Publisher was created without a connection.
	ErrNilConnection = errors.New("nats connection cannot be nil")
	// ErrSubjectEmpty indicates that the subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
)

// Publisher sends an AudioChunkCreatedEvent for every played utterance.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *log.Logger
	owned   bool
}

// NewPublisher creates a Publisher on an existing connection. Close leaves the
// connection open.
func NewPublisher(conn *nats.Conn, subject string, logger *log.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Publisher{conn: conn, subject: subject, log: logger}, nil
}

// Connect dials url and creates a Publisher that owns the connection.
func Connect(url, subject string, logger *log.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name(clientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	publisher, err := NewPublisher(conn, subject, logger)
	if err != nil {
		conn.Close()

		return nil, err
	}

	publisher.owned = true

	publisher.log.Infof("Publishing playback events to %s on %s", subject, conn.ConnectedUrlRedacted())

	return publisher, nil
}

// AudioPlayed publishes the event and waits for the server to acknowledge it.
func (p *Publisher) AudioPlayed(ctx context.Context, played core.AudioPlayed) error {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: played.RequestID,
			EventID:    uuid.NewString(),
		},
		PageNumber: 1,
		TotalPages: 1,
	}

	if played.Path != "" {
		event.AudioKey = filepath.Base(played.Path)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.conn.Publish(p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.conn.FlushWithContext(flushCtx)
	if err != nil {
		return fmt.Errorf("failed to flush event to %s: %w", p.subject, err)
	}

	p.log.Debugf("Published playback event %s for %s", event.Header.EventID, played.RequestID)

	return nil
}

// Close drains the connection if the Publisher opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}

	err := p.conn.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}

// Noop discards every event.
type Noop struct{}

// AudioPlayed does nothing.
func (Noop) AudioPlayed(_ context.Context, _ core.AudioPlayed) error {
	return nil
}
