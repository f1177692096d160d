// Package analytics provides a fire-and-forget NATS publisher for processing
// events emitted by the proxy services.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream that captures every hls.* subject.
	StreamName = "HLS"

	SubjectPlaylistProcessed = "hls.playlist.processed"
)

// Event is the canonical envelope sent to all hls.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	Service    string         `json:"service,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js      nats.JetStreamContext
	service string
	log     *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, service string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, service: service, log: log}
}

// FromConn opens JetStream on nc and makes sure the HLS stream exists.
// A stream that cannot be created is logged; publishing still goes ahead.
func FromConn(nc *nats.Conn, service string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"hls.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		log.Warn("analytics: add stream failed (may already exist)", zap.String("stream", StreamName), zap.Error(err))
	}
	return New(js, service, log), nil
}

// Publish sends an event asynchronously. Failures are logged as warnings and
// never surface to the caller. Safe to call with a nil receiver.
func (p *Publisher) Publish(subject, eventName string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	data, err := json.Marshal(p.newEvent(eventName, props))
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Flush waits up to timeout for outstanding async publishes to be
// acknowledged. It reports whether everything was acknowledged in time.
func (p *Publisher) Flush(timeout time.Duration) bool {
	if p == nil || p.js == nil {
		return true
	}
	select {
	case <-p.js.PublishAsyncComplete():
		return true
	case <-time.After(timeout):
		p.log.Warn("analytics: pending events not acknowledged", zap.Int("pending", p.js.PublishAsyncPending()))
		return false
	}
}

func (p *Publisher) newEvent(eventName string, props map[string]any) Event {
	return Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		Service:    p.service,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
}
