// Package analytics provides a fire-and-forget NATS publisher for analytics events.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectScopeOpened     = "analytics.scopes.opened"
	SubjectSessionLoggedIn = "analytics.session.logged_in"
	SubjectCommentsLoaded  = "analytics.comments.loaded"
	SubjectCommentAdded    = "analytics.comments.added"
)

// Event is the canonical envelope sent to all analytics.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	ScopeID    string         `json:"scope_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Publisher publishes analytics events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
	now func() time.Time
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub.
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log, now: time.Now}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// Publish sends an analytics event asynchronously. Failures are logged as
// warnings and never surface to the caller.
func (p *Publisher) Publish(subject, eventName, scopeID string, props map[string]any) {
	if !p.Enabled() {
		return
	}
	data, err := json.Marshal(p.envelope(eventName, scopeID, props))
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) envelope(eventName, scopeID string, props map[string]any) Event {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		ScopeID:    scopeID,
		OccurredAt: now().UTC(),
		Properties: props,
	}
}
