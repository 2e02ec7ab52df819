package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/pkg/logger"
	"github.com/kirogate/kirogate/pkg/model"
)

// Audit subjects published by the gateway.
const (
	SubjectUsage        = "evt.gateway.usage.v1"
	SubjectLogin        = "evt.gateway.login.v1"
	SubjectAdminAction  = "evt.gateway.admin.v1"
	SubjectSnapshotDone = "evt.gateway.snapshot.v1"
)

// jetStream is the subset of nats.JetStreamContext the publisher uses,
// narrowed so tests can inject a mock.
type jetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and publishes canonical audit envelopes.
// The gateway treats auditing as best-effort: callers log publish failures
// and carry on.
type Publisher struct {
	nc      *nats.Conn
	js      jetStream
	service string
}

// New creates a Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, service: service}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"request_id":     []string{env.RequestID},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"request_id", env.RequestID,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishUsage emits a usage.recorded audit event for one completed request.
func (p *Publisher) PublishUsage(ctx context.Context, ev model.UsageEvent) error {
	payload, _ := json.Marshal(ev)
	return p.PublishEnvelope(ctx, SubjectUsage, &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		RequestID:     ev.RequestID,
		UserID:        ev.UserID,
		Topic:         SubjectUsage,
		EventType:     "usage.recorded",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	})
}

// PublishLogin emits a login.succeeded audit event.
func (p *Publisher) PublishLogin(ctx context.Context, u model.User) error {
	payload, _ := json.Marshal(u)
	return p.PublishEnvelope(ctx, SubjectLogin, &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		UserID:        u.ID,
		Topic:         SubjectLogin,
		EventType:     "login.succeeded",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	})
}

// PublishAdminAction emits an audit event for an admin mutation, e.g. a ban.
func (p *Publisher) PublishAdminAction(ctx context.Context, action string, detail any) error {
	payload, _ := json.Marshal(detail)
	return p.PublishEnvelope(ctx, SubjectAdminAction, &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         SubjectAdminAction,
		EventType:     action,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	})
}

// PublishSnapshotDone emits an event after a usage snapshot refresh.
func (p *Publisher) PublishSnapshotDone(ctx context.Context, elapsed time.Duration) error {
	payload, _ := json.Marshal(map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	return p.PublishEnvelope(ctx, SubjectSnapshotDone, &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         SubjectSnapshotDone,
		EventType:     "snapshot.refreshed",
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	})
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
