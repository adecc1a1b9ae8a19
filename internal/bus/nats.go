// Package bus publishes step events to NATS JetStream so downstream
// consumers (dashboards, notification bots) can follow pipeline progress
// without polling the stores.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Nomoos/PrismQ-sub002/internal/dispatch"
	"github.com/Nomoos/PrismQ-sub002/internal/logfields"
)

const streamName = "PRISMQ_STEPS"

// stepMessage is the published wire shape of a step event.
type stepMessage struct {
	StepID    string    `json:"step_id"`
	StoryID   int64     `json:"story_id"`
	Stage     string    `json:"stage"`
	Outcome   string    `json:"outcome"`
	From      string    `json:"from_stage"`
	To        string    `json:"to_stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes step events to a JetStream stream. It implements
// dispatch.EventSink; publish failures are logged and dropped so the bus can
// never fail a committed step.
type Publisher struct {
	conn          *nats.Conn
	js            jetstream.JetStream
	subjectPrefix string
}

// NewPublisher connects to NATS and ensures the step stream exists. The
// subject prefix defaults to "prismq.steps".
func NewPublisher(url, subjectPrefix string) (*Publisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = "prismq.steps"
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "PrismQ pipeline step events",
		Subjects:    []string{subjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure step stream: %w", err)
	}

	slog.Info("NATS step publisher initialized", "url", url, "subject_prefix", subjectPrefix)
	return &Publisher{conn: conn, js: js, subjectPrefix: subjectPrefix}, nil
}

// RecordStep implements dispatch.EventSink.
func (p *Publisher) RecordStep(ev dispatch.StepEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := stepMessage{
		StepID:    ev.StepID,
		StoryID:   ev.StoryID,
		Stage:     ev.Stage,
		Outcome:   ev.Outcome,
		From:      ev.From,
		To:        ev.To,
		Detail:    ev.Detail,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal step event", logfields.StepID(ev.StepID), logfields.Error(err))
		return
	}

	subject := p.subjectPrefix + "." + ev.Stage
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		slog.Warn("Failed to publish step event",
			logfields.StepID(ev.StepID),
			logfields.StoryID(ev.StoryID),
			logfields.Error(err))
		return
	}

	slog.Debug("Published step event",
		logfields.StepID(ev.StepID),
		logfields.Stage(ev.Stage),
		logfields.Outcome(ev.Outcome))
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
