package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"activity-platform/internal/event"
	"activity-platform/internal/publisher"
)

// Entry is one activity to record, as handed over by request handlers.
type Entry struct {
	UserID    int64
	Type      Type
	Action    string // defaults to Type.Action()
	RequestID string
	Data      map[string]any
	TaskID    *int64
	Actor     event.Actor
	Meta      map[string]any

	// Payload is the envelope payload; Data is used when nil.
	Payload map[string]any
	// Topic overrides the recorder's default topic.
	Topic string
}

// resourceID is the affected task, or the acting user for profile changes.
func (e Entry) resourceID() int64 {
	if e.TaskID != nil {
		return *e.TaskID
	}
	return e.UserID
}

// Outcome labels exported through RecorderMetrics.
const (
	OutcomePublished = "published"
	OutcomePersisted = "persisted"
	OutcomeFailed    = "error"
)

type RecorderMetrics interface {
	RecordActivity(activityType, outcome string)
}

type noopRecorderMetrics struct{}

func (noopRecorderMetrics) RecordActivity(string, string) {}

// Recorder persists an activity record and then publishes its envelope.
//
// IMPORTANT:
//   - Record runs after the HTTP response was sent. Nothing it does may reach
//     the original caller; every failure is logged here.
//   - A failed insert abandons the activity. An event is never published for a
//     record that does not exist.
//   - Nothing is retried.
type Recorder struct {
	repo    Repository
	pub     publisher.EventPublisher
	topic   string
	log     *slog.Logger
	metrics RecorderMetrics
}

func NewRecorder(repo Repository, pub publisher.EventPublisher, topic string, log *slog.Logger, m RecorderMetrics) *Recorder {
	if m == nil {
		m = noopRecorderMetrics{}
	}
	return &Recorder{
		repo:    repo,
		pub:     pub,
		topic:   topic,
		log:     log.With("component", "activity_recorder"),
		metrics: m,
	}
}

var ErrInvalidEntry = errors.New("activity: invalid entry")

func (r *Recorder) Record(ctx context.Context, e Entry) {
	log := r.log.With("activity_type", string(e.Type), "request_id", e.RequestID, "user_id", e.UserID)
	defer func() {
		if p := recover(); p != nil {
			log.Error("activity recording panicked", "panic", p)
			r.metrics.RecordActivity(string(e.Type), OutcomeFailed)
		}
	}()

	rec, err := r.persist(ctx, e)
	if err != nil {
		log.Error("failed to persist activity", "err", err)
		r.metrics.RecordActivity(string(e.Type), OutcomeFailed)
		return
	}
	log = log.With("activity_id", rec.ID)

	payload := e.Payload
	if payload == nil {
		payload = e.Data
	}
	env, err := event.New(event.Params{
		Type:      e.Type.EventType(),
		RequestID: e.RequestID,
		Actor:     e.Actor,
		Resource:  event.Resource{Type: e.Type.ResourceType(), ID: e.resourceID()},
		Payload:   payload,
		Meta:      e.Meta,
	})
	if err != nil {
		log.Error("failed to build activity event", "err", err)
		r.metrics.RecordActivity(string(e.Type), OutcomePersisted)
		return
	}

	topic := e.Topic
	if topic == "" {
		topic = r.topic
	}
	if err := r.pub.Publish(ctx, topic, env); err != nil {
		if errors.Is(err, publisher.ErrUnavailable) {
			log.Warn("activity event not published, broker unavailable", "event_id", env.EventID, "err", err)
		} else {
			log.Error("failed to publish activity event", "event_id", env.EventID, "err", err)
		}
		r.metrics.RecordActivity(string(e.Type), OutcomePersisted)
		return
	}

	log.Debug("activity recorded", "event_id", env.EventID, "event_type", env.EventType)
	r.metrics.RecordActivity(string(e.Type), OutcomePublished)
}

func (r *Recorder) persist(ctx context.Context, e Entry) (Record, error) {
	if !e.Type.Valid() {
		return Record{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	if e.RequestID == "" || e.UserID == 0 {
		return Record{}, fmt.Errorf("%w: user_id and request_id required", ErrInvalidEntry)
	}

	action := e.Action
	if action == "" {
		action = e.Type.Action()
	}
	rec := Record{
		UserID:    e.UserID,
		TaskID:    e.TaskID,
		Type:      e.Type,
		Action:    action,
		RequestID: e.RequestID,
	}
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return Record{}, fmt.Errorf("encode activity data: %w", err)
		}
		s := string(b)
		rec.Data = &s
	}
	return r.repo.Create(ctx, rec)
}
