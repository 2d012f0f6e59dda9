// Package event defines the canonical activity event envelope carried over the
// broker topic and relayed verbatim to admin dashboards.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is the envelope schema version stamped when none is given.
const DefaultVersion = "1.0"

// Resource type tags.
const (
	ResourceTask    = "task"
	ResourceSubtask = "subtask"
	ResourceUser    = "user"
)

// Actor is the identity of the user who caused the event.
type Actor struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Resource references the entity affected by the event.
type Resource struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// Envelope is the activity event as it travels through the pipeline.
//
// Invariants:
//   - Built only through New, which fills every field.
//   - Payload and meta hold JSON-shaped values only: numbers are json.Number,
//     objects map[string]any, arrays []any. Encode then Decode is lossless.
//   - Consumers downstream of the publisher treat it as opaque bytes; payload
//     and meta structure is never relied upon by the pipeline.
type Envelope struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	EventVersion string         `json:"event_version"`
	OccurredAt   time.Time      `json:"occurred_at"`
	RequestID    string         `json:"request_id"`
	Actor        Actor          `json:"actor"`
	Resource     Resource       `json:"resource"`
	Payload      map[string]any `json:"payload"`
	Meta         map[string]any `json:"meta"`
}

// Params are the caller-supplied parts of an envelope.
type Params struct {
	Type      string
	Version   string
	RequestID string
	Actor     Actor
	Resource  Resource
	Payload   map[string]any
	Meta      map[string]any
}

var ErrInvalidEnvelope = errors.New("event: invalid envelope")

// New builds a fully populated envelope. The event id and timestamp are
// generated here and nowhere else.
func New(p Params) (Envelope, error) {
	if p.Type == "" {
		return Envelope{}, fmt.Errorf("%w: event_type required", ErrInvalidEnvelope)
	}
	if p.RequestID == "" {
		return Envelope{}, fmt.Errorf("%w: request_id required", ErrInvalidEnvelope)
	}
	if p.Resource.Type == "" {
		return Envelope{}, fmt.Errorf("%w: resource type required", ErrInvalidEnvelope)
	}

	version := p.Version
	if version == "" {
		version = DefaultVersion
	}
	payload, err := normalize(p.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	meta, err := normalize(p.Meta)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: meta: %v", ErrInvalidEnvelope, err)
	}

	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    p.Type,
		EventVersion: version,
		OccurredAt:   time.Now().UTC(),
		RequestID:    p.RequestID,
		Actor:        p.Actor,
		Resource:     p.Resource,
		Payload:      payload,
		Meta:         meta,
	}, nil
}

// Validate reports whether every field an envelope must carry is present.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: event_id missing", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: event_type missing", ErrInvalidEnvelope)
	case e.EventVersion == "":
		return fmt.Errorf("%w: event_version missing", ErrInvalidEnvelope)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at missing", ErrInvalidEnvelope)
	case e.RequestID == "":
		return fmt.Errorf("%w: request_id missing", ErrInvalidEnvelope)
	case e.Resource.Type == "":
		return fmt.Errorf("%w: resource missing", ErrInvalidEnvelope)
	case e.Payload == nil || e.Meta == nil:
		return fmt.Errorf("%w: payload and meta must be objects", ErrInvalidEnvelope)
	}
	return nil
}

// Encode is the broker wire encoding (UTF-8 JSON). It has no side effects.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode keeps numbers as json.Number so 64-bit ids survive the trip.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := decodeJSON(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// normalize rewrites m into the form Decode produces. nil becomes an empty map.
func normalize(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := decodeJSON(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
