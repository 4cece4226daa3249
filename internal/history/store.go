// Package history persists conversation summaries and replays them, oldest
// first, to clients joining a room.
//
// A Store is addressed by an index name (DefaultIndex unless configured) and
// holds one Record per flushed slice of conversation. Backends are provided
// for MongoDB, PostgreSQL, Redis and process memory.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultIndex is the collection, table or key prefix history lives under.
	DefaultIndex = "chat-history"
	// DefaultReplayLimit caps the number of records returned by ReplayAll.
	DefaultReplayLimit = 1000
)

// ErrPersistenceFailed marks a failed durable write. Backends wrap the
// underlying driver error with it.
var ErrPersistenceFailed = errors.New("history: persistence failed")

// ErrMissingAnswer is returned by FromSummary when the summary carries no
// string answer field.
var ErrMissingAnswer = errors.New("history: summary has no answer")

// Store is the durable history backend.
type Store interface {
	// EnsureSchema provisions the backing index. It is safe to call when the
	// index already exists.
	EnsureSchema(ctx context.Context) error
	// Append persists one record.
	Append(ctx context.Context, rec Record) error
	// ReplayAll returns the room's records ordered by Date ascending, capped
	// at the store's replay limit. Records with equal dates keep append order.
	ReplayAll(ctx context.Context, room string) ([]Record, error)
	// Close releases the backend connection.
	Close(ctx context.Context) error
}

// Record is an immutable summary of a buffered conversation slice.
//
// On the wire it is a flat JSON object: every entry of Fields plus the
// reserved keys answer, date and room.
type Record struct {
	Answer string
	Date   time.Time
	Room   string
	Fields map[string]any
}

var reservedKeys = [...]string{"answer", "date", "room"}

// FromSummary builds a record from a summarizer response. The answer key is
// required; every other key is carried over in Fields.
func FromSummary(room string, summary map[string]any, at time.Time) (Record, error) {
	answer, ok := summary["answer"].(string)
	if !ok {
		return Record{}, ErrMissingAnswer
	}
	fields := make(map[string]any, len(summary))
	for k, v := range summary {
		fields[k] = v
	}
	for _, k := range reservedKeys {
		delete(fields, k)
	}
	return Record{Answer: answer, Date: at, Room: room, Fields: fields}, nil
}

// Clone returns a copy whose Fields map is not shared with r.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// MarshalJSON flattens the record into a single object.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+len(reservedKeys))
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["answer"] = r.Answer
	flat["date"] = r.Date
	if r.Room != "" {
		flat["room"] = r.Room
	}
	return json.Marshal(flat)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	var out Record
	if raw, ok := flat["answer"]; ok {
		if err := json.Unmarshal(raw, &out.Answer); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
	}
	if raw, ok := flat["date"]; ok {
		if err := json.Unmarshal(raw, &out.Date); err != nil {
			return fmt.Errorf("decode date: %w", err)
		}
	}
	if raw, ok := flat["room"]; ok {
		if err := json.Unmarshal(raw, &out.Room); err != nil {
			return fmt.Errorf("decode room: %w", err)
		}
	}
	for _, k := range reservedKeys {
		delete(flat, k)
	}
	if len(flat) > 0 {
		out.Fields = make(map[string]any, len(flat))
		for k, raw := range flat {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out.Fields[k] = v
		}
	}
	*r = out
	return nil
}

func persistenceError(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
}

func replayLimit(limit int) int {
	if limit <= 0 {
		return DefaultReplayLimit
	}
	return limit
}
