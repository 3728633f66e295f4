package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMissingID is returned when a record decodes but carries no id.
var ErrMissingID = errors.New("model: missing id")

// Timestamp is a point in time that tolerates the encodings seen on the wire:
// RFC 3339 strings, unix milliseconds, empty strings and null.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t in UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}

	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts.Time = t.UTC()
	return nil
}

// MarshalJSON implements json.Marshaler. The zero time encodes as null.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Time.Format(time.RFC3339Nano))
}

func decodeRecord[T any](raw json.RawMessage, kind string, id func(T) string) (T, error) {
	var v T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, fmt.Errorf("model: empty %s record", kind)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("model: decode %s: %w", kind, err)
	}
	if strings.TrimSpace(id(v)) == "" {
		return v, fmt.Errorf("%w (%s)", ErrMissingID, kind)
	}
	return v, nil
}
