// Package cdc consumes row-level change events replicated from the primary
// database and dispatches them to per-table handlers.
package cdc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperation is returned for change events with an unrecognized op code
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is the Debezium op code of a change event
type Operation string

const (
	OpInsert Operation = "c"
	OpUpdate Operation = "u"
	OpDelete Operation = "d"
)

const (
	errorTopicSuffix      = "-error"
	deadLetterTopicSuffix = "-dead-letter"
)

// Source identifies where a change event originated
type Source struct {
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
	LSN    *int64 `json:"lsn,omitempty"`
	TsMs   int64  `json:"ts_ms,omitempty"`
}

// ChangeEvent is one replicated row mutation. An event decoded from a message
// encodes back to every field it was read with, only retryCount updated.
type ChangeEvent struct {
	Op         Operation       `json:"op"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Source     Source          `json:"source"`
	TsMs       int64           `json:"ts_ms,omitempty"`
	RetryCount int             `json:"retryCount"`

	raw map[string]json.RawMessage
}

type changeEventFields ChangeEvent

// UnmarshalJSON implements json.Unmarshaler
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var fields changeEventFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*e = ChangeEvent(fields)
	e.raw = raw
	return nil
}

// MarshalJSON implements json.Marshaler
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	if e.raw == nil {
		return json.Marshal(changeEventFields(e))
	}
	count, err := json.Marshal(e.RetryCount)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(e.raw)+1)
	for k, v := range e.raw {
		out[k] = v
	}
	out["retryCount"] = count
	return json.Marshal(out)
}

// Envelope is the message value carried on a topic. Messages republished to
// an error or dead-letter topic also carry the failure that caused it.
type Envelope struct {
	Name    string      `json:"name,omitempty"`
	Error   string      `json:"error,omitempty"`
	Payload ChangeEvent `json:"payload"`
}

// Change is the decoded form of a ChangeEvent: Insert, Update or Delete
type Change interface {
	isChange()
}

// Insert carries the inserted row
type Insert struct {
	After json.RawMessage
}

// Update carries the row before and after the change
type Update struct {
	Before json.RawMessage
	After  json.RawMessage
}

// Delete carries the removed row
type Delete struct {
	Before json.RawMessage
}

func (Insert) isChange() {}
func (Update) isChange() {}
func (Delete) isChange() {}

// Change decodes the event into its operation variant
func (e ChangeEvent) Change() (Change, error) {
	switch e.Op {
	case OpInsert:
		return Insert{After: nullable(e.After)}, nil
	case OpUpdate:
		return Update{Before: nullable(e.Before), After: nullable(e.After)}, nil
	case OpDelete:
		return Delete{Before: nullable(e.Before)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, e.Op)
	}
}

// nullable maps a JSON null row image to nil
func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// ParseEnvelope decodes a message value
func ParseEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ErrorTopic returns the retry topic of topic
func ErrorTopic(topic string) string {
	return topic + errorTopicSuffix
}

// DeadLetterTopic returns the terminal failure topic of topic
func DeadLetterTopic(topic string) string {
	return topic + deadLetterTopicSuffix
}

// IsDeadLetterTopic reports whether topic is a dead-letter topic
func IsDeadLetterTopic(topic string) bool {
	return strings.HasSuffix(topic, deadLetterTopicSuffix)
}
