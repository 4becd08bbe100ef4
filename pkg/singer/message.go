package singer

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the message envelope.
type MessageType string

const (
	TypeRecord MessageType = "RECORD"
	TypeSchema MessageType = "SCHEMA"
	TypeState  MessageType = "STATE"
)

// Record is a single extracted row for a stream.
type Record struct {
	Stream        string         `json:"stream"`
	Data          map[string]any `json:"record"`
	TimeExtracted time.Time      `json:"time_extracted,omitempty"`
}

// StreamSchema announces the JSON schema of a stream before its records.
type StreamSchema struct {
	Stream        string         `json:"stream"`
	Schema        map[string]any `json:"schema"`
	KeyProperties []string       `json:"key_properties,omitempty"`
}

// State is an opaque checkpoint emitted by an extractor. The orchestrator
// persists it and hands it back on the next run; it never interprets the
// per-stream values.
type State struct {
	Bookmarks map[string]json.RawMessage `json:"bookmarks,omitempty"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{}
	if s.Bookmarks != nil {
		out.Bookmarks = make(map[string]json.RawMessage, len(s.Bookmarks))
		for k, v := range s.Bookmarks {
			out.Bookmarks[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Message is the envelope flowing through a pipeline. Exactly one of
// Record, Schema, State is set, according to Type.
type Message struct {
	Type   MessageType
	Record *Record
	Schema *StreamSchema
	State  *State
}

// NewRecord wraps a record into a message.
func NewRecord(stream string, data map[string]any) Message {
	return Message{
		Type:   TypeRecord,
		Record: &Record{Stream: stream, Data: data, TimeExtracted: time.Now().UTC()},
	}
}

// NewSchema wraps a stream schema into a message.
func NewSchema(stream string, schema map[string]any, keys ...string) Message {
	return Message{
		Type:   TypeSchema,
		Schema: &StreamSchema{Stream: stream, Schema: schema, KeyProperties: keys},
	}
}

// NewState wraps a checkpoint into a message.
func NewState(state *State) Message {
	return Message{Type: TypeState, State: state}
}

type envelope struct {
	Type MessageType `json:"type"`
	*Record
	*StreamSchema
	Value *State `json:"value,omitempty"`
}

// MarshalJSON renders the wire form, eg
// {"type":"RECORD","stream":"commits","record":{...}}.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeRecord:
		return json.Marshal(envelope{Type: m.Type, Record: m.Record})
	case TypeSchema:
		return json.Marshal(envelope{Type: m.Type, StreamSchema: m.Schema})
	case TypeState:
		return json.Marshal(envelope{Type: m.Type, Value: m.State})
	default:
		return nil, fmt.Errorf("singer: cannot marshal message type %q", m.Type)
	}
}

// UnmarshalJSON parses the wire form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("singer: malformed message: %w", err)
	}

	switch head.Type {
	case TypeRecord:
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("singer: malformed RECORD: %w", err)
		}
		*m = Message{Type: TypeRecord, Record: &r}
	case TypeSchema:
		var s StreamSchema
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("singer: malformed SCHEMA: %w", err)
		}
		*m = Message{Type: TypeSchema, Schema: &s}
	case TypeState:
		var v struct {
			Value *State `json:"value"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("singer: malformed STATE: %w", err)
		}
		*m = Message{Type: TypeState, State: v.Value}
	default:
		return fmt.Errorf("singer: unknown message type %q", head.Type)
	}
	return nil
}
