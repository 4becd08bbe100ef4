package singer

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/meltworks/melt/internal/testutil"
)

func TestMessageRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{
			name: "record",
			msg:  Message{Type: TypeRecord, Record: &Record{Stream: "commits", Data: map[string]any{"id": "abc"}}},
		},
		{
			name: "schema",
			msg: Message{Type: TypeSchema, Schema: &StreamSchema{
				Stream:        "projects",
				Schema:        map[string]any{"type": "object"},
				KeyProperties: []string{"id"},
			}},
		},
		{
			name: "state",
			msg: Message{Type: TypeState, State: &State{
				Bookmarks: map[string]json.RawMessage{"commits": json.RawMessage(`{"since":"2022-03-01"}`)},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal %s: %v", data, err)
			}
			if got.Type != tc.msg.Type {
				t.Errorf("type = %q, want %q", got.Type, tc.msg.Type)
			}
		})
	}
}

func TestMessageUnknownType(t *testing.T) {
	var m Message
	err := json.Unmarshal([]byte(`{"type":"ACTIVATE_VERSION"}`), &m)
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	input := `{"type":"SCHEMA","stream":"users","schema":{"type":"object"}}

{"type":"RECORD","stream":"users","record":{"id":1}}
{"type":"STATE","value":{"bookmarks":{"users":{"page":2}}}}
`
	dec := NewDecoder(strings.NewReader(input))

	var types []MessageType
	for {
		m, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		types = append(types, m.Type)
	}

	want := []MessageType{TypeSchema, TypeRecord, TypeState}
	if len(types) != len(want) {
		t.Fatalf("got %d messages, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d type = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestDecoderRealTapOutput(t *testing.T) {
	data, err := testutil.Load("testdata/tap-gitlab-output.jsonl")
	if err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	dec := NewDecoder(bytes.NewReader(data))

	counts := map[MessageType]int{}
	var lastState *State
	for {
		m, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		counts[m.Type]++
		if m.Type == TypeState {
			lastState = m.State
		}
	}

	if counts[TypeSchema] != 2 || counts[TypeRecord] != 3 || counts[TypeState] != 2 {
		t.Errorf("counts = %v, want 2 schemas, 3 records, 2 states", counts)
	}
	if lastState == nil {
		t.Fatal("no state decoded")
	}
	var bm struct {
		Since string `json:"since"`
	}
	if err := json.Unmarshal(lastState.Bookmarks["commits"], &bm); err != nil {
		t.Fatalf("bookmark: %v", err)
	}
	if bm.Since != "2022-03-05T23:45:13Z" {
		t.Errorf("commits since = %q", bm.Since)
	}
}

func TestCatalogStreamLookup(t *testing.T) {
	cat := Catalog{Streams: []Stream{
		{Name: "projects", Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "integer"},
				"name": map[string]any{"type": "string"},
			},
		}},
		{Name: "issues"},
	}}

	if s := cat.Stream("projects"); s == nil {
		t.Fatal("projects stream not found")
	} else if got := len(s.Fields()); got != 2 {
		t.Errorf("projects has %d fields, want 2", got)
	}
	if s := cat.Stream("jobs"); s != nil {
		t.Errorf("unexpected stream: %+v", s)
	}
}
