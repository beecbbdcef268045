package propdoc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    map[string]json.RawMessage
		wantErr error
	}{
		{
			name: "object",
			doc:  `{ "Speed": 75, "Status": "Too Fast", "Tags": [ "a", "b" ] }`,
			want: map[string]json.RawMessage{
				"Speed":  json.RawMessage(`75`),
				"Status": json.RawMessage(`"Too Fast"`),
				"Tags":   json.RawMessage(`["a","b"]`),
			},
		},
		{name: "empty-object", doc: `{}`, want: map[string]json.RawMessage{}},
		{name: "array", doc: `[1, 2]`, wantErr: ErrInvalidDocument},
		{name: "null", doc: `null`, wantErr: ErrInvalidDocument},
		{name: "malformed", doc: `{"Speed":`, wantErr: ErrInvalidDocument},
		{name: "reserved-name", doc: `{"_id": "x"}`, wantErr: ErrInvalidDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split([]byte(tt.doc))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Split() error = %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Split() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	doc, err := Join(map[string]json.RawMessage{
		"b": json.RawMessage(`2`),
		"a": json.RawMessage(`"x"`),
	})
	if err != nil {
		t.Fatal("Join:", err)
	}
	if got, want := string(doc), `{"a":"x","b":2}`; got != want {
		t.Errorf("Join() = %s, want %s", got, want)
	}
	if doc, _ := Join(nil); string(doc) != "{}" {
		t.Errorf("Join(nil) = %s, want {}", doc)
	}
}

func TestDecode(t *testing.T) {
	raw, err := Encode(map[string]int{"Speed": 3})
	if err != nil {
		t.Fatal("Encode:", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal("Decode:", err)
	}
	want := map[string]any{"Speed": float64(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}
