package workbench

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type reading struct {
	Speed int
}

func readingModel(opts ...ModelOption) Model {
	return MessageModel("Car", func() *probe { return new(probe) }, MessageProcessorFunc[*probe, reading](
		func(ProcessingContext, *probe, []reading) (ProcessingResult, error) { return NoUpdate, nil },
	), opts...)
}

func TestModel_decodeAll(t *testing.T) {
	tests := []struct {
		name string
		opts []ModelOption
		raw  []string
		want []any
	}{
		{
			name: "JSON",
			raw:  []string{`{"Speed": 10}`, `{"Speed": 20}`},
			want: []any{reading{Speed: 10}, reading{Speed: 20}},
		},
		{
			name: "DropsUndecodable",
			raw:  []string{`{"Speed": 10}`, `not json`, `null`, `{"Speed": "fast"}`, `{"Speed": 30}`},
			want: []any{reading{Speed: 10}, reading{Speed: 30}},
		},
		{
			name: "NothingDecodes",
			raw:  []string{`null`},
			want: []any{},
		},
		{
			name: "CustomDecoder",
			opts: []ModelOption{WithDecoder(func(p []byte) (reading, error) {
				n, err := strconv.Atoi(string(p))
				return reading{Speed: n}, err
			})},
			raw:  []string{`42`, `{"Speed": 1}`},
			want: []any{reading{Speed: 42}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := readingModel(tt.opts...)
			raw := make([][]byte, len(tt.raw))
			for i, s := range tt.raw {
				raw[i] = []byte(s)
			}
			got, err := m.decodeAll(context.Background(), raw)
			if err != nil {
				t.Fatalf("decodeAll() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decodeAll() mismatch (-want +got):\n%v", diff)
			}
		})
	}
}

func TestModel_decodeAllWithoutMessages(t *testing.T) {
	m := SimulationModel("Car", func() *probe { return new(probe) }, SimulationProcessorFunc[*probe](
		func(ProcessingContext, *probe, time.Time) (ProcessingResult, error) { return NoUpdate, nil },
	))
	if _, err := m.decodeAll(context.Background(), [][]byte{[]byte(`{}`)}); !errors.Is(err, ErrNoMessageProcessor) {
		t.Errorf("decodeAll() error = %v, want %v", err, ErrNoMessageProcessor)
	}
}

func TestModel_messageTypes(t *testing.T) {
	m := readingModel()
	twin := new(probe)

	if _, err := m.processMessages(nil, twin, []any{"not a reading"}); !errors.Is(err, ErrMessageType) {
		t.Errorf("processMessages() with a string error = %v, want %v", err, ErrMessageType)
	}
	type other struct{ TwinBase }
	if _, err := m.processMessages(nil, new(other), []any{reading{}}); !errors.Is(err, ErrTwinType) {
		t.Errorf("processMessages() with another twin type error = %v, want %v", err, ErrTwinType)
	}
	if _, err := m.processMessages(nil, twin, []any{reading{Speed: 1}}); err != nil {
		t.Errorf("processMessages() error = %v", err)
	}
}

func TestModel_nilProcessor(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MessageModel() with a nil processor did not panic")
		}
	}()
	MessageModel[*probe, reading]("Car", nil, nil)
}
