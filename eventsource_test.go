package workbench

import (
	"context"
	"errors"
	"testing"

	"gocloud.dev/pubsub"
)

type gauge struct {
	TwinBase
	Speed int
}

func TestEndpoint_receive(t *testing.T) {
	w := NewRealTimeWorkbench()
	defer w.Close()
	e, err := w.AddModel(MessageModel("Car", func() *gauge { return new(gauge) }, MessageProcessorFunc[*gauge, reading](
		func(_ ProcessingContext, g *gauge, msgs []reading) (ProcessingResult, error) {
			for _, msg := range msgs {
				g.Speed = msg.Speed
			}
			return DoUpdate, nil
		},
	)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name    string
		msg     *pubsub.Message
		wantErr error
	}{
		{
			name:    "NoTwinID",
			msg:     &pubsub.Message{Body: []byte(`{"Speed": 1}`)},
			wantErr: ErrInvalidName,
		},
		{
			name: "Delivered",
			msg:  &pubsub.Message{Body: []byte(`{"Speed": 12}`), Metadata: map[string]string{MetadataTwinID: "car1"}},
		},
		{
			name: "Undecodable",
			msg:  &pubsub.Message{Body: []byte(`{`), Metadata: map[string]string{MetadataTwinID: "car2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.receive(ctx, tt.msg); !errors.Is(err, tt.wantErr) {
				t.Errorf("receive() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if twin, ok := w.Instance("Car", "car1"); !ok || twin.(*gauge).Speed != 12 {
		t.Errorf("Instance(car1) = %v, %v; want speed 12", twin, ok)
	}
	// Nothing decoded, so nothing was delivered.
	if _, ok := w.Instance("Car", "car2"); ok {
		t.Error("an undecodable event created Car/car2")
	}

	w.Close()
	msg := &pubsub.Message{Body: []byte(`{"Speed": 1}`), Metadata: map[string]string{MetadataTwinID: "car1"}}
	if err := e.receive(ctx, msg); !errors.Is(err, ErrClosed) {
		t.Errorf("receive() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestDecodeAlert(t *testing.T) {
	if _, err := DecodeAlert([]byte("not gob")); err == nil {
		t.Error("DecodeAlert() of garbage succeeded, want error")
	}
}
