package protocol

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/relpose/internal/core/systems/physics"
	"github.com/zeusync/relpose/internal/core/tracking"
)

func TestJSONCodec_PoseEnvelope(t *testing.T) {
	codec := JSONCodec{}
	frame := PoseFrame{
		Device:      "controller_1",
		Class:       "controller",
		Position:    [3]float64{1, 2, 3},
		Orientation: [4]float64{1, 0, 0, 0},
		Timestamp:   42,
	}

	data, err := codec.Encode(MessagePose, frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"pose"`)

	env, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, MessagePose, env.Type)

	var got PoseFrame
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, frame, got)
	assert.True(t, got.IsTracked())
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	codec := JSONCodec{}

	_, err := codec.Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrDeserializationFailed)

	_, err = codec.Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = codec.Decode([]byte(strings.Repeat(" ", MaxMessageSize+1)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	env, err := codec.Decode([]byte(`{"type":"pose"}`))
	require.NoError(t, err)
	var f PoseFrame
	assert.ErrorIs(t, env.DecodePayload(&f), ErrInvalidMessage)

	env, err = codec.Decode([]byte(`{"type":"pose","payload":{"position":"x"}}`))
	require.NoError(t, err)
	assert.ErrorIs(t, env.DecodePayload(&f), ErrDeserializationFailed)
}

func TestPoseFrame_Validate(t *testing.T) {
	lost := false
	tests := []struct {
		name  string
		frame PoseFrame
		ok    bool
	}{
		{"valid", PoseFrame{Device: "a", Orientation: [4]float64{1, 0, 0, 0}}, true},
		{"non-unit quaternion is accepted", PoseFrame{Device: "a", Orientation: [4]float64{2, 0, 0, 0}}, true},
		{"missing device", PoseFrame{Orientation: [4]float64{1, 0, 0, 0}}, false},
		{"nan position", PoseFrame{Device: "a", Position: [3]float64{math.NaN(), 0, 0}, Orientation: [4]float64{1, 0, 0, 0}}, false},
		{"zero quaternion", PoseFrame{Device: "a"}, false},
		{"untracked frame needs no orientation", PoseFrame{Device: "a", Tracked: &lost}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidFrame)
			}
		})
	}
}

func TestPoseFrame_ToPose(t *testing.T) {
	received := time.Unix(50, 0)

	f := PoseFrame{Device: "tracker_1", Position: [3]float64{1, 2, 3}, Orientation: [4]float64{0, 1, 0, 0}}
	p := f.ToPose(received)
	assert.Equal(t, "tracker_1", p.Device)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, p.Position)
	assert.Equal(t, physics.NewQuat(0, 1, 0, 0), p.Orientation)
	assert.Equal(t, received, p.SampledAt)

	f.Timestamp = time.Unix(49, 0).UnixNano()
	assert.True(t, f.ToPose(received).SampledAt.Equal(time.Unix(49, 0)))

	back := FrameFromPose(f.ToPose(received))
	assert.Equal(t, f.Position, back.Position)
	assert.Equal(t, f.Orientation, back.Orientation)
	assert.Equal(t, f.Timestamp, back.Timestamp)
}

func TestNewReadingFrame(t *testing.T) {
	id := uuid.New()
	r := tracking.Reading{
		ID:                 id,
		Subject:            "controller_1",
		Reference:          "tracker_1",
		Position:           r3.Vector{X: 1, Y: 2, Z: 2},
		Distance:           3,
		Orientation:        physics.IdentityQuat(),
		SubjectSampledAt:   time.Unix(0, int64(2*time.Millisecond)),
		ReferenceSampledAt: time.Unix(0, 0),
	}

	f := NewReadingFrame(r)
	assert.Equal(t, id.String(), f.ID)
	assert.Equal(t, [3]float64{1, 2, 2}, f.Position)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, f.Orientation)
	assert.Equal(t, 3.0, f.Distance)
	assert.Equal(t, 2.0, f.SkewMillis)
}
