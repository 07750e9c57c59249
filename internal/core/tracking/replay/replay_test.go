package replay

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/relpose/internal/core/tracking"
)

const sampleTrace = `
name: two-devices
frames:
  - at: 0s
    poses:
      - device: tracker_1
        class: tracker
        position: [0, 0, 0]
        orientation: [1, 0, 0, 0]
      - device: controller_1
        class: controller
        position: [1, 2, 3]
        orientation: [1, 0, 0, 0]
  - at: 100ms
    poses:
      - device: controller_1
        position: [1, 2, 3]
        orientation: [1, 0, 0, 0]
        tracked: false
  - at: 200ms
    poses:
      - device: controller_1
        position: [0, 3, 4]
        orientation: [1, 0, 0, 0]
`

func loadSample(t *testing.T) *Trace {
	t.Helper()
	tr, err := LoadYAML(strings.NewReader(sampleTrace))
	require.NoError(t, err)
	return tr
}

func TestLoadYAML(t *testing.T) {
	tr := loadSample(t)
	assert.Equal(t, "two-devices", tr.Name)
	require.Len(t, tr.Frames, 3)
	assert.Equal(t, 100*time.Millisecond, tr.Frames[1].At)
	assert.False(t, tr.Frames[1].Poses[0].IsTracked())
}

func TestLoadJSON(t *testing.T) {
	data := `{"frames":[{"at":0,"poses":[{"device":"a","position":[0,0,0],"orientation":[1,0,0,0]}]}]}`
	tr, err := LoadJSON(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, tr.Frames, 1)
	assert.Equal(t, "a", tr.Frames[0].Poses[0].Device)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTrace), 0o600))

	tr, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, tr.Frames, 3)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestTrace_Validate(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("frames: []\n"))
	assert.Error(t, err)

	unordered := `
frames:
  - at: 1s
    poses: []
  - at: 0s
    poses: []
`
	_, err = LoadYAML(strings.NewReader(unordered))
	assert.Error(t, err)

	degenerate := `
frames:
  - at: 0s
    poses:
      - device: a
        orientation: [0, 0, 0, 0]
`
	_, err = LoadYAML(strings.NewReader(degenerate))
	assert.Error(t, err)
}

func TestSource_Playback(t *testing.T) {
	ctx := context.Background()
	src := NewSource(loadSample(t))

	_, err := src.Pose(ctx, "controller_1")
	assert.ErrorIs(t, err, tracking.ErrDeviceUnknown, "nothing applied before the first update")

	require.NoError(t, src.Update(ctx))
	v, err := tracking.RelativePosition(ctx, src, "controller_1", "tracker_1")
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(14), tracking.Distance(v), 1e-9)

	require.NoError(t, src.Update(ctx))
	_, err = tracking.RelativePosition(ctx, src, "controller_1", "tracker_1")
	assert.ErrorIs(t, err, tracking.ErrDeviceNotTracked)
	assert.Equal(t, []string{"controller_1"}, tracking.FailedDevices(err))

	require.NoError(t, src.Update(ctx))
	v, err = tracking.RelativePosition(ctx, src, "controller_1", "tracker_1")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, tracking.Distance(v), 1e-9)

	assert.ErrorIs(t, src.Update(ctx), ErrTraceExhausted)
	frame, pass := src.Position()
	assert.Equal(t, 3, frame)
	assert.Equal(t, 0, pass)
}

func TestSource_Loop(t *testing.T) {
	ctx := context.Background()
	tr := loadSample(t)
	tr.Loop = true
	src := NewSource(tr)

	for i := 0; i < 4; i++ {
		require.NoError(t, src.Update(ctx))
	}
	frame, pass := src.Position()
	assert.Equal(t, 1, frame)
	assert.Equal(t, 1, pass)

	p, err := src.Pose(ctx, "controller_1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Position.Z)
}

func TestSource_Devices(t *testing.T) {
	ctx := context.Background()
	src := NewSource(loadSample(t))
	require.NoError(t, src.Update(ctx))
	require.NoError(t, src.Update(ctx))

	devices, err := src.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "controller_1", devices[0].Name)
	assert.Equal(t, "controller", devices[0].Class)
	assert.False(t, devices[0].Tracked)
	assert.Equal(t, "tracker_1", devices[1].Name)
	assert.True(t, devices[1].Tracked)
}

func TestSource_UpdateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewSource(loadSample(t)).Update(ctx), context.Canceled)
}
