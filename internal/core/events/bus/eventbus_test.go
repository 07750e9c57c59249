package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/tracking"
)

type testObserver struct {
	mu             sync.Mutex
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_, _ string, _ Event) {
	o.mu.Lock()
	o.publishCount++
	o.mu.Unlock()
}

func (o *testObserver) OnDelivered(_, _ string, handlers int, err error, _ time.Duration) {
	o.mu.Lock()
	o.deliveredCount += handlers
	o.lastErr = err
	o.mu.Unlock()
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got Event
	_, err := b.Subscribe("test.event", func(e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("test.event", "tester", 123, nil)))
	require.NotNil(t, got)
	assert.Equal(t, 123, got.Data())
	assert.Equal(t, "tester", got.Source())
}

func TestSubscribeNilHandler(t *testing.T) {
	_, err := New().Subscribe("x", nil)
	assert.Error(t, err)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	sub, err := b.Subscribe("x", func(Event) error { calls++; return nil })
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("x", "s", nil, nil)))
	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	require.NoError(t, b.Unsubscribe(nil))
	require.NoError(t, b.Publish(NewEvent("x", "s", nil, nil)))

	assert.Equal(t, 1, calls)
	assert.False(t, sub.IsActive())
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	e1, e2 := errors.New("one"), errors.New("two")
	_, _ = b.Subscribe("x", func(Event) error { return e1 })
	_, _ = b.Subscribe("x", func(Event) error { return e2 })

	err := b.Publish(NewEvent("x", "s", nil, nil))
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestTopicsIsolation(t *testing.T) {
	b := New()
	count1, count2 := 0, 0
	_, _ = b.SubscribeTopic("t1", "ev", func(Event) error { count1++; return nil })
	_, _ = b.SubscribeTopic("t2", "ev", func(Event) error { count2++; return nil })

	require.NoError(t, b.PublishToTopic("t1", NewEvent("ev", "src", nil, nil)))
	assert.Equal(t, 1, count1)
	assert.Equal(t, 0, count2)

	topics := b.GetTopics()
	require.Len(t, topics, 2)
	assert.Equal(t, "t1", topics[0].Name)
	assert.Equal(t, 1, topics[0].Subs)
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Zero(t, b.GetMetrics().Published, "metrics stay zero without observers")

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))

	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Equal(t, uint64(1), b.GetMetrics().Published)
}

func TestTrackingEvents(t *testing.T) {
	b := New()
	b.AddObserver(LogObserver{Logger: log.NewNop()})
	topic := PairTopic("controller_1", "tracker_1")

	var readings []tracking.Reading
	var failures []tracking.Failure
	_, _ = b.SubscribeTopic(topic, EventReading, func(e Event) error {
		r, ok := ReadingOf(e)
		require.True(t, ok)
		readings = append(readings, r)
		return nil
	})
	_, _ = b.SubscribeTopic(topic, EventFailure, func(e Event) error {
		f, ok := FailureOf(e)
		require.True(t, ok)
		failures = append(failures, f)
		return nil
	})

	r := tracking.Reading{Subject: "controller_1", Reference: "tracker_1", Position: r3.Vector{X: 1}, Distance: 1, ComputedAt: time.Now()}
	require.NoError(t, b.PublishToTopic(topic, NewReadingEvent("test", r)))

	err := &tracking.DeviceError{Device: "controller_1", Role: "subject", Err: tracking.ErrDeviceNotTracked}
	ev := NewFailureEvent("test", tracking.NewFailure("controller_1", "tracker_1", err))
	assert.Equal(t, "controller_1", ev.Metadata()["subject"])
	require.NoError(t, b.PublishToTopic(topic, ev))

	require.Len(t, readings, 1)
	assert.Equal(t, 1.0, readings[0].Distance)
	require.Len(t, failures, 1)
	assert.Equal(t, []string{"controller_1"}, failures[0].Devices)

	_, ok := ReadingOf(ev)
	assert.False(t, ok)
}
