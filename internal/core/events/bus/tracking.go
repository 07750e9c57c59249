package bus

import (
	"time"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/tracking"
)

const (
	// EventReading carries a tracking.Reading.
	EventReading = "tracking.reading"
	// EventFailure carries a tracking.Failure.
	EventFailure = "tracking.failure"
)

// PairTopic names the topic for one subject/reference pair.
func PairTopic(subject, reference string) string {
	return subject + "@" + reference
}

func NewReadingEvent(source string, r tracking.Reading) Event {
	return simpleEvent{
		typeStr: EventReading,
		source:  source,
		ts:      r.ComputedAt,
		data:    r,
		meta:    map[string]any{"subject": r.Subject, "reference": r.Reference},
	}
}

func NewFailureEvent(source string, f tracking.Failure) Event {
	return simpleEvent{
		typeStr: EventFailure,
		source:  source,
		ts:      f.At,
		data:    f,
		meta:    map[string]any{"subject": f.Subject, "reference": f.Reference},
	}
}

// ReadingOf extracts the reading carried by an EventReading event.
func ReadingOf(e Event) (tracking.Reading, bool) {
	r, ok := e.Data().(tracking.Reading)
	return r, ok
}

// FailureOf extracts the failure carried by an EventFailure event.
func FailureOf(e Event) (tracking.Failure, bool) {
	f, ok := e.Data().(tracking.Failure)
	return f, ok
}

// LogObserver logs delivery errors and, at debug level, every delivery.
type LogObserver struct {
	Logger log.Log
}

func (o LogObserver) OnPublish(string, string, Event) {}

func (o LogObserver) OnDelivered(topic, eventType string, handlers int, err error, d time.Duration) {
	if err != nil {
		o.Logger.Warn("event handlers failed",
			log.String("topic", topic),
			log.String("event", eventType),
			log.Int("handlers", handlers),
			log.Error(err),
		)
		return
	}
	o.Logger.Debug("event delivered",
		log.String("topic", topic),
		log.String("event", eventType),
		log.Int("handlers", handlers),
		log.Duration("took", d),
	)
}
