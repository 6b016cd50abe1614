package ingest

import (
	"fmt"

	"github.com/portalkit/insights/pkg/event"
	"github.com/portalkit/insights/pkg/observability"
)

// Queue is the slice of the batch processor admission needs.
type Queue interface {
	AddEvent(e event.Event)
}

// Service admits raw analytics payloads into the batch queue.
type Service struct {
	queue       Queue
	jsonCapable bool
	log         *observability.Logger
	metrics     *observability.Metrics
}

// NewService creates an ingestion service. jsonCapable mirrors the
// destination store's JSON support and fixes the payload representation of
// every event this service constructs.
func NewService(queue Queue, jsonCapable bool, log *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		queue:       queue,
		jsonCapable: jsonCapable,
		log:         log,
		metrics:     metrics,
	}
}

// Submit normalizes, validates, and enqueues a list of raw events.
// Events without an identity field are dropped without error. A validation
// failure stops admission and surfaces the field errors for the caller to
// map to a client error; events admitted before the failure stay queued.
func (s *Service) Submit(rawEvents []event.RawEvent) error {
	for i, raw := range rawEvents {
		if raw.Identity() == "" {
			s.metrics.EventsDroppedTotal.Inc()
			s.log.WithField("action", raw.Action).Debug("dropping anonymous event")
			continue
		}

		e := event.Normalize(raw, s.jsonCapable)
		if err := event.Validate(e); err != nil {
			s.metrics.EventsInvalidTotal.Inc()
			return fmt.Errorf("event %d rejected: %w", i, err)
		}

		s.queue.AddEvent(e)
		s.metrics.EventsAdmittedTotal.Inc()
	}
	return nil
}
