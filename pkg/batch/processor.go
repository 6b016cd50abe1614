package batch

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/portalkit/insights/pkg/event"
	"github.com/portalkit/insights/pkg/observability"
)

// statsInterval is the cadence of the queue-stats logger.
const statsInterval = 5 * time.Second

// Inserter is the slice of the store the processor needs: the transactional
// bulk insert and the best-effort dead-letter insert.
type Inserter interface {
	InsertEvents(ctx context.Context, events []event.Event) error
	InsertFailedEvent(ctx context.Context, serializedEvent, errorMessage string, retryAttempts int) error
}

// Config holds the processor's tunables.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	Debug         bool
}

// DefaultConfig returns the default processor settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     5,
		FlushInterval: 2 * time.Second,
		MaxRetries:    3,
		Debug:         false,
	}
}

// Processor is the in-memory write buffer in front of the events store.
type Processor struct {
	cfg     Config
	store   Inserter
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	queue   []event.Event
	retries map[string]int

	flushing atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewProcessor creates a batch processor. Zero or negative config values
// fall back to the defaults.
func NewProcessor(cfg Config, store Inserter, log *observability.Logger, metrics *observability.Metrics) *Processor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	return &Processor{
		cfg:     cfg,
		store:   store,
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer("insights/batch"),
		queue:   make([]event.Event, 0),
		retries: make(map[string]int),
		stopCh:  make(chan struct{}),
	}
}

// AddEvent appends an event to the queue. An event whose id is already
// queued is a no-op. The O(n) dedup scan is fine at expected batch scale.
func (p *Processor) AddEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, queued := range p.queue {
		if queued.ID == e.ID {
			return
		}
	}

	p.queue = append(p.queue, e)
	p.metrics.QueueDepth.Set(float64(len(p.queue)))
	p.log.WithFields(map[string]interface{}{
		"event_id":  e.ID,
		"plugin_id": e.PluginID,
		"action":    e.Action,
	}).Debug("event queued")
}

// Start runs the flush and stats tickers until ctx is cancelled or Stop is
// called.
func (p *Processor) Start(ctx context.Context) {
	flushTicker := time.NewTicker(p.cfg.FlushInterval)
	statsTicker := time.NewTicker(statsInterval)

	go func() {
		defer flushTicker.Stop()
		defer statsTicker.Stop()
		defer func() {
			if r := recover(); r != nil {
				p.log.WithField("panic", r).Errorf("batch processor panic\n%s", debug.Stack())
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-flushTicker.C:
				p.ProcessEvents(ctx)
			case <-statsTicker.C:
				p.logQueueStats()
			}
		}
	}()
}

// Stop terminates the tickers. Pending events stay queued; call Drain to
// flush them out first.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// ProcessEvents flushes one batch. A tick that fires while a flush is
// still running is skipped, not queued.
func (p *Processor) ProcessEvents(ctx context.Context) {
	if !p.flushing.CompareAndSwap(false, true) {
		p.metrics.FlushesSkippedTotal.Inc()
		p.log.Debug("flush already in progress, skipping tick")
		return
	}
	defer p.flushing.Store(false)

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	n := p.cfg.BatchSize
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := make([]event.Event, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	p.metrics.QueueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()

	ctx, span := p.tracer.Start(ctx, "batch.ProcessEvents")
	defer span.End()

	start := time.Now()
	err := p.store.InsertEvents(ctx, batch)
	p.metrics.FlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		// The batch fails atomically at the insert; recovery is per event.
		p.log.WithError(err).WithField("batch_size", len(batch)).Warn("batch insert failed")
		for _, e := range batch {
			p.retryOrStoreFailedEvent(ctx, e, err.Error())
		}
		return
	}

	p.mu.Lock()
	for _, e := range batch {
		delete(p.retries, e.ID)
	}
	p.metrics.RetryMapSize.Set(float64(len(p.retries)))
	p.mu.Unlock()

	p.metrics.EventsPersistedTotal.Add(float64(len(batch)))
	p.log.WithField("batch_size", len(batch)).Debug("batch persisted")
}

// retryOrStoreFailedEvent re-enqueues an event at the back of the queue
// while it has retry budget left, and moves it to the dead-letter store
// once the budget is spent.
func (p *Processor) retryOrStoreFailedEvent(ctx context.Context, e event.Event, errorMessage string) {
	p.mu.Lock()
	attempts := p.retries[e.ID]
	if attempts < p.cfg.MaxRetries {
		p.retries[e.ID] = attempts + 1
		p.queue = append(p.queue, e)
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		p.metrics.RetryMapSize.Set(float64(len(p.retries)))
		p.mu.Unlock()

		p.metrics.EventsRetriedTotal.Inc()
		p.log.WithFields(map[string]interface{}{
			"event_id": e.ID,
			"attempt":  attempts + 1,
			"error":    errorMessage,
		}).Warnf("event insert failed, retry %d/%d", attempts+1, p.cfg.MaxRetries)
		return
	}
	delete(p.retries, e.ID)
	p.metrics.RetryMapSize.Set(float64(len(p.retries)))
	p.mu.Unlock()

	p.storeFailedEvent(ctx, e, errorMessage)
}

// storeFailedEvent persists the event's serialized form to the dead-letter
// store. Dead-letter storage is best-effort; its failures are logged and
// never re-thrown.
func (p *Processor) storeFailedEvent(ctx context.Context, e event.Event, errorMessage string) {
	serialized, err := e.Serialize()
	if err != nil {
		p.log.WithError(err).WithField("event_id", e.ID).Error("failed to serialize dead-letter event")
		return
	}

	if err := p.store.InsertFailedEvent(ctx, serialized, errorMessage, p.cfg.MaxRetries); err != nil {
		p.log.WithError(err).WithField("event_id", e.ID).Error("dead-letter insert failed, event lost")
		return
	}

	p.metrics.EventsDeadLetterTotal.Inc()
	p.log.WithFields(map[string]interface{}{
		"event_id": e.ID,
		"error":    errorMessage,
	}).Warn("event moved to dead-letter store")
}

// Drain flushes until the queue is empty or ctx is done. Used on shutdown.
func (p *Processor) Drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.QueueLength() == 0 {
			return
		}
		p.ProcessEvents(ctx)
	}
}

// QueueLength reports the number of events waiting to be flushed.
func (p *Processor) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// RetryMapSize reports the number of events with at least one failed
// attempt.
func (p *Processor) RetryMapSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retries)
}

func (p *Processor) logQueueStats() {
	queueLen := p.QueueLength()
	retryLen := p.RetryMapSize()
	p.metrics.QueueDepth.Set(float64(queueLen))
	p.metrics.RetryMapSize.Set(float64(retryLen))

	if !p.cfg.Debug {
		return
	}
	p.log.WithFields(map[string]interface{}{
		"queue_length":   queueLen,
		"retry_map_size": retryLen,
	}).Info("batch queue stats")
}
