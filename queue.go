package error_telemetry

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeliveryQueue is the at-least-once delivery pipeline. Entries drain
// one at a time, in enqueue order; a failed entry re-enters at the back
// of the queue after its backoff delay, so strict FIFO is not preserved
// across retries. The drain loop is started lazily on enqueue and is
// idempotent: a second enqueue while draining never spawns a second
// loop.
type DeliveryQueue struct {
	sender  Sender
	cfg     func() *Config
	logger  *zap.Logger
	metrics *metricsCollector

	mu             sync.Mutex
	entries        []*QueuedEvent
	draining       bool
	closed         bool
	pendingRetries int
	timers         map[*time.Timer]struct{}

	wg  sync.WaitGroup
	now func() time.Time
}

// NewDeliveryQueue creates an idle queue. cfg is read at delivery time
// so every attempt, retries included, sees the current configuration.
func NewDeliveryQueue(sender Sender, cfg func() *Config, metrics *metricsCollector, logger *zap.Logger) *DeliveryQueue {
	return &DeliveryQueue{
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		timers:  make(map[*time.Timer]struct{}),
		now:     time.Now,
	}
}

// Enqueue appends a record to the queue and starts the drain loop if it
// is idle.
func (q *DeliveryQueue) Enqueue(record *ErrorRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.metrics.IncDiscarded(ReasonQueueClosed)
		q.logger.Warn("queue closed, dropping record",
			zap.String("event_id", record.EventID))
		return
	}

	q.entries = append(q.entries, &QueuedEvent{Record: record})
	q.startDrainLocked()
}

func (q *DeliveryQueue) startDrainLocked() {
	if q.draining {
		return
	}
	q.draining = true
	q.wg.Add(1)
	go q.drain()
}

// drain pulls entries one at a time until the queue empties. No more
// than one delivery is in flight at any moment.
func (q *DeliveryQueue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.closed || len(q.entries) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		entry := q.entries[0]
		q.entries = q.entries[1:]
		q.mu.Unlock()

		q.process(entry)
	}
}

// process runs one delivery attempt: Pending/Retrying -> Sending ->
// Delivered, Retrying or Dropped.
func (q *DeliveryQueue) process(entry *QueuedEvent) {
	cfg := q.cfg()

	// The payload is rebuilt from the canonical record on every
	// attempt; nothing from a previous attempt is reused.
	payload, deliver := buildPayload(entry.Record, cfg, q.logger)
	if !deliver {
		q.metrics.IncDiscarded(ReasonTransformVeto)
		q.logger.Debug("delivery vetoed by transform hook",
			zap.String("event_id", entry.Record.EventID))
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		q.logger.Error("failed to serialize payload, dropping record",
			zap.String("event_id", entry.Record.EventID),
			zap.Error(err))
		return
	}

	entry.Attempts++
	entry.LastAttempt = q.now()

	result := q.sender.Send(&DeliveryRequest{
		URL:      cfg.LogServerURL,
		Headers:  cfg.Headers,
		Body:     body,
		Compress: cfg.Compression,
		EventID:  entry.Record.EventID,
	})

	if result.Success {
		q.metrics.IncSent()
		return
	}

	q.metrics.IncFailed()

	if entry.Attempts >= cfg.MaxRetries {
		q.metrics.IncDiscarded(ReasonMaxAttempts)
		q.logger.Error("record exceeded max delivery attempts, dropping",
			zap.String("event_id", entry.Record.EventID),
			zap.Int("attempts", entry.Attempts),
			zap.String("error", result.Error))
		return
	}

	backoff := q.backoffDelay(cfg, entry.Attempts)
	entry.NextRetry = entry.LastAttempt.Add(backoff)
	q.metrics.IncRetries()

	q.logger.Debug("scheduling delivery retry",
		zap.String("event_id", entry.Record.EventID),
		zap.Int("attempt", entry.Attempts),
		zap.Duration("backoff", backoff),
		zap.String("error", result.Error))

	q.scheduleRetry(entry, backoff)
}

// backoffDelay is seeded by the throttle window, not a fixed base:
// throttle x factor^(attempts-1).
func (q *DeliveryQueue) backoffDelay(cfg *Config, attempts int) time.Duration {
	if attempts <= 1 {
		return cfg.ThrottleTime
	}
	return time.Duration(float64(cfg.ThrottleTime) * math.Pow(cfg.BackoffFactor, float64(attempts-1)))
}

func (q *DeliveryQueue) scheduleRetry(entry *QueuedEvent, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.metrics.IncDiscarded(ReasonQueueClosed)
		return
	}

	q.pendingRetries++
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.requeue(entry, timer)
	})
	q.timers[timer] = struct{}{}
}

// requeue puts a retried entry at the back of the queue once its
// backoff has elapsed.
func (q *DeliveryQueue) requeue(entry *QueuedEvent, timer *time.Timer) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, timer)
	q.pendingRetries--

	if q.closed {
		q.metrics.IncDiscarded(ReasonQueueClosed)
		return
	}

	q.entries = append(q.entries, entry)
	q.startDrainLocked()
}

// Len reports queued entries not yet picked up by the drain loop.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush blocks until the queue is fully idle (nothing queued, nothing
// in flight, no retry pending) or the context expires.
func (q *DeliveryQueue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		idle := len(q.entries) == 0 && !q.draining && q.pendingRetries == 0
		q.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the queue. The in-flight delivery, if any, is allowed to
// finish; queued and retry-pending entries are dropped. There is no
// cancellation of in-flight work.
func (q *DeliveryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	for timer := range q.timers {
		if timer.Stop() {
			q.pendingRetries--
			q.metrics.IncDiscarded(ReasonQueueClosed)
		}
		delete(q.timers, timer)
	}
	for range q.entries {
		q.metrics.IncDiscarded(ReasonQueueClosed)
	}
	q.entries = nil
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Debug("delivery queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.logger.Warn("delivery queue stop timed out")
		return ctx.Err()
	}
}
