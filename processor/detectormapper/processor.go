// Package detectormapper provides the stream-processing component that
// resolves detectors for every incoming metric record. Cache hits are
// published immediately; misses accumulate into batches sized by the mapper's
// adaptive heuristic and are resolved against the mapping backend in one
// round trip per batch.
package detectormapper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songjiao/adaptive-alerting/errors"
	"github.com/songjiao/adaptive-alerting/health"
	"github.com/songjiao/adaptive-alerting/mapper"
	"github.com/songjiao/adaptive-alerting/message"
	"github.com/songjiao/adaptive-alerting/metric"
)

const componentName = "detector-mapper"

// Transport is the subset of the NATS client the processor needs. Satisfied
// by *natsclient.Client.
type Transport interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	ConsumeStream(ctx context.Context, streamName, consumerName, subject string, handler func([]byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// Processor drives the hot lookup path of the mapper pipeline.
type Processor struct {
	name      string
	cfg       Config
	mapper    *mapper.Mapper
	transport Transport
	logger    *slog.Logger
	metrics   *metric.Metrics

	// pending holds cache-missed records awaiting batch resolution.
	// Guarded by pendingMu; ordered oldest first.
	pendingMu sync.Mutex
	pending   []message.MetricRecord

	// Lifecycle management
	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}

	recordsProcessed atomic.Int64
	recordsPublished atomic.Int64
	errorCount       atomic.Int64
}

// NewProcessor creates a detector mapper processor. The mapper and transport
// are required collaborators.
func NewProcessor(
	cfg Config,
	m *mapper.Mapper,
	transport Transport,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Processor", "NewProcessor", "mapper required")
	}
	if transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Processor", "NewProcessor", "transport required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		name:      componentName,
		cfg:       cfg,
		mapper:    m,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Start subscribes to the metric stream and launches the flush loop.
func (p *Processor) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Processor", "Start", "check running state")
	}

	// Fresh channels per start so a stopped processor can be started again.
	p.shutdown = make(chan struct{})
	p.done = make(chan struct{})

	if p.cfg.Stream != "" {
		err := p.transport.ConsumeStream(ctx, p.cfg.Stream, p.cfg.Consumer, p.cfg.InputSubject,
			func(data []byte) {
				p.handleMessage(ctx, data)
			})
		if err != nil {
			return errors.WrapTransient(err, "Processor", "Start",
				fmt.Sprintf("consume stream %s", p.cfg.Stream))
		}
	} else {
		if err := p.transport.Subscribe(ctx, p.cfg.InputSubject, p.handleMessage); err != nil {
			return errors.WrapTransient(err, "Processor", "Start",
				fmt.Sprintf("subscribe to %s", p.cfg.InputSubject))
		}
	}

	go p.flushLoop(ctx, p.shutdown, p.done)

	p.mu.Lock()
	p.running = true
	p.startTime = time.Now()
	p.mu.Unlock()

	p.logger.Info("Detector mapper processor started",
		"component", p.name,
		"input_subject", p.cfg.InputSubject,
		"stream", p.cfg.Stream,
		"output_subject", p.cfg.OutputSubject,
		"flush_interval_ms", p.cfg.FlushIntervalMillis)

	return nil
}

// Stop terminates the flush loop, waiting up to timeout.
func (p *Processor) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running {
		return nil
	}
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	close(p.shutdown)

	select {
	case <-p.done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Processor", "Stop", "graceful shutdown")
	}
	return nil
}

// handleMessage processes one raw metric record from the stream.
func (p *Processor) handleMessage(ctx context.Context, data []byte) {
	p.recordsProcessed.Add(1)
	if p.metrics != nil {
		p.metrics.RecordReceived(p.name)
	}

	record, err := message.ParseMetricRecord(data)
	if err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.RecordDropped(p.name, "parse")
		}
		p.logger.Debug("Dropping unparseable metric record",
			"component", p.name,
			"error", err)
		return
	}

	detectors, ok := p.mapper.DetectorsFor(record.Tags)
	if !ok {
		if p.metrics != nil {
			p.metrics.RecordMapped(p.name, "miss")
		}
		p.enqueuePending(*record)
		p.flushIfBatchReady(ctx)
		return
	}

	if p.metrics != nil {
		p.metrics.RecordMapped(p.name, "hit")
	}
	p.publishResolved(ctx, *record, detectors)
}

// enqueuePending appends a cache-missed record, dropping the oldest entries
// when the buffer is full.
func (p *Processor) enqueuePending(record message.MetricRecord) {
	p.pendingMu.Lock()
	if len(p.pending) >= p.cfg.MaxPendingMisses {
		overflow := len(p.pending) - p.cfg.MaxPendingMisses + 1
		p.pending = p.pending[overflow:]
		if p.metrics != nil {
			p.metrics.RecordDropped(p.name, "overflow")
		}
	}
	p.pending = append(p.pending, record)
	size := len(p.pending)
	p.pendingMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordPendingMisses(size)
	}
}

// flushIfBatchReady resolves pending misses once they fill the batch size the
// mapper currently recommends. When the recommendation is zero the interval
// tick drains instead.
func (p *Processor) flushIfBatchReady(ctx context.Context) {
	batchSize := p.mapper.OptimalBatchSize()
	if batchSize <= 0 {
		return
	}

	for {
		batch := p.takePending(batchSize)
		if batch == nil {
			return
		}
		p.resolveBatch(ctx, batch)
	}
}

// takePending removes and returns up to limit pending records when at least
// limit are queued, or nil when the queue has not filled the batch.
func (p *Processor) takePending(limit int) []message.MetricRecord {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	if len(p.pending) < limit || len(p.pending) == 0 {
		return nil
	}
	batch := p.pending[:limit]
	p.pending = append([]message.MetricRecord(nil), p.pending[limit:]...)
	return batch
}

// drainPending removes and returns every pending record.
func (p *Processor) drainPending() []message.MetricRecord {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	batch := p.pending
	p.pending = nil
	return batch
}

// flushLoop drains pending misses on a fixed interval so records do not
// linger when traffic is too light to fill a batch.
func (p *Processor) flushLoop(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(p.cfg.FlushIntervalMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			if batch := p.drainPending(); len(batch) > 0 {
				p.resolveBatch(ctx, batch)
			}
		}
	}
}

// resolveBatch performs one backend round trip for a batch of missed records
// and publishes whatever resolves. On lookup failure the batch is requeued
// for the next round.
func (p *Processor) resolveBatch(ctx context.Context, batch []message.MetricRecord) {
	tagSets := make([]map[string]string, len(batch))
	for i, record := range batch {
		tagSets[i] = record.Tags
	}
	if p.metrics != nil {
		p.metrics.RecordBatchFlush(len(tagSets))
	}

	if !p.mapper.IsSuccessfulLookup(ctx, tagSets) {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.RecordError(p.name, "lookup")
		}
		p.requeue(batch)
		return
	}

	for _, record := range batch {
		detectors, ok := p.mapper.DetectorsFor(record.Tags)
		if !ok {
			// The backend acknowledged the index but resolved nothing
			// for it; the metric stays unmapped this round and will be
			// looked up again on its next occurrence.
			if p.metrics != nil {
				p.metrics.RecordDropped(p.name, "unresolved")
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordMapped(p.name, "resolved")
		}
		p.publishResolved(ctx, record, detectors)
	}

	p.pendingMu.Lock()
	size := len(p.pending)
	p.pendingMu.Unlock()
	if p.metrics != nil {
		p.metrics.RecordPendingMisses(size)
	}
}

// requeue prepends a failed batch back onto the pending queue, respecting the
// buffer cap. Overflow drops the oldest entries, same as enqueuePending.
func (p *Processor) requeue(batch []message.MetricRecord) {
	p.pendingMu.Lock()
	p.pending = append(batch, p.pending...)
	if len(p.pending) > p.cfg.MaxPendingMisses {
		dropped := len(p.pending) - p.cfg.MaxPendingMisses
		p.pending = p.pending[dropped:]
		if p.metrics != nil {
			for i := 0; i < dropped; i++ {
				p.metrics.RecordDropped(p.name, "overflow")
			}
		}
	}
	size := len(p.pending)
	p.pendingMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordPendingMisses(size)
	}
}

// publishResolved publishes a mapped record downstream. Metrics that resolved
// to no detectors terminate here; there is nothing downstream to run.
func (p *Processor) publishResolved(ctx context.Context, record message.MetricRecord, detectors []mapper.Detector) {
	if len(detectors) == 0 {
		if p.metrics != nil {
			p.metrics.RecordMapped(p.name, "no_match")
		}
		return
	}

	mapped := message.NewMappedMetricRecord(record, detectors)
	data, err := mapped.Marshal()
	if err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.RecordError(p.name, "marshal")
		}
		p.logger.Error("Failed to marshal mapped record",
			"component", p.name,
			"error", err)
		return
	}

	if err := p.transport.Publish(ctx, p.cfg.OutputSubject, data); err != nil {
		p.errorCount.Add(1)
		if p.metrics != nil {
			p.metrics.RecordError(p.name, "publish")
		}
		p.logger.Error("Failed to publish mapped record",
			"component", p.name,
			"output_subject", p.cfg.OutputSubject,
			"error", err)
		return
	}

	p.recordsPublished.Add(1)
	if p.metrics != nil {
		p.metrics.RecordPublished(p.name)
	}
}

// PendingMisses returns the number of records awaiting batch resolution.
func (p *Processor) PendingMisses() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// Health returns the processor's current health status.
func (p *Processor) Health() health.Status {
	p.mu.RLock()
	running := p.running
	p.mu.RUnlock()

	if !running {
		return health.Unhealthy(p.name, "not running")
	}
	if p.PendingMisses() >= p.cfg.MaxPendingMisses {
		return health.Degraded(p.name, "pending-miss buffer full")
	}
	return health.Healthy(p.name)
}
