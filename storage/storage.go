// Package storage persists collection batches. A Router consumes the batch
// channel and fans each batch out to every configured Sink; sinks are
// independent, so one failing never blocks the others. All sinks share the
// path scheme in path.go, which keys every record by index, expiry bucket
// and strike offset.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

// writeTimeout bounds one batch write against a single sink.
const writeTimeout = 30 * time.Second

// Sink is one storage destination for collection batches.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch models.CollectionBatch) error
	Close(ctx context.Context) error
}

// Router drains the batch channel and writes every batch to all sinks.
type Router struct {
	sinks   []Sink
	batches <-chan models.CollectionBatch
	metrics *metrics.Metrics
	log     *logger.Entry
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewRouter(sinks []Sink, batches <-chan models.CollectionBatch, m *metrics.Metrics, log *logger.Log) *Router {
	return &Router{
		sinks:   sinks,
		batches: batches,
		metrics: m,
		log:     log.WithComponent("storage_router"),
	}
}

// Start launches the consume loop. The loop runs until the batch channel is
// closed, so batches sent during shutdown are still written.
func (r *Router) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("storage router already running")
	}
	r.running = true
	r.mu.Unlock()

	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	r.log.WithFields(logger.Fields{"sinks": names}).Info("Starting storage router")

	r.wg.Add(1)
	go r.run()
	return nil
}

// Stop waits for the consume loop to drain the closed batch channel, then
// closes every sink.
func (r *Router) Stop(ctx context.Context) {
	r.wg.Wait()

	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{"sink": sink.Name()}).Error("Failed to close sink")
		}
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.log.Info("Storage router stopped")
}

func (r *Router) run() {
	defer r.wg.Done()
	for batch := range r.batches {
		r.dispatch(batch)
	}
	r.log.Info("Batch channel closed, storage router draining done")
}

func (r *Router) dispatch(batch models.CollectionBatch) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, batch); err != nil {
			r.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			r.log.WithError(fmt.Errorf("sink %s: %w", sink.Name(), err)).WithFields(logger.Fields{
				"sink":     sink.Name(),
				"batch_id": batch.ID,
				"index":    batch.Index,
				"records":  batch.RecordCount,
			}).Error("Sink write failed")
			continue
		}

		if len(batch.Options) > 0 {
			r.metrics.RecordsWritten.WithLabelValues(sink.Name(), KindOptions).Add(float64(len(batch.Options)))
		}
		if batch.Overview != nil {
			r.metrics.RecordsWritten.WithLabelValues(sink.Name(), KindOverview).Inc()
		}
		logger.IncrementSinkWrite(sink.Name(), batch.RecordCount)
	}
}
