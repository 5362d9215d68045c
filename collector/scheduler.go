package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/market"
)

// Scheduler fires interval-aligned collection ticks during market hours and
// fans each tick out into one pass per enabled index. An index whose previous
// pass is still running is skipped for that tick.
type Scheduler struct {
	collector *Collector
	cfg       config.CollectorConfig
	indices   []config.IndexConfig
	cal       *market.Calendar
	metrics   *metrics.Metrics
	log       *logger.Entry

	mu       sync.Mutex
	running  bool
	inflight map[string]bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	passWG   sync.WaitGroup
}

func NewScheduler(col *Collector, cfg config.CollectorConfig, indices []config.IndexConfig, cal *market.Calendar, m *metrics.Metrics, log *logger.Log) *Scheduler {
	return &Scheduler{
		collector: col,
		cfg:       cfg,
		indices:   indices,
		cal:       cal,
		metrics:   m,
		inflight:  make(map[string]bool),
		log:       log.WithComponent("collector_scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(sctx)

	s.log.WithFields(logger.Fields{
		"interval":     s.cfg.Interval.String(),
		"pass_timeout": s.cfg.PassTimeout.String(),
		"indices":      len(s.indices),
	}).Info("Collection scheduler started")
	return nil
}

// Stop cancels the tick loop and waits for in-flight passes to unwind.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.passWG.Wait()
	s.log.Info("Collection scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Until(nextTick(time.Now(), s.cfg.Interval)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			s.tick(ctx, now)
			timer.Reset(time.Until(nextTick(time.Now(), s.cfg.Interval)))
		}
	}
}

// nextTick aligns the schedule to wall-clock interval boundaries so pass
// timestamps land on :00/:30 style marks regardless of startup time.
func nextTick(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// tick dispatches one pass per enabled index, unless the market is closed or
// the index's previous pass has not finished.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if !s.cal.IsOpen(now) {
		s.metrics.TicksSkipped.Inc()
		s.log.WithFields(logger.Fields{
			"at": now.In(s.cal.Location()).Format("2006-01-02 15:04:05"),
		}).Debug("Market closed, skipping tick")
		return
	}

	for _, idx := range s.indices {
		idx := idx
		s.mu.Lock()
		if s.inflight[idx.Name] {
			s.mu.Unlock()
			s.metrics.PassesSkipped.WithLabelValues(idx.Name).Inc()
			s.log.WithFields(logger.Fields{"index": idx.Name}).Warn("Previous pass still running, skipping tick for index")
			continue
		}
		s.inflight[idx.Name] = true
		s.mu.Unlock()

		s.passWG.Add(1)
		go func() {
			defer s.passWG.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inflight, idx.Name)
				s.mu.Unlock()
			}()
			s.runPass(ctx, idx, now)
		}()
	}
}

func (s *Scheduler) runPass(ctx context.Context, idx config.IndexConfig, tick time.Time) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PassTimeout)
	defer cancel()

	start := time.Now()
	err := s.collector.CollectIndex(pctx, idx, tick)
	elapsed := time.Since(start)
	s.metrics.PassDuration.WithLabelValues(idx.Name).Observe(elapsed.Seconds())

	if err != nil {
		s.metrics.CollectionPasses.WithLabelValues(idx.Name, "error").Inc()
		entry := s.log.WithError(err).WithFields(logger.Fields{
			"index":       idx.Name,
			"duration_ms": elapsed.Milliseconds(),
		})
		if errors.Is(err, context.Canceled) {
			entry.Warn("Collection pass aborted")
		} else {
			entry.Error("Collection pass failed")
		}
		return
	}

	s.metrics.CollectionPasses.WithLabelValues(idx.Name, "ok").Inc()
	if elapsed > s.cfg.Interval {
		s.log.WithFields(logger.Fields{
			"index":       idx.Name,
			"duration_ms": elapsed.Milliseconds(),
		}).Warn("Collection pass ran longer than the tick interval")
	}
}
