package monitoring

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-dash/pkg/logging"
)

// ResultFunc receives every completed probe. It must not block.
type ResultFunc func(Result)

// Scheduler runs the periodic probes of one unit. At most one probe is in
// flight; ticks that fire while a probe is outstanding are skipped.
type Scheduler struct {
	id       string
	prober   Prober
	options  HealthCheckRunOptions
	onResult ResultFunc
	logger   logging.Logger
	now      func() time.Time

	inFlight atomic.Bool
	skipped  atomic.Int64

	mutex  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(id string, prober Prober, options HealthCheckRunOptions, onResult ResultFunc, logger logging.Logger) *Scheduler {
	return &Scheduler{
		id:       id,
		prober:   prober,
		options:  options,
		onResult: onResult,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the probe loop. The loop ends when ctx is cancelled or Stop
// is called; results of probes finishing after that are discarded.
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Infof("Starting health scheduler, id: %s, type: %s, interval: %v", s.id, s.prober.Kind(), s.options.Interval)

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	s.mutex.Lock()
	cancel := s.cancel
	s.mutex.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Debugf("Health scheduler stopped, id: %s, skipped ticks: %d", s.id, s.skipped.Load())
}

// Skipped returns how many ticks were dropped because a probe was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.options.InitialDelay > 0 {
		select {
		case <-time.After(s.options.InitialDelay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.options.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debugf("Health probe still in flight, skipping tick, id: %s", s.id)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)

		result := s.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		s.onResult(result)
	}()
}

func (s *Scheduler) probe(ctx context.Context) Result {
	probeCtx, cancel := context.WithTimeout(ctx, s.options.Timeout)
	defer cancel()

	started := s.now()
	err := s.prober.Probe(probeCtx)
	result := Result{
		Kind:    s.prober.Kind(),
		OK:      err == nil,
		Latency: s.now().Sub(started),
		At:      started,
	}
	if err != nil {
		result.Message = err.Error()
		s.logger.Debugf("Health probe failed, id: %s, type: %s, error: %v", s.id, result.Kind, err)
	}
	return result
}
