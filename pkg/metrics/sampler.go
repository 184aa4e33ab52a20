package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-dash/pkg/logging"
)

const DefaultInterval = time.Second

// Target is a running unit the sampler should measure.
type Target struct {
	UnitID string
	Handle string
}

type UsageFunc func(ctx context.Context, target Target) (Usage, error)
type SampleFunc func(target Target, sample Sample)
type TargetsFunc func() []Target

// Sampler polls usage for every target on a fixed interval. A target whose
// previous sample is still being collected is skipped for that tick.
type Sampler struct {
	interval time.Duration
	targets  TargetsFunc
	usage    UsageFunc
	onSample SampleFunc
	logger   logging.Logger

	mutex    sync.Mutex
	inFlight map[string]bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSampler(interval time.Duration, targets TargetsFunc, usage UsageFunc, onSample SampleFunc, logger logging.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		targets:  targets,
		usage:    usage,
		onSample: onSample,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

func (s *Sampler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Infof("Starting metrics sampler, interval: %v", s.interval)
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Sampler) Stop() {
	s.mutex.Lock()
	cancel := s.cancel
	s.mutex.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	for _, target := range s.targets() {
		if !s.acquire(target.UnitID) {
			continue
		}
		s.wg.Add(1)
		go func(target Target) {
			defer s.wg.Done()
			defer s.release(target.UnitID)
			s.sample(ctx, target)
		}(target)
	}
}

func (s *Sampler) sample(ctx context.Context, target Target) {
	sampleCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	at := time.Now()
	usage, err := s.usage(sampleCtx, target)
	if err != nil {
		s.logger.Debugf("Failed to sample usage, id: %s, handle: %s, error: %v", target.UnitID, target.Handle, err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.onSample(target, Sample{At: at, Usage: usage})
}

func (s *Sampler) acquire(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Sampler) release(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.inFlight, id)
}
