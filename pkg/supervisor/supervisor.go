package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-dash/pkg/engine"
	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/telemetry"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

type Options struct {
	QueueSize      int
	State          state.Options
	SampleInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		QueueSize:      DefaultQueueSize,
		State:          state.DefaultOptions(),
		SampleInterval: metrics.DefaultInterval,
	}
}

// instance is the coordinator's record of one spawned backend instance.
type instance struct {
	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *monitoring.Scheduler
}

type request struct {
	fn   func()
	done chan struct{}
}

// Supervisor owns the State of a unit graph. A single coordinator goroutine
// drains the event queue, applies every event and turns the resulting state
// changes into backend calls. Everything else talks to it through Submit,
// Snapshot and the event queue.
type Supervisor struct {
	graph   *unit.Graph
	engines *engine.Registry
	options Options
	metrics *telemetry.Metrics
	logger  logging.Logger

	queue    *Queue
	sampler  *metrics.Sampler
	targets  atomic.Pointer[[]metrics.Target]
	requests chan request

	started atomic.Bool
	closing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	effects sync.WaitGroup

	// owned by the coordinator
	state      *state.State
	instances  map[unit.ID]*instance
	timers     map[unit.ID]*time.Timer
	jobCancels map[string]context.CancelFunc
}

func New(graph *unit.Graph, engines *engine.Registry, options Options, telemetryMetrics *telemetry.Metrics, logger logging.Logger) (*Supervisor, error) {
	if graph == nil {
		return nil, errors.NewValidationError("unit graph cannot be nil", nil)
	}
	if engines == nil {
		return nil, errors.NewValidationError("engine registry cannot be nil", nil)
	}
	for _, def := range graph.Units() {
		if _, err := engines.For(def.Kind); err != nil {
			return nil, errors.NewValidationError("unit has no engine", err).WithContext("unit_id", string(def.ID))
		}
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.SampleInterval <= 0 {
		options.SampleInterval = metrics.DefaultInterval
	}
	if telemetryMetrics == nil {
		telemetryMetrics = telemetry.New()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Supervisor{
		graph:      graph,
		engines:    engines,
		options:    options,
		metrics:    telemetryMetrics,
		logger:     logger,
		requests:   make(chan request),
		done:       make(chan struct{}),
		state:      state.New(graph, options.State),
		instances:  make(map[unit.ID]*instance),
		timers:     make(map[unit.ID]*time.Timer),
		jobCancels: make(map[string]context.CancelFunc),
	}
	s.queue = NewQueue(options.QueueSize, func(ev state.Event) {
		telemetryMetrics.EventDropped(ev.Kind(), "queue_full")
	}, logger)
	s.targets.Store(&[]metrics.Target{})
	s.sampler = metrics.NewSampler(options.SampleInterval, s.sampleTargets, s.usage, s.onSample, logger)
	return s, nil
}

// Start launches the coordinator and the metrics sampler, then starts every
// autostart unit in dependency order.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.NewConflictError("supervisor already started", nil)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Infof("Starting supervisor, units: %d, engines: %v", s.graph.Len(), s.engines.Kinds())
	go s.run()
	s.sampler.Start(s.ctx)

	for _, id := range s.graph.StartOrder() {
		if def, _ := s.graph.Get(id); def.Autostart {
			s.queue.Push(id, state.UserCommand{Command: state.Start(id)})
		}
	}
	return nil
}

// Submit validates cmd and enqueues it. It never blocks on the coordinator.
func (s *Supervisor) Submit(cmd state.Command) error {
	if s.closing.Load() {
		return errors.NewConflictError("supervisor is shutting down", nil).WithContext("command", cmd.String())
	}
	if err := s.validateCommand(cmd); err != nil {
		return err
	}
	s.queue.Push(cmd.Target, state.UserCommand{Command: cmd})
	return nil
}

func (s *Supervisor) validateCommand(cmd state.Command) error {
	switch cmd.Kind {
	case state.CommandStart, state.CommandStop, state.CommandRestart, state.CommandKill, state.CommandClearLogs:
	case state.CommandRunJob:
		if cmd.Exec == "" {
			return errors.NewValidationError("job command cannot be empty", nil).WithContext("target", string(cmd.Target))
		}
		if cmd.Target == unit.AllUnits {
			return nil
		}
	case state.CommandCancelJob:
		if cmd.JobID == "" {
			return errors.NewValidationError("job id cannot be empty", nil).WithContext("command", cmd.String())
		}
		return nil
	case state.CommandRerunJob:
		if cmd.Source == "" || cmd.JobID == "" {
			return errors.NewValidationError("job ids cannot be empty", nil).WithContext("command", cmd.String())
		}
		return nil
	default:
		return errors.NewValidationError("unknown command: "+string(cmd.Kind), nil)
	}
	if _, ok := s.graph.Get(cmd.Target); !ok {
		return errors.NewNotFoundError("unit not found", nil).WithContext("unit_id", string(cmd.Target))
	}
	return nil
}

// RunJob submits a one-off command against target, or against every unit
// when target is unit.AllUnits, and returns the id of the job tracking it.
func (s *Supervisor) RunJob(target unit.ID, command string) (string, error) {
	cmd := state.RunJob(target, command)
	cmd.JobID = jobs.NewID()
	if err := s.Submit(cmd); err != nil {
		return "", err
	}
	return cmd.JobID, nil
}

// CancelJob stops a running job. Cancelling an aggregate stops all of its
// running children.
func (s *Supervisor) CancelJob(ctx context.Context, id string) error {
	job, err := s.Job(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return errors.NewConflictError("job already finished", nil).WithContext("job_id", id)
	}
	return s.Submit(state.CancelJob(id))
}

// RerunJob runs the command of a finished job again and returns the id of
// the new job.
func (s *Supervisor) RerunJob(ctx context.Context, id string) (string, error) {
	job, err := s.Job(ctx, id)
	if err != nil {
		return "", err
	}
	if !job.Status.Finished() {
		return "", errors.NewConflictError("job is still running", nil).WithContext("job_id", id)
	}
	cmd := state.RerunJob(id)
	cmd.JobID = jobs.NewID()
	if err := s.Submit(cmd); err != nil {
		return "", err
	}
	return cmd.JobID, nil
}

// Snapshot returns a detached copy of the state once every event queued
// before the call has been applied.
func (s *Supervisor) Snapshot(ctx context.Context) (state.Snapshot, error) {
	var snapshot state.Snapshot
	if err := s.do(ctx, func() {
		snapshot = s.state.Snapshot()
	}); err != nil {
		return state.Snapshot{}, err
	}
	return snapshot, nil
}

func (s *Supervisor) Job(ctx context.Context, id string) (jobs.Job, error) {
	var (
		job jobs.Job
		ok  bool
	)
	if err := s.do(ctx, func() {
		job, ok = s.state.Job(id)
	}); err != nil {
		return jobs.Job{}, err
	}
	if !ok {
		return jobs.Job{}, errors.NewNotFoundError("job not found", nil).WithContext("job_id", id)
	}
	return job, nil
}

// Dropped is the number of events the queue discarded while full.
func (s *Supervisor) Dropped() uint64 {
	return s.queue.Dropped()
}

// do runs fn on the coordinator after draining the queue.
func (s *Supervisor) do(ctx context.Context, fn func()) error {
	if !s.started.Load() {
		return errors.NewConflictError("supervisor not started", nil)
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return errors.NewCancelledError("supervisor stopped", nil)
	case <-ctx.Done():
		return errors.NewCancelledError("request cancelled", ctx.Err())
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("request cancelled", ctx.Err())
	}
}

func (s *Supervisor) run() {
	defer close(s.done)

	var batch []state.Event
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.Notify():
			batch = s.drain(batch[:0])
		case req := <-s.requests:
			batch = s.drain(batch[:0])
			req.fn()
			close(req.done)
		}
	}
}

// drain applies queued events until the queue is empty. Effects of an event
// may enqueue more events; those are applied in the same pass.
func (s *Supervisor) drain(batch []state.Event) []state.Event {
	for {
		batch = s.queue.Drain(batch[:0])
		if len(batch) == 0 {
			break
		}
		for _, ev := range batch {
			s.process(ev)
		}
	}
	s.metrics.QueueDepth(s.queue.Len())
	s.metrics.ObserveStatuses(s.state.CountByStatus())
	s.refreshTargets()
	return batch
}

func (s *Supervisor) process(ev state.Event) {
	var before view
	u := s.state.Unit(ev.UnitID)
	if u != nil {
		before = viewOf(u)
	}
	var jobBefore, parentBefore jobs.Status
	if finished, ok := ev.Payload.(state.JobFinished); ok {
		jobBefore, parentBefore = s.jobStatuses(finished.JobID)
	}

	if !s.state.Apply(ev) {
		s.metrics.EventDropped(ev.Kind(), "stale")
		s.logger.Debugf("Dropped event, kind: %s, unit: %s, seq: %d", ev.Kind(), ev.UnitID, ev.Seq)
		return
	}
	s.metrics.EventApplied(ev.Kind())

	switch p := ev.Payload.(type) {
	case state.UserCommand:
		s.logger.Infof("Applied command: %s", p.Command)
		switch p.Command.Kind {
		case state.CommandRunJob:
			s.dispatchJob(p.Command, ev.At)
		case state.CommandCancelJob:
			s.cancelJob(p.Command.JobID)
		case state.CommandRerunJob:
			s.rerunJob(p.Command, ev.At)
		}
	case state.Spawned:
		if u != nil && u.Handle != p.Handle {
			// a spawn that lost its Starting phase; nothing tracks it
			s.kill(u.Definition, p.Handle)
		}
	case state.UnitFailed:
		s.metrics.SpawnFailed(string(ev.UnitID))
		s.logger.Errorf("Unit failed to start, id: %s, reason: %s", ev.UnitID, p.Reason)
	case state.HealthCheckResult:
		s.metrics.ProbeObserved(string(ev.UnitID), p.Result)
	case state.JobQueued:
		// an aggregate without children settles on arrival
		if p.Job.IsAggregate() && len(p.Job.Children) == 0 {
			s.jobSettled(p.Job.ID, "", "")
		}
	case state.JobFinished:
		s.jobSettled(p.JobID, jobBefore, parentBefore)
	}

	if u != nil {
		s.reconcile(u, before)
	}
}

func (s *Supervisor) emitter(id unit.ID) engine.Emitter {
	return engine.EmitterFunc(func(payload state.Payload) {
		s.queue.Push(id, payload)
	})
}

func (s *Supervisor) sampleTargets() []metrics.Target {
	return *s.targets.Load()
}

func (s *Supervisor) refreshTargets() {
	targets := make([]metrics.Target, 0, len(s.instances))
	for _, id := range s.state.IDs() {
		u := s.state.Unit(id)
		if u.Status == state.StatusRunning && u.Handle != "" {
			targets = append(targets, metrics.Target{UnitID: string(id), Handle: string(u.Handle)})
		}
	}
	s.targets.Store(&targets)
}

func (s *Supervisor) usage(ctx context.Context, target metrics.Target) (metrics.Usage, error) {
	def, ok := s.graph.Get(unit.ID(target.UnitID))
	if !ok {
		return metrics.Usage{}, errors.NewNotFoundError("unit not found", nil).WithContext("unit_id", target.UnitID)
	}
	eng, err := s.engines.For(def.Kind)
	if err != nil {
		return metrics.Usage{}, err
	}
	return eng.Usage(ctx, unit.Handle(target.Handle))
}

func (s *Supervisor) onSample(target metrics.Target, sample metrics.Sample) {
	s.queue.Push(unit.ID(target.UnitID), state.MetricSample{Handle: unit.Handle(target.Handle), Sample: sample})
}
