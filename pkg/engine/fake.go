package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const firstFakePid = 1000

var defaultFakeTexts = map[unit.ID]string{
	"api":    "GET /health 200",
	"worker": "processed job id=42",
	"db":     "checkpoint complete",
	"cache":  "keys: 1024, memory: 2.1MB",
}

const defaultFakeText = "tick"

// ExitPlan makes an instance exit with Code after AfterTicks ticks. Times
// limits how many instances of the unit follow the plan; zero means all.
type ExitPlan struct {
	AfterTicks int
	Code       int
	Times      int
}

// Script drives a FakeEngine. The same script and the same number of ticks
// always produce the same events.
type Script struct {
	Texts       map[unit.ID]string
	FailSpawn   map[unit.ID]string
	Exits       map[unit.ID]ExitPlan
	IgnoreStop  map[unit.ID]bool
	FailingJobs map[string]int
}

type fakeInstance struct {
	id     unit.ID
	handle unit.Handle
	emit   Emitter
	ticks  int
	plan   *ExitPlan
}

type fakeJob struct {
	ctx  context.Context
	spec jobs.Spec
	emit Emitter
	stop func() bool
}

type emission struct {
	emit    Emitter
	payload state.Payload
}

// FakeEngine is a synthetic backend advanced by Tick. It never touches the
// host.
type FakeEngine struct {
	kind   unit.Kind
	script Script

	mutex     sync.Mutex
	nextPid   int
	spawns    map[unit.ID]int
	instances map[unit.Handle]*fakeInstance
	order     []unit.Handle
	jobs      []*fakeJob
}

func NewFakeEngine(kind unit.Kind, script Script) *FakeEngine {
	return &FakeEngine{
		kind:      kind,
		script:    script,
		nextPid:   firstFakePid,
		spawns:    make(map[unit.ID]int),
		instances: make(map[unit.Handle]*fakeInstance),
	}
}

func (e *FakeEngine) Kind() unit.Kind {
	return e.kind
}

func (e *FakeEngine) Text(id unit.ID) string {
	if text, ok := e.script.Texts[id]; ok {
		return text
	}
	if text, ok := defaultFakeTexts[id]; ok {
		return text
	}
	return defaultFakeText
}

func (e *FakeEngine) Spawn(ctx context.Context, def unit.Definition, emit Emitter) {
	if reason, ok := e.script.FailSpawn[def.ID]; ok {
		emit.Emit(state.UnitFailed{Reason: errors.NewSpawnError(reason, nil).Error()})
		return
	}

	e.mutex.Lock()
	e.nextPid++
	e.spawns[def.ID]++
	instance := &fakeInstance{
		id:     def.ID,
		handle: unit.Handle(fmt.Sprintf("fake-%d", e.nextPid)),
		emit:   emit,
	}
	if plan, ok := e.script.Exits[def.ID]; ok && (plan.Times == 0 || e.spawns[def.ID] <= plan.Times) {
		instance.plan = &plan
	}
	e.instances[instance.handle] = instance
	e.order = append(e.order, instance.handle)
	e.mutex.Unlock()

	emit.Emit(state.Spawned{Handle: instance.handle})
}

// Tick advances every instance and pending job by one step.
func (e *FakeEngine) Tick() {
	var out []emission

	e.mutex.Lock()
	for _, handle := range append([]unit.Handle(nil), e.order...) {
		instance := e.instances[handle]
		instance.ticks++

		text := e.Text(instance.id)
		out = append(out, emission{instance.emit, state.LogLine{
			Stream: logcollection.StreamStdout,
			Level:  logcollection.Classify(text),
			Text:   text,
		}})

		if plan := instance.plan; plan != nil && instance.ticks >= plan.AfterTicks {
			out = append(out, emission{instance.emit, state.LogLine{
				Stream: logcollection.StreamStderr,
				Level:  logcollection.LevelError,
				Text:   fmt.Sprintf("fatal: exiting with code %d", plan.Code),
			}})
			out = append(out, emission{instance.emit, state.ProcessExited{Handle: handle, Code: plan.Code}})
			e.removeLocked(handle)
		}
	}

	for _, job := range e.jobs {
		out = append(out, e.finishJobLocked(job)...)
	}
	e.jobs = nil
	e.mutex.Unlock()

	for _, emitted := range out {
		emitted.emit.Emit(emitted.payload)
	}
}

func (e *FakeEngine) finishJobLocked(job *fakeJob) []emission {
	job.stop()
	if job.ctx.Err() != nil {
		return []emission{{job.emit, state.JobFinished{JobID: job.spec.ID, Cancelled: true, Error: "cancelled"}}}
	}

	code, fails := e.script.FailingJobs[job.spec.Command]
	if !fails {
		return []emission{
			{job.emit, state.LogLine{Stream: logcollection.StreamJob, Level: logcollection.LevelInfo, Text: "ok", JobID: job.spec.ID}},
			{job.emit, state.JobFinished{JobID: job.spec.ID}},
		}
	}
	return []emission{
		{job.emit, state.LogLine{Stream: logcollection.StreamJob, Level: logcollection.LevelError, Text: fmt.Sprintf("error: exit status %d", code), JobID: job.spec.ID}},
		{job.emit, state.JobFinished{JobID: job.spec.ID, ExitCode: code}},
	}
}

// Run ticks every interval until ctx is done.
func (e *FakeEngine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

func (e *FakeEngine) removeLocked(handle unit.Handle) {
	delete(e.instances, handle)
	for i, h := range e.order {
		if h == handle {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *FakeEngine) take(handle unit.Handle) *fakeInstance {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	instance := e.instances[handle]
	if instance != nil {
		e.removeLocked(handle)
	}
	return instance
}

func (e *FakeEngine) Stop(ctx context.Context, handle unit.Handle, grace time.Duration) error {
	e.mutex.Lock()
	instance := e.instances[handle]
	e.mutex.Unlock()
	if instance == nil {
		return nil
	}

	if e.script.IgnoreStop[instance.id] {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return e.Kill(handle)
	}

	if instance = e.take(handle); instance != nil {
		instance.emit.Emit(state.ProcessExited{Handle: handle, Code: 0})
	}
	return nil
}

func (e *FakeEngine) Kill(handle unit.Handle) error {
	if instance := e.take(handle); instance != nil {
		instance.emit.Emit(state.ProcessExited{Handle: handle, Code: state.ExitCodeKilled})
	}
	return nil
}

func (e *FakeEngine) Status(handle unit.Handle) RunningState {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if _, ok := e.instances[handle]; ok {
		return RunningStateRunning
	}
	return RunningStateExited
}

func (e *FakeEngine) Exec(ctx context.Context, handle unit.Handle, def unit.Definition, job jobs.Spec, emit Emitter) {
	pending := &fakeJob{ctx: ctx, spec: job, emit: emit}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	// started and registered under one lock so a concurrent Tick sees both
	echoJob(emit, job)
	pending.stop = context.AfterFunc(ctx, func() { e.cancelJob(pending) })
	e.jobs = append(e.jobs, pending)
}

// cancelJob finishes a pending job as soon as its context is done, without
// waiting for the next tick.
func (e *FakeEngine) cancelJob(job *fakeJob) {
	e.mutex.Lock()
	pending := false
	for i, j := range e.jobs {
		if j == job {
			e.jobs = append(e.jobs[:i], e.jobs[i+1:]...)
			pending = true
			break
		}
	}
	e.mutex.Unlock()

	if pending {
		job.emit.Emit(state.JobFinished{JobID: job.spec.ID, Cancelled: true, Error: "cancelled"})
	}
}

// Usage is derived from the instance tick count.
func (e *FakeEngine) Usage(ctx context.Context, handle unit.Handle) (metrics.Usage, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	instance, ok := e.instances[handle]
	if !ok {
		return metrics.Usage{}, errors.NewNotFoundError("instance not found", nil).WithContext("handle", string(handle))
	}
	ticks := uint64(instance.ticks)
	return metrics.Usage{
		CPUPercent:  float64((instance.ticks*7)%100) / 2,
		MemoryBytes: 64<<20 + ticks*4096,
		NetRxBytes:  ticks * 1500,
		NetTxBytes:  ticks * 500,
	}, nil
}

// Instances returns the handles of live instances in spawn order.
func (e *FakeEngine) Instances() []unit.Handle {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]unit.Handle(nil), e.order...)
}
