package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

// Emitter receives the asynchronous reports of a backend for one unit.
// Emit must not block.
type Emitter interface {
	Emit(payload state.Payload)
}

type EmitterFunc func(payload state.Payload)

func (f EmitterFunc) Emit(payload state.Payload) {
	f(payload)
}

type RunningState string

const (
	RunningStateRunning RunningState = "running"
	RunningStateExited  RunningState = "exited"
	RunningStateUnknown RunningState = "unknown"
)

// Engine is a backend able to run units of one kind.
type Engine interface {
	Kind() unit.Kind

	// Spawn starts def in the background. It reports Spawned or UnitFailed,
	// then LogLine events, then ProcessExited.
	Spawn(ctx context.Context, def unit.Definition, emit Emitter)

	// Stop asks the instance to exit and waits up to grace, then kills it.
	// A killed instance reports state.ExitCodeKilled.
	Stop(ctx context.Context, handle unit.Handle, grace time.Duration) error

	Kill(handle unit.Handle) error

	Status(handle unit.Handle) RunningState

	// Exec runs a job against the unit in the background, reporting
	// JobStarted, LogLine events tagged with the job id, then JobFinished.
	Exec(ctx context.Context, handle unit.Handle, def unit.Definition, job jobs.Spec, emit Emitter)

	Usage(ctx context.Context, handle unit.Handle) (metrics.Usage, error)
}

// Registry selects the engine serving a unit kind.
type Registry struct {
	engines map[unit.Kind]Engine
}

func NewRegistry(engines ...Engine) *Registry {
	registry := &Registry{engines: make(map[unit.Kind]Engine, len(engines))}
	for _, engine := range engines {
		registry.engines[engine.Kind()] = engine
	}
	return registry
}

func (r *Registry) For(kind unit.Kind) (Engine, error) {
	engine, ok := r.engines[kind]
	if !ok {
		return nil, errors.NewNotFoundError("no engine for unit kind", nil).WithContext("kind", string(kind))
	}
	return engine, nil
}

func (r *Registry) Kinds() []unit.Kind {
	kinds := make([]unit.Kind, 0, len(r.engines))
	for _, kind := range []unit.Kind{unit.KindProcess, unit.KindContainer} {
		if _, ok := r.engines[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// lineEmitter turns raw output lines into classified LogLine events.
func lineEmitter(emit Emitter, classifier *logcollection.Classifier, jobID string) logcollection.LineFunc {
	if classifier == nil {
		classifier = logcollection.DefaultClassifier()
	}
	return func(stream logcollection.Stream, line string, _ time.Time) {
		if jobID != "" {
			stream = logcollection.StreamJob
		}
		emit.Emit(state.LogLine{
			Stream: stream,
			Level:  classifier.Classify(line),
			Text:   line,
			JobID:  jobID,
		})
	}
}

// readOutput reads stdout and stderr on separate goroutines and returns once
// both reached EOF. Readers stopped by ctx keep draining so the writer never
// blocks on a full pipe.
func readOutput(ctx context.Context, stdout, stderr io.Reader, fn logcollection.LineFunc, logger logging.Logger) {
	var wg sync.WaitGroup
	read := func(reader io.Reader, stream logcollection.Stream) {
		defer wg.Done()
		if err := logcollection.ReadLines(ctx, reader, stream, fn); err != nil {
			logger.Warnf("Output reader stopped, stream: %s, error: %v", stream, err)
		}
		_, _ = io.Copy(io.Discard, reader)
	}

	wg.Add(2)
	go read(stdout, logcollection.StreamStdout)
	go read(stderr, logcollection.StreamStderr)
	wg.Wait()
}

func finishJob(ctx context.Context, emit Emitter, job jobs.Spec, code int, err error) {
	finished := state.JobFinished{JobID: job.ID, ExitCode: code}
	switch {
	case ctx.Err() != nil:
		finished.Cancelled = true
		finished.Error = "cancelled"
	case err != nil:
		finished.Error = err.Error()
		if finished.ExitCode == 0 {
			finished.ExitCode = -1
		}
	}
	emit.Emit(finished)
}

func echoJob(emit Emitter, job jobs.Spec) {
	emit.Emit(state.JobStarted{JobID: job.ID})
	emit.Emit(state.LogLine{
		Stream: logcollection.StreamJob,
		Level:  logcollection.LevelInfo,
		Text:   "$ " + job.Command,
		JobID:  job.ID,
	})
}
