package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/process"
	"github.com/core-tools/hsu-dash/pkg/processstate"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

type processInstance struct {
	instance *process.Instance
	done     chan struct{}
	killed   atomic.Bool
}

// ProcessEngine runs units as host processes, each leading its own process
// group. The pid is the handle.
type ProcessEngine struct {
	logger     logging.Logger
	classifier *logcollection.Classifier
	usage      *process.UsageReader

	mutex     sync.Mutex
	instances map[unit.Handle]*processInstance
}

func NewProcessEngine(classifier *logcollection.Classifier, logger logging.Logger) (*ProcessEngine, error) {
	usage, err := process.NewUsageReader()
	if err != nil {
		return nil, err
	}
	return &ProcessEngine{
		logger:     logger,
		classifier: classifier,
		usage:      usage,
		instances:  make(map[unit.Handle]*processInstance),
	}, nil
}

func (e *ProcessEngine) Kind() unit.Kind {
	return unit.KindProcess
}

func (e *ProcessEngine) Spawn(ctx context.Context, def unit.Definition, emit Emitter) {
	go e.spawn(ctx, def, emit)
}

func (e *ProcessEngine) spawn(ctx context.Context, def unit.Definition, emit Emitter) {
	id := string(def.ID)
	execute := process.NewStdExecuteCmd(process.ExecutionConfig{
		Command:          def.Command,
		Environment:      def.EnvList(),
		WorkingDirectory: def.Cwd,
	}, id, e.logger)

	instance, err := execute(ctx)
	if err != nil {
		e.logger.Errorf("Failed to spawn unit, id: %s, error: %v", id, err)
		emit.Emit(state.UnitFailed{Reason: err.Error()})
		return
	}

	handle := unit.Handle(strconv.Itoa(instance.Pid))
	tracked := &processInstance{instance: instance, done: make(chan struct{})}
	e.mutex.Lock()
	e.instances[handle] = tracked
	e.mutex.Unlock()

	emit.Emit(state.Spawned{Handle: handle})

	readOutput(ctx, instance.Stdout, instance.Stderr, lineEmitter(emit, e.classifier, ""), e.logger)

	code, err := instance.Wait()
	if err != nil {
		e.logger.Errorf("Failed to wait for unit, id: %s, PID: %d, error: %v", id, instance.Pid, err)
	}
	if tracked.killed.Load() {
		code = state.ExitCodeKilled
	}

	e.mutex.Lock()
	delete(e.instances, handle)
	e.mutex.Unlock()
	e.usage.Forget(instance.Pid)
	close(tracked.done)

	e.logger.Infof("Unit process exited, id: %s, PID: %d, code: %d", id, instance.Pid, code)
	emit.Emit(state.ProcessExited{Handle: handle, Code: code})
}

func (e *ProcessEngine) lookup(handle unit.Handle) (*processInstance, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	tracked, ok := e.instances[handle]
	if !ok {
		return nil, errors.NewNotFoundError("process not found", nil).WithContext("handle", string(handle))
	}
	return tracked, nil
}

func (e *ProcessEngine) Stop(ctx context.Context, handle unit.Handle, grace time.Duration) error {
	tracked, err := e.lookup(handle)
	if err != nil {
		return nil
	}

	if err := tracked.instance.Terminate(); err != nil {
		e.logger.Warnf("Failed to send termination signal, handle: %s, error: %v", handle, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-tracked.done:
		return nil
	case <-timer.C:
		e.logger.Warnf("Process did not exit within %v, killing, handle: %s", grace, handle)
	case <-ctx.Done():
		e.logger.Warnf("Stop interrupted, killing, handle: %s", handle)
	}

	if err := e.kill(tracked); err != nil {
		return err
	}
	<-tracked.done
	return nil
}

func (e *ProcessEngine) Kill(handle unit.Handle) error {
	tracked, err := e.lookup(handle)
	if err != nil {
		return nil
	}
	return e.kill(tracked)
}

func (e *ProcessEngine) kill(tracked *processInstance) error {
	tracked.killed.Store(true)
	return tracked.instance.Kill()
}

func (e *ProcessEngine) Status(handle unit.Handle) RunningState {
	if _, err := e.lookup(handle); err == nil {
		return RunningStateRunning
	}

	pid, err := strconv.Atoi(string(handle))
	if err != nil {
		return RunningStateUnknown
	}
	running, err := processstate.IsProcessRunning(pid)
	switch {
	case err != nil:
		return RunningStateUnknown
	case running:
		return RunningStateRunning
	default:
		return RunningStateExited
	}
}

// Exec runs the job as a sibling process with the unit's working directory
// and environment; the unit itself does not need to be running.
func (e *ProcessEngine) Exec(ctx context.Context, handle unit.Handle, def unit.Definition, job jobs.Spec, emit Emitter) {
	go func() {
		echoJob(emit, job)

		execute := process.NewStdExecuteCmd(process.ExecutionConfig{
			Command:          job.Command,
			Environment:      def.EnvList(),
			WorkingDirectory: def.Cwd,
		}, fmt.Sprintf("%s/job-%s", def.ID, job.ID), e.logger)

		instance, err := execute(ctx)
		if err != nil {
			finishJob(ctx, emit, job, -1, err)
			return
		}

		stop := context.AfterFunc(ctx, func() {
			_ = instance.Kill()
		})
		defer stop()

		readOutput(context.Background(), instance.Stdout, instance.Stderr, lineEmitter(emit, e.classifier, job.ID), e.logger)
		code, err := instance.Wait()
		finishJob(ctx, emit, job, code, err)
	}()
}

func (e *ProcessEngine) Usage(ctx context.Context, handle unit.Handle) (metrics.Usage, error) {
	pid, err := strconv.Atoi(string(handle))
	if err != nil {
		return metrics.Usage{}, errors.NewValidationError("invalid process handle", err).WithContext("handle", string(handle))
	}
	return e.usage.Read(pid, time.Now())
}
