package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-dash/pkg/container"
	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const (
	// logDrainTimeout bounds how long an exit waits for the log follower.
	logDrainTimeout = 2 * time.Second
	// sigkillExitCode is what the runtime reports for a container it had
	// to kill after the stop timeout.
	sigkillExitCode = 137
)

type containerInstance struct {
	done     chan struct{}
	stopping atomic.Bool
	killed   atomic.Bool
}

// ContainerEngine runs units as containers through the container CLI. The
// container id is the handle.
type ContainerEngine struct {
	client     *container.Client
	logger     logging.Logger
	classifier *logcollection.Classifier

	mutex     sync.Mutex
	instances map[unit.Handle]*containerInstance
}

func NewContainerEngine(client *container.Client, classifier *logcollection.Classifier, logger logging.Logger) *ContainerEngine {
	return &ContainerEngine{
		client:     client,
		logger:     logger,
		classifier: classifier,
		instances:  make(map[unit.Handle]*containerInstance),
	}
}

func (e *ContainerEngine) Kind() unit.Kind {
	return unit.KindContainer
}

func (e *ContainerEngine) Spawn(ctx context.Context, def unit.Definition, emit Emitter) {
	go e.spawn(ctx, def, emit)
}

func (e *ContainerEngine) spawn(ctx context.Context, def unit.Definition, emit Emitter) {
	containerID, err := e.client.Run(ctx, def)
	if err != nil {
		e.logger.Errorf("Failed to spawn unit, id: %s, error: %v", def.ID, err)
		emit.Emit(state.UnitFailed{Reason: err.Error()})
		return
	}

	handle := unit.Handle(containerID)
	tracked := &containerInstance{done: make(chan struct{})}
	e.mutex.Lock()
	e.instances[handle] = tracked
	e.mutex.Unlock()

	emit.Emit(state.Spawned{Handle: handle})

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		stream, err := e.client.Logs(ctx, containerID)
		if err != nil {
			e.logger.Warnf("Failed to follow container logs, id: %s, error: %v", def.ID, err)
			return
		}
		readOutput(ctx, stream.Stdout, stream.Stderr, lineEmitter(emit, e.classifier, ""), e.logger)
		_, _ = stream.Wait()
	}()

	// Not bound to ctx: the exit must be observed even after the unit is cancelled.
	code, err := e.client.Wait(context.Background(), containerID)
	if err != nil {
		e.logger.Errorf("Failed to wait for container, id: %s, error: %v", def.ID, err)
		code = -1
	}
	if tracked.killed.Load() || (tracked.stopping.Load() && code == sigkillExitCode) {
		code = state.ExitCodeKilled
	}

	select {
	case <-logsDone:
	case <-time.After(logDrainTimeout):
		e.logger.Warnf("Container log follower still running after exit, id: %s", def.ID)
	}

	if err := e.client.Remove(context.Background(), containerID); err != nil {
		e.logger.Warnf("Failed to remove container, id: %s, error: %v", def.ID, err)
	}

	e.mutex.Lock()
	delete(e.instances, handle)
	e.mutex.Unlock()
	close(tracked.done)

	e.logger.Infof("Unit container exited, id: %s, code: %d", def.ID, code)
	emit.Emit(state.ProcessExited{Handle: handle, Code: code})
}

func (e *ContainerEngine) lookup(handle unit.Handle) (*containerInstance, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	tracked, ok := e.instances[handle]
	return tracked, ok
}

// Stop uses the runtime's own stop timeout, then escalates to kill if the
// container is still there.
func (e *ContainerEngine) Stop(ctx context.Context, handle unit.Handle, grace time.Duration) error {
	tracked, ok := e.lookup(handle)
	if !ok {
		return nil
	}
	tracked.stopping.Store(true)

	if err := e.client.Stop(ctx, string(handle), grace); err != nil {
		e.logger.Warnf("Graceful container stop failed, killing, handle: %s, error: %v", handle, err)
		if err := e.Kill(handle); err != nil {
			return err
		}
	}

	select {
	case <-tracked.done:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("stop interrupted", ctx.Err()).WithContext("handle", string(handle))
	}
}

func (e *ContainerEngine) Kill(handle unit.Handle) error {
	tracked, ok := e.lookup(handle)
	if !ok {
		return nil
	}
	tracked.killed.Store(true)
	return e.client.Kill(context.Background(), string(handle))
}

func (e *ContainerEngine) Status(handle unit.Handle) RunningState {
	inspected, err := e.client.Inspect(context.Background(), string(handle))
	switch {
	case err != nil:
		return RunningStateUnknown
	case inspected.Running:
		return RunningStateRunning
	default:
		return RunningStateExited
	}
}

func (e *ContainerEngine) Exec(ctx context.Context, handle unit.Handle, def unit.Definition, job jobs.Spec, emit Emitter) {
	go func() {
		echoJob(emit, job)

		stream, err := e.client.Exec(ctx, string(handle), job.Argv())
		if err != nil {
			finishJob(ctx, emit, job, -1, err)
			return
		}
		readOutput(context.Background(), stream.Stdout, stream.Stderr, lineEmitter(emit, e.classifier, job.ID), e.logger)
		code, err := stream.Wait()
		finishJob(ctx, emit, job, code, err)
	}()
}

func (e *ContainerEngine) Usage(ctx context.Context, handle unit.Handle) (metrics.Usage, error) {
	return e.client.Stats(ctx, string(handle))
}

// RemoveOrphans force-removes unit containers left by an earlier run. It must
// run before the first Spawn.
func (e *ContainerEngine) RemoveOrphans(ctx context.Context) (int, error) {
	names, err := e.client.List(ctx)
	if err != nil {
		return 0, err
	}

	collection := errors.NewErrorCollection()
	removed := 0
	for _, name := range names {
		if err := e.client.Remove(ctx, name); err != nil {
			collection.Add(err)
			continue
		}
		removed++
		e.logger.Infof("Removed orphaned container, name: %s", name)
	}
	return removed, collection.ToError()
}
