package supervisor

import (
	"context"
	"time"

	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const shutdownReason = "supervisor is shutting down"

// view is the part of a UnitState that drives backend calls.
type view struct {
	status        state.Status
	handle        unit.Handle
	stopRequested bool
	forced        bool
	generation    uint64
}

func viewOf(u *state.UnitState) view {
	return view{
		status:        u.Status,
		handle:        u.Handle,
		stopRequested: u.StopRequested,
		forced:        u.Forced,
		generation:    u.RestartGeneration,
	}
}

// reconcile compares a unit before and after an event and issues the backend
// calls the change implies. The reducer decides; reconcile only executes.
func (s *Supervisor) reconcile(u *state.UnitState, before view) {
	after := viewOf(u)
	def := u.Definition
	id := def.ID

	if inst := s.instances[id]; inst != nil {
		if inst.scheduler != nil && (after.status != state.StatusRunning || after.handle != before.handle) {
			s.stopHealth(inst)
		}
		if after.handle == "" && (before.handle != "" || !u.Active()) {
			s.teardown(id, inst)
		}
	}

	if before.status == state.StatusRestarting && (after.status != state.StatusRestarting || after.generation != before.generation) {
		s.stopTimer(id)
	}
	if after.status == state.StatusRestarting && (before.status != state.StatusRestarting || after.generation != before.generation) {
		if s.closing.Load() {
			s.queue.Push(id, state.UserCommand{Command: state.Stop(id)})
		} else {
			s.scheduleRestart(id, after.generation, u.NextRestartDelay)
		}
	}

	if after.status == state.StatusStarting && s.instances[id] == nil {
		s.spawn(def)
	}

	if after.status == state.StatusRunning && after.handle != "" {
		if inst := s.instances[id]; inst != nil && inst.scheduler == nil {
			s.startHealth(def, inst, after.handle)
		}
	}

	if after.stopRequested && !after.forced && after.handle != "" &&
		!(before.stopRequested && before.handle == after.handle) {
		switch {
		case !s.closing.Load():
			s.stop(def, after.handle)
		case before.handle != after.handle:
			// spawned after shutdown began
			s.kill(def, after.handle)
		}
	}

	if after.forced && after.handle != "" && !(before.forced && before.handle == after.handle) {
		s.kill(def, after.handle)
	}
}

func (s *Supervisor) spawn(def unit.Definition) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.instances[def.ID] = &instance{ctx: ctx, cancel: cancel}

	if s.closing.Load() {
		s.queue.Push(def.ID, state.UserCommand{Command: state.Stop(def.ID)})
		s.queue.Push(def.ID, state.UnitFailed{Reason: shutdownReason})
		return
	}

	eng, err := s.engines.For(def.Kind)
	if err != nil {
		s.queue.Push(def.ID, state.UnitFailed{Reason: err.Error()})
		return
	}
	s.logger.Infof("Spawning unit, id: %s, kind: %s", def.ID, def.Kind)
	eng.Spawn(ctx, def, s.emitter(def.ID))
}

func (s *Supervisor) teardown(id unit.ID, inst *instance) {
	if inst.scheduler != nil {
		s.stopHealth(inst)
	}
	inst.cancel()
	delete(s.instances, id)
}

// stopHealth detaches the scheduler of inst and waits for its in-flight
// health check off the coordinator. Its result is discarded.
func (s *Supervisor) stopHealth(inst *instance) {
	scheduler := inst.scheduler
	inst.scheduler = nil
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		scheduler.Stop()
	}()
}

func (s *Supervisor) stop(def unit.Definition, handle unit.Handle) {
	eng, err := s.engines.For(def.Kind)
	if err != nil {
		s.logger.Errorf("Cannot stop unit, id: %s, error: %v", def.ID, err)
		return
	}
	s.logger.Infof("Stopping unit, id: %s, handle: %s, grace: %v", def.ID, handle, def.Grace())

	ctx := s.ctx
	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		if err := eng.Stop(ctx, handle, def.Grace()); err != nil {
			s.logger.Errorf("Failed to stop unit, id: %s, handle: %s, error: %v", def.ID, handle, err)
		}
	}()
}

func (s *Supervisor) kill(def unit.Definition, handle unit.Handle) {
	eng, err := s.engines.For(def.Kind)
	if err != nil {
		s.logger.Errorf("Cannot kill unit, id: %s, error: %v", def.ID, err)
		return
	}
	s.logger.Warnf("Killing unit, id: %s, handle: %s", def.ID, handle)

	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		if err := eng.Kill(handle); err != nil {
			s.logger.Errorf("Failed to kill unit, id: %s, handle: %s, error: %v", def.ID, handle, err)
		}
	}()
}

func (s *Supervisor) scheduleRestart(id unit.ID, generation uint64, delay time.Duration) {
	s.stopTimer(id)
	s.metrics.RestartScheduled(string(id))
	s.logger.Infof("Scheduling restart, id: %s, delay: %v, generation: %d", id, delay, generation)

	s.timers[id] = time.AfterFunc(delay, func() {
		s.queue.Push(id, state.RestartScheduled{Generation: generation})
	})
}

func (s *Supervisor) stopTimer(id unit.ID) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Supervisor) startHealth(def unit.Definition, inst *instance, handle unit.Handle) {
	config := def.HealthConfig()
	if config == nil {
		return
	}
	prober, err := monitoring.NewProber(*config)
	if err != nil {
		s.logger.Errorf("Invalid health check, id: %s, error: %v", def.ID, err)
		return
	}

	id := def.ID
	inst.scheduler = monitoring.NewScheduler(string(id), prober, config.RunOptions, func(result monitoring.Result) {
		s.queue.Push(id, state.HealthCheckResult{Handle: handle, Result: result})
	}, s.logger)
	inst.scheduler.Start(inst.ctx)
}
