package supervisor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/state"
)

// Shutdown stops every unit concurrently: a graceful stop first, a forced
// kill once the unit's stop grace or ctx runs out. Units that were about to
// restart or start are moved to Stopped. Shutdown returns after the
// coordinator has exited; later calls return immediately.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	if !s.closing.CompareAndSwap(false, true) {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		return nil
	}
	s.logger.Infof("Shutting down supervisor, units: %d", s.graph.Len())

	order := s.graph.StartOrder()
	for i := len(order) - 1; i >= 0; i-- {
		s.queue.Push(order[i], state.UserCommand{Command: state.Stop(order[i])})
	}

	collection := errors.NewErrorCollection()
	running := true
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		select {
		case <-s.done:
			// coordinator already gone with its context; state is ours now
			running = false
			snapshot, err = s.state.Snapshot(), nil
		default:
		}
	}
	if err != nil {
		collection.Add(err)
	} else {
		collection.Add(s.stopAll(ctx, snapshot))
		if running {
			// apply the exits reported by the stops
			if _, err := s.Snapshot(ctx); err != nil {
				collection.Add(err)
			}
		}
	}

	s.cancel()
	<-s.done
	s.sampler.Stop()

	for id := range s.timers {
		s.stopTimer(id)
	}
	for id, inst := range s.instances {
		s.teardown(id, inst)
	}
	for id, cancel := range s.jobCancels {
		cancel()
		delete(s.jobCancels, id)
	}
	s.effects.Wait()

	if collection.HasErrors() {
		s.logger.Errorf("Supervisor stopped with errors: %v", collection)
	} else {
		s.logger.Infof("Supervisor stopped")
	}
	return collection.ToError()
}

func (s *Supervisor) stopAll(ctx context.Context, snapshot state.Snapshot) error {
	var (
		g          errgroup.Group
		mutex      sync.Mutex
		collection = errors.NewErrorCollection()
	)

	for _, u := range snapshot.Units {
		if u.Handle == "" {
			continue
		}
		def, _ := s.graph.Get(u.ID)
		eng, err := s.engines.For(def.Kind)
		if err != nil {
			mutex.Lock()
			collection.Add(err)
			mutex.Unlock()
			continue
		}
		handle := u.Handle

		g.Go(func() error {
			s.logger.Infof("Stopping unit, id: %s, handle: %s, grace: %v", def.ID, handle, def.Grace())
			if err := eng.Stop(ctx, handle, def.Grace()); err != nil {
				mutex.Lock()
				collection.Add(errors.NewAdapterError("failed to stop unit", err).WithContext("unit_id", string(def.ID)))
				mutex.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return collection.ToError()
}
