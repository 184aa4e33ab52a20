package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-dash/pkg/engine"
	"github.com/core-tools/hsu-dash/pkg/errors"
	"github.com/core-tools/hsu-dash/pkg/jobs"
	"github.com/core-tools/hsu-dash/pkg/logcollection"
	"github.com/core-tools/hsu-dash/pkg/logging"
	"github.com/core-tools/hsu-dash/pkg/metrics"
	"github.com/core-tools/hsu-dash/pkg/monitoring"
	"github.com/core-tools/hsu-dash/pkg/restart"
	"github.com/core-tools/hsu-dash/pkg/state"
	"github.com/core-tools/hsu-dash/pkg/telemetry"
	"github.com/core-tools/hsu-dash/pkg/unit"
)

const waitTimeout = 3 * time.Second

func processUnit(id unit.ID) unit.Definition {
	return unit.Definition{ID: id, Kind: unit.KindProcess, Command: "./" + string(id)}
}

func containerUnit(id unit.ID) unit.Definition {
	return unit.Definition{ID: id, Kind: unit.KindContainer, Image: string(id) + ":latest"}
}

func startSupervisor(t *testing.T, options Options, engines []engine.Engine, defs ...unit.Definition) *Supervisor {
	t.Helper()
	graph, err := unit.NewGraph(defs)
	require.NoError(t, err)

	s, err := New(graph, engine.NewRegistry(engines...), options, telemetry.New(), logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s
}

func quietOptions() Options {
	options := DefaultOptions()
	options.SampleInterval = time.Hour
	return options
}

func waitFor(t *testing.T, s *Supervisor, cond func(state.Snapshot) bool) state.Snapshot {
	t.Helper()
	var snapshot state.Snapshot
	require.Eventually(t, func() bool {
		current, err := s.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snapshot = current
		return cond(current)
	}, waitTimeout, 5*time.Millisecond)
	return snapshot
}

func unitIs(id unit.ID, status state.Status) func(state.Snapshot) bool {
	return func(snapshot state.Snapshot) bool {
		u, ok := snapshot.Unit(id)
		return ok && u.Status == status
	}
}

func mustUnit(t *testing.T, snapshot state.Snapshot, id unit.ID) state.UnitSnapshot {
	t.Helper()
	u, ok := snapshot.Unit(id)
	require.True(t, ok, "unit %s missing", id)
	return u
}

// get is safe inside Eventually conditions.
func get(snapshot state.Snapshot, id unit.ID) state.UnitSnapshot {
	u, _ := snapshot.Unit(id)
	return u
}

func jobIs(id string, status jobs.Status) func(state.Snapshot) bool {
	return func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status == status
	}
}

func hasLog(u state.UnitSnapshot, fragment string) bool {
	for _, entry := range u.Logs {
		if strings.Contains(entry.Text, fragment) {
			return true
		}
	}
	return false
}

func TestNew_RejectsUnitWithoutEngine(t *testing.T) {
	graph, err := unit.NewGraph([]unit.Definition{containerUnit("db")})
	require.NoError(t, err)

	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	_, err = New(graph, engine.NewRegistry(fake), DefaultOptions(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSupervisor_AutostartInDependencyOrder(t *testing.T) {
	api := processUnit("api")
	api.DependsOn = []unit.ID{"db"}
	api.Autostart = true
	db := processUnit("db")
	db.Autostart = true

	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, api, db, processUnit("worker"))

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return unitIs("api", state.StatusRunning)(snapshot) && unitIs("db", state.StatusRunning)(snapshot)
	})

	assert.Equal(t, []unit.Handle{"fake-1001", "fake-1002"}, fake.Instances())
	assert.Equal(t, unit.Handle("fake-1001"), get(snapshot, "db").Handle)
	assert.Equal(t, unit.Handle("fake-1002"), get(snapshot, "api").Handle)
	assert.Equal(t, state.StatusPending, get(snapshot, "worker").Status)
}

func TestSupervisor_RestartsUntilBudgetExhausted(t *testing.T) {
	def := processUnit("worker")
	def.Restart = &restart.Config{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
		Window:      time.Minute,
		MaxAttempts: 2,
	}
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		Exits: map[unit.ID]engine.ExitPlan{"worker": {AfterTicks: 1, Code: 1}},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, def)
	require.NoError(t, s.Submit(state.Start("worker")))

	for attempt := 0; attempt <= 2; attempt++ {
		waitFor(t, s, func(snapshot state.Snapshot) bool {
			u := get(snapshot, "worker")
			return u.Status == state.StatusRunning && u.RestartCount == attempt
		})
		fake.Tick()
	}

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return get(snapshot, "worker").RestartExhausted
	})
	worker := mustUnit(t, snapshot, "worker")
	assert.Equal(t, state.StatusStopped, worker.Status)
	assert.Equal(t, 2, worker.RestartCount)
	assert.Equal(t, 1, worker.LastExitCode)
	assert.Contains(t, worker.LastError, "restart budget exhausted")
	assert.True(t, hasLog(worker, "fatal: exiting with code 1"))
	assert.Empty(t, fake.Instances())

	require.NoError(t, s.Submit(state.Start("worker")))
	snapshot = waitFor(t, s, unitIs("worker", state.StatusRunning))
	assert.False(t, mustUnit(t, snapshot, "worker").RestartExhausted)
}

func TestSupervisor_StopIsGraceful(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))

	require.NoError(t, s.Submit(state.Stop("api")))
	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		u := get(snapshot, "api")
		return u.Status == state.StatusStopped && u.Exited
	})

	api := mustUnit(t, snapshot, "api")
	assert.Equal(t, 0, api.LastExitCode)
	assert.Equal(t, 0, api.RestartCount)
	assert.Empty(t, api.Handle)
	assert.True(t, hasLog(api, "stopped, exit code 0"))
}

func TestSupervisor_StopEscalatesAfterGrace(t *testing.T) {
	def := processUnit("api")
	def.StopGrace = 20 * time.Millisecond
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		IgnoreStop: map[unit.ID]bool{"api": true},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, def)

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))

	require.NoError(t, s.Submit(state.Stop("api")))
	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return get(snapshot, "api").Exited
	})

	api := mustUnit(t, snapshot, "api")
	assert.Equal(t, state.StatusStopped, api.Status)
	assert.Equal(t, state.ExitCodeKilled, api.LastExitCode)
}

func TestSupervisor_Kill(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		IgnoreStop: map[unit.ID]bool{"api": true},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))

	require.NoError(t, s.Submit(state.Kill("api")))
	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return get(snapshot, "api").Exited
	})

	api := mustUnit(t, snapshot, "api")
	assert.Equal(t, state.StatusStopped, api.Status)
	assert.Equal(t, state.ExitCodeKilled, api.LastExitCode)
	assert.Equal(t, 0, api.RestartCount)
	assert.Empty(t, fake.Instances())
}

func TestSupervisor_RestartCommandRespawns(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))

	require.NoError(t, s.Submit(state.Restart("api")))
	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		u := get(snapshot, "api")
		return u.Status == state.StatusRunning && u.Handle == "fake-1002"
	})

	api := mustUnit(t, snapshot, "api")
	assert.Equal(t, 0, api.RestartCount)
	assert.Equal(t, []unit.Handle{"fake-1002"}, fake.Instances())
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	def := processUnit("api")
	def.Restart = &restart.Config{Policy: restart.PolicyNever}
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		FailSpawn: map[unit.ID]string{"api": "binary not found"},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, def)

	require.NoError(t, s.Submit(state.Start("api")))
	snapshot := waitFor(t, s, unitIs("api", state.StatusFailed))

	api := mustUnit(t, snapshot, "api")
	assert.Contains(t, api.LastError, "binary not found")
	assert.Empty(t, api.Handle)
	assert.Empty(t, fake.Instances())
}

func TestSupervisor_FanOutJob(t *testing.T) {
	processes := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	containers := engine.NewFakeEngine(unit.KindContainer, engine.Script{
		FailingJobs: map[string]int{"migrate": 2},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{processes, containers},
		processUnit("api"), processUnit("worker"), containerUnit("db"))

	require.NoError(t, s.Submit(state.Start("db")))
	waitFor(t, s, unitIs("db", state.StatusRunning))

	id, err := s.RunJob(unit.AllUnits, "migrate")
	require.NoError(t, err)

	waitFor(t, s, func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status == jobs.StatusRunning
	})
	processes.Tick()
	containers.Tick()

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status.Finished()
	})

	parent, err := s.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, parent.Status)
	require.Len(t, parent.Children, 3)

	statuses := make(map[unit.ID]jobs.Job)
	for _, childID := range parent.Children {
		child, ok := snapshot.Job(childID)
		require.True(t, ok)
		assert.Equal(t, id, child.ParentID)
		statuses[child.UnitID] = child
	}
	assert.Equal(t, jobs.StatusSucceeded, statuses["api"].Status)
	assert.Equal(t, jobs.StatusSucceeded, statuses["worker"].Status)
	assert.Equal(t, jobs.StatusFailed, statuses["db"].Status)
	assert.Equal(t, 2, statuses["db"].ExitCode)

	db := mustUnit(t, snapshot, "db")
	var jobLines []string
	for _, entry := range db.Logs {
		if entry.JobID == statuses["db"].ID {
			assert.Equal(t, logcollection.StreamJob, entry.Stream)
			jobLines = append(jobLines, entry.Text)
		}
	}
	assert.Equal(t, []string{"$ migrate", "error: exit status 2", "job failed with exit code 2"}, jobLines)
}

func TestSupervisor_FanOutSkipsStoppedContainers(t *testing.T) {
	processes := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	containers := engine.NewFakeEngine(unit.KindContainer, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{processes, containers},
		processUnit("api"), containerUnit("db"))

	id, err := s.RunJob(unit.AllUnits, "uptime")
	require.NoError(t, err)
	waitFor(t, s, func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status == jobs.StatusRunning
	})
	processes.Tick()

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status.Finished()
	})
	parent, _ := snapshot.Job(id)
	assert.Equal(t, jobs.StatusSucceeded, parent.Status)
	require.Len(t, parent.Children, 1)
	child, _ := snapshot.Job(parent.Children[0])
	assert.Equal(t, unit.ID("api"), child.UnitID)
}

func TestSupervisor_JobAgainstStoppedContainer(t *testing.T) {
	containers := engine.NewFakeEngine(unit.KindContainer, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{containers}, containerUnit("db"))

	id, err := s.RunJob("db", "psql -c 'select 1'")
	require.NoError(t, err)

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		job, ok := snapshot.Job(id)
		return ok && job.Status.Finished()
	})
	job, _ := snapshot.Job(id)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, reasonNotRunning, job.Error)
}

func TestSupervisor_CancelJob(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))
	ctx := context.Background()

	id, err := s.RunJob("api", "sleep 600")
	require.NoError(t, err)
	waitFor(t, s, jobIs(id, jobs.StatusRunning))

	require.NoError(t, s.CancelJob(ctx, id))
	snapshot := waitFor(t, s, jobIs(id, jobs.StatusCancelled))
	assert.True(t, hasLog(mustUnit(t, snapshot, "api"), "job cancelled"))

	err = s.CancelJob(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err), "a finished job cannot be cancelled")

	err = s.CancelJob(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	assert.True(t, errors.IsValidationError(s.Submit(state.CancelJob(""))))
}

func TestSupervisor_CancelFanOutJob(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"), processUnit("worker"))

	id, err := s.RunJob(unit.AllUnits, "vacuum")
	require.NoError(t, err)
	waitFor(t, s, jobIs(id, jobs.StatusRunning))

	require.NoError(t, s.CancelJob(context.Background(), id))
	snapshot := waitFor(t, s, jobIs(id, jobs.StatusCancelled))

	parent, _ := snapshot.Job(id)
	require.Len(t, parent.Children, 2)
	for _, childID := range parent.Children {
		child, ok := snapshot.Job(childID)
		require.True(t, ok)
		assert.Equal(t, jobs.StatusCancelled, child.Status)
	}
}

func TestSupervisor_RerunJob(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))
	ctx := context.Background()

	id, err := s.RunJob("api", "make report")
	require.NoError(t, err)
	waitFor(t, s, jobIs(id, jobs.StatusRunning))

	_, err = s.RerunJob(ctx, id)
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err), "a running job cannot be rerun")

	fake.Tick()
	waitFor(t, s, jobIs(id, jobs.StatusSucceeded))

	rerunID, err := s.RerunJob(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, rerunID)
	waitFor(t, s, jobIs(rerunID, jobs.StatusRunning))
	fake.Tick()
	snapshot := waitFor(t, s, jobIs(rerunID, jobs.StatusSucceeded))

	original, _ := snapshot.Job(id)
	rerun, _ := snapshot.Job(rerunID)
	assert.Equal(t, original.UnitID, rerun.UnitID)
	assert.Equal(t, original.Command, rerun.Command)
	assert.Equal(t, jobs.StatusSucceeded, original.Status, "the source job is left untouched")

	_, err = s.RerunJob(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSupervisor_HealthProbeFlipsUnhealthy(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	def := processUnit("api")
	def.Health = &monitoring.HealthCheckConfig{
		Type: monitoring.HealthCheckTypeHTTP,
		HTTP: monitoring.HTTPHealthCheckConfig{URL: server.URL + "/health"},
		RunOptions: monitoring.HealthCheckRunOptions{
			Interval:         20 * time.Millisecond,
			Timeout:          15 * time.Millisecond,
			FailureThreshold: 2,
			SuccessThreshold: 1,
		},
	}
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, def)

	require.NoError(t, s.Submit(state.Start("api")))
	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return get(snapshot, "api").Unhealthy
	})
	api := mustUnit(t, snapshot, "api")
	assert.Equal(t, state.StatusRunning, api.Status)
	assert.True(t, hasLog(api, "unhealthy after 2 failed http probes"))

	healthy.Store(true)
	snapshot = waitFor(t, s, func(snapshot state.Snapshot) bool {
		return !get(snapshot, "api").Unhealthy
	})
	assert.True(t, hasLog(mustUnit(t, snapshot, "api"), "healthy again"))
}

func TestSupervisor_FailedUnitLeavesOthersSupervised(t *testing.T) {
	var apiRequests, webRequests atomic.Int64
	newServer := func(count *atomic.Int64) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
	}
	apiServer := newServer(&apiRequests)
	defer apiServer.Close()
	webServer := newServer(&webRequests)
	defer webServer.Close()

	withHealth := func(def unit.Definition, url string) unit.Definition {
		def.Health = &monitoring.HealthCheckConfig{
			Type: monitoring.HealthCheckTypeHTTP,
			HTTP: monitoring.HTTPHealthCheckConfig{URL: url + "/health"},
			RunOptions: monitoring.HealthCheckRunOptions{
				Interval:         20 * time.Millisecond,
				Timeout:          15 * time.Millisecond,
				FailureThreshold: 2,
				SuccessThreshold: 1,
			},
		}
		return def
	}
	apiDef := withHealth(processUnit("api"), apiServer.URL)
	apiDef.Restart = &restart.Config{Policy: restart.PolicyNever}
	webDef := withHealth(processUnit("web"), webServer.URL)

	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		Exits: map[unit.ID]engine.ExitPlan{"api": {AfterTicks: 1, Code: 3}},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, apiDef, webDef)
	require.NoError(t, s.Submit(state.Start("api")))
	require.NoError(t, s.Submit(state.Start("web")))
	waitFor(t, s, func(snapshot state.Snapshot) bool {
		return len(get(snapshot, "api").HealthResults) > 0 && len(get(snapshot, "web").HealthResults) > 0
	})

	fake.Tick()
	snapshot := waitFor(t, s, unitIs("api", state.StatusFailed))
	failedAt := time.Now()
	assert.Equal(t, 3, mustUnit(t, snapshot, "api").LastExitCode)

	// a request already sent when the unit failed may still land
	time.Sleep(50 * time.Millisecond)
	apiSettled := apiRequests.Load()
	webSeen := webRequests.Load()

	snapshot = waitFor(t, s, func(snapshot state.Snapshot) bool {
		results := get(snapshot, "web").HealthResults
		return webRequests.Load() >= webSeen+3 && len(results) > 0 && results[len(results)-1].At.After(failedAt)
	})
	web := mustUnit(t, snapshot, "web")
	assert.Equal(t, state.StatusRunning, web.Status)
	assert.False(t, web.Unhealthy)
	assert.True(t, hasLog(web, "tick"))
	assert.Equal(t, []unit.Handle{web.Handle}, fake.Instances())
	assert.Equal(t, apiSettled, apiRequests.Load(), "the failed unit is no longer health checked")
}

func TestSupervisor_StopDoesNotWaitForHealthCheck(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "probing")
	def := processUnit("api")
	def.Health = &monitoring.HealthCheckConfig{
		Type: monitoring.HealthCheckTypeExec,
		// the trailing command keeps sleep a child of the shell
		Exec: monitoring.ExecHealthCheckConfig{Command: "touch " + marker + "; sleep 5; true"},
		RunOptions: monitoring.HealthCheckRunOptions{
			Interval:         10 * time.Second,
			Timeout:          5 * time.Second,
			FailureThreshold: 1,
			SuccessThreshold: 1,
		},
	}
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, def)

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))
	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, waitTimeout, 5*time.Millisecond)

	started := time.Now()
	require.NoError(t, s.Submit(state.Stop("api")))
	waitFor(t, s, unitIs("api", state.StatusStopped))
	assert.Less(t, time.Since(started), 200*time.Millisecond, "the coordinator is not held by the health check")
}

func TestSupervisor_SamplesRunningUnits(t *testing.T) {
	options := DefaultOptions()
	options.SampleInterval = 10 * time.Millisecond
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, options, []engine.Engine{fake}, processUnit("api"), processUnit("db"))

	require.NoError(t, s.Submit(state.Start("api")))
	waitFor(t, s, unitIs("api", state.StatusRunning))
	fake.Tick()

	snapshot := waitFor(t, s, func(snapshot state.Snapshot) bool {
		return len(get(snapshot, "api").Metrics[metrics.KindMemory]) >= 2
	})
	assert.GreaterOrEqual(t, mustUnit(t, snapshot, "api").LatestMetric(metrics.KindMemory), float64(64<<20))
	assert.Empty(t, mustUnit(t, snapshot, "db").Metrics[metrics.KindMemory])
}

func TestSupervisor_SubmitValidation(t *testing.T) {
	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, processUnit("api"))

	tests := []struct {
		name  string
		cmd   state.Command
		check func(error) bool
	}{
		{"unknown unit", state.Start("nope"), errors.IsNotFoundError},
		{"all is only a job target", state.Start(unit.AllUnits), errors.IsNotFoundError},
		{"empty job", state.RunJob("api", ""), errors.IsValidationError},
		{"unknown command", state.Command{Kind: "pause", Target: "api"}, errors.IsValidationError},
		{"rerun without a new id", state.RerunJob("job-1"), errors.IsValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Submit(tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	assert.NoError(t, s.Submit(state.RunJob(unit.AllUnits, "date")))
	assert.NoError(t, s.Submit(state.ClearLogs("api")))
}

func TestSupervisor_Shutdown(t *testing.T) {
	slow := processUnit("slow")
	slow.StopGrace = 20 * time.Millisecond
	slow.Autostart = true
	api := processUnit("api")
	api.Autostart = true

	fake := engine.NewFakeEngine(unit.KindProcess, engine.Script{
		IgnoreStop: map[unit.ID]bool{"slow": true},
	})
	s := startSupervisor(t, quietOptions(), []engine.Engine{fake}, api, slow)
	waitFor(t, s, func(snapshot state.Snapshot) bool {
		return unitIs("api", state.StatusRunning)(snapshot) && unitIs("slow", state.StatusRunning)(snapshot)
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Empty(t, fake.Instances())

	err := s.Submit(state.Start("api"))
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))

	_, err = s.Snapshot(context.Background())
	assert.True(t, errors.IsCancelledError(err))

	assert.NoError(t, s.Shutdown(context.Background()))
}
