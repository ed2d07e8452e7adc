package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/logging"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/dili-feedback-server/internal/mlclient"
	"github.com/dili-feedback-server/internal/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var admin = domain.Actor{UserID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin}

// memLedger is an in-memory version ledger
type memLedger struct {
	mu      sync.Mutex
	records []*domain.VersionRecord
}

func (l *memLedger) Reserve(_ context.Context, actor domain.Actor, runID string) (*domain.VersionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := &domain.VersionRecord{
		ID:            fmt.Sprint(len(l.records) + 1),
		Version:       len(l.records) + 1,
		Status:        domain.VersionPending,
		CreatedBy:     actor.UserID,
		TrainingRunID: runID,
	}
	l.records = append(l.records, rec)
	c := *rec
	return &c, nil
}

func (l *memLedger) settle(id string, to domain.VersionStatus) (*domain.VersionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if rec.ID != id {
			continue
		}
		if rec.Status != domain.VersionPending {
			return nil, domain.ErrNotPending
		}
		rec.Status = to
		c := *rec
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (l *memLedger) Commit(_ context.Context, id string) (*domain.VersionRecord, error) {
	return l.settle(id, domain.VersionActive)
}

func (l *memLedger) MarkFailed(_ context.Context, id string) (*domain.VersionRecord, error) {
	return l.settle(id, domain.VersionFailed)
}

func (l *memLedger) Active(context.Context) (*domain.VersionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Status == domain.VersionActive {
			c := *l.records[i]
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (l *memLedger) statuses() []domain.VersionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.VersionStatus
	for _, rec := range l.records {
		out = append(out, rec.Status)
	}
	return out
}

type fixedCount int64

func (c fixedCount) CountDisagreements(context.Context) (int64, error) { return int64(c), nil }

type trainerFunc func(ctx context.Context, onPhase func(mlclient.PhaseEvent)) error

func (f trainerFunc) Train(ctx context.Context, onPhase func(mlclient.PhaseEvent)) error {
	return f(ctx, onPhase)
}

func instantTrainer(err error) trainerFunc {
	return func(context.Context, func(mlclient.PhaseEvent)) error { return err }
}

func durations(d time.Duration) []time.Duration {
	return []time.Duration{d, d, d, d, d, d}
}

type fixture struct {
	orch   *Orchestrator
	ledger *memLedger
	hub    *progress.Hub
}

func newFixture(t *testing.T, trainer Trainer, phase time.Duration, m *metrics.TrainingMetrics) fixture {
	t.Helper()
	ledger := &memLedger{}
	hub := progress.NewHub(nil, logging.Discard(), progress.WithBufferSize(64))
	cfg := domain.TrainingConfig{
		BatchSize:      10,
		PhaseDurations: durations(phase),
		TerminalHold:   10 * time.Millisecond,
	}
	orch, err := NewOrchestrator(ledger, fixedCount(23), trainer, hub, cfg, m, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, orch.Shutdown(ctx))
	})
	return fixture{orch: orch, ledger: ledger, hub: hub}
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, busy := o.Current()
		return !busy
	}, 5*time.Second, 5*time.Millisecond)
}

func drain(s *progress.Subscriber) []progress.Event {
	var events []progress.Event
	for {
		select {
		case ev := <-s.Outbound:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestRun_SuccessCommitsReservedVersion(t *testing.T) {
	m, err := metrics.NewTrainingMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	f := newFixture(t, instantTrainer(nil), 20*time.Millisecond, m)
	sub := f.hub.Subscribe(progress.TrainingChannel)
	defer f.hub.Unsubscribe(sub)

	run, err := f.orch.Start(context.Background(), admin, StartOptions{AutoTrain: true})
	require.NoError(t, err)
	assert.Equal(t, StateVersionBumping, run.State)
	assert.Equal(t, int64(23), run.DisagreementCount)
	assert.Equal(t, int64(3), run.TargetVersion)
	assert.True(t, run.AutoTrain)

	waitIdle(t, f.orch)

	done, err := f.orch.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, OutcomeSuccess, done.Outcome)
	assert.Equal(t, MessageSuccess, done.Message)
	assert.Equal(t, 1, done.Version)
	require.NotNil(t, done.FinishedAt)

	// The scripted schedule is a floor even though training returned at once.
	assert.GreaterOrEqual(t, done.FinishedAt.Sub(done.StartedAt), 120*time.Millisecond)
	assert.Equal(t, []domain.VersionStatus{domain.VersionActive}, f.ledger.statuses())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("success")))

	require.Eventually(t, func() bool {
		last, ok := f.hub.Last(progress.TrainingChannel)
		return ok && last.Type == progress.EventIdle
	}, time.Second, 5*time.Millisecond)
	_, kept := f.hub.Last(progress.RunChannel(run.ID))
	assert.False(t, kept, "run channel should be forgotten once idle")

	var types []string
	var phases []string
	for _, ev := range drain(sub) {
		types = append(types, ev.Type)
		if ev.Type == "phase" {
			phases = append(phases, ev.Data.(*Run).Phase.Name)
		}
	}
	assert.Equal(t, "state", types[0])
	assert.Equal(t, "completed", types[len(types)-2])
	assert.Equal(t, "idle", types[len(types)-1])
	assert.Equal(t, PhaseNames, phases)
}

func TestRun_FailureMarksVersionFailed(t *testing.T) {
	f := newFixture(t, instantTrainer(errors.New("status 500")), 0, nil)

	run, err := f.orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)
	waitIdle(t, f.orch)

	done, err := f.orch.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, done.Outcome)
	assert.Equal(t, MessageFailed, done.Message)
	assert.Equal(t, []domain.VersionStatus{domain.VersionFailed}, f.ledger.statuses())

	// A failed run still consumes its number.
	next, err := f.orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)
	waitIdle(t, f.orch)
	again, err := f.orch.Get(next.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version)
}

func TestStart_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, trainerFunc(func(ctx context.Context, _ func(mlclient.PhaseEvent)) error {
		<-release
		return nil
	}), 0, nil)

	first, err := f.orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)

	second, err := f.orch.Start(context.Background(), admin, StartOptions{})
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	close(release)
	waitIdle(t, f.orch)
	assert.Len(t, f.ledger.statuses(), 1)
}

func TestRun_BackendPhasesOverrideScripted(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, trainerFunc(func(ctx context.Context, onPhase func(mlclient.PhaseEvent)) error {
		onPhase(mlclient.PhaseEvent{Phase: "Model Evaluation", Status: "running"})
		<-release
		return nil
	}), 5*time.Millisecond, nil)

	run, err := f.orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cur, ok := f.orch.Current()
		return ok && cur.PhaseSource == SourceBackend
	}, 2*time.Second, 5*time.Millisecond)

	// Let the scripted schedule run out; it must not take the phase back.
	time.Sleep(60 * time.Millisecond)
	cur, ok := f.orch.Current()
	require.True(t, ok)
	assert.Equal(t, SourceBackend, cur.PhaseSource)
	assert.Equal(t, "Model Evaluation", cur.Phase.Name)
	assert.Equal(t, 4, cur.Phase.Index)

	close(release)
	waitIdle(t, f.orch)
	done, err := f.orch.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, done.Outcome)
}

func TestRun_ZeroDurationsHaveNoFloor(t *testing.T) {
	f := newFixture(t, instantTrainer(nil), 0, nil)
	sub := f.hub.Subscribe(progress.TrainingChannel)
	defer f.hub.Unsubscribe(sub)

	_, err := f.orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)
	waitIdle(t, f.orch)

	for _, ev := range drain(sub) {
		assert.NotEqual(t, "phase", ev.Type)
	}
}

func TestShutdown_FailsInFlightRun(t *testing.T) {
	ledger := &memLedger{}
	hub := progress.NewHub(nil, logging.Discard())
	trainer := trainerFunc(func(ctx context.Context, _ func(mlclient.PhaseEvent)) error {
		<-ctx.Done()
		return ctx.Err()
	})
	orch, err := NewOrchestrator(ledger, fixedCount(0), trainer, hub,
		domain.TrainingConfig{BatchSize: 10, PhaseDurations: durations(time.Hour), TerminalHold: time.Hour},
		nil, logging.Discard())
	require.NoError(t, err)

	run, err := orch.Start(context.Background(), admin, StartOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, ok := orch.Current()
		return ok && cur.State == StateApiTraining
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))

	done, err := orch.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, done.Outcome)
	assert.Equal(t, []domain.VersionStatus{domain.VersionFailed}, ledger.statuses())

	_, err = orch.Start(context.Background(), admin, StartOptions{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestStart_IgnoresClientTarget(t *testing.T) {
	f := newFixture(t, instantTrainer(nil), 0, nil)
	requested := int64(99)

	run, err := f.orch.Start(context.Background(), admin, StartOptions{AutoTrain: true, TargetVersion: &requested})
	require.NoError(t, err)
	assert.Equal(t, int64(3), run.TargetVersion)
	waitIdle(t, f.orch)
}

func TestReadiness(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, trainerFunc(func(context.Context, func(mlclient.PhaseEvent)) error {
		<-release
		return nil
	}), 0, nil)
	ctx := context.Background()

	r, err := f.orch.Readiness(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(23), r.DisagreementCount)
	assert.Equal(t, int64(2), r.CompleteBatches)
	assert.Equal(t, int64(3), r.TargetVersion)
	assert.Nil(t, r.ActiveVersion)
	assert.False(t, r.RunInFlight)

	run, err := f.orch.Start(ctx, admin, StartOptions{})
	require.NoError(t, err)
	r, err = f.orch.Readiness(ctx)
	require.NoError(t, err)
	assert.True(t, r.RunInFlight)
	assert.Equal(t, run.ID, r.CurrentRun.ID)

	close(release)
	waitIdle(t, f.orch)
	r, err = f.orch.Readiness(ctx)
	require.NoError(t, err)
	require.NotNil(t, r.ActiveVersion)
	assert.Equal(t, 1, *r.ActiveVersion)
}

func TestGet_UnknownRun(t *testing.T) {
	f := newFixture(t, instantTrainer(nil), 0, nil)
	_, err := f.orch.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
