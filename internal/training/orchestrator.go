package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dili-feedback-server/internal/batching"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/dili-feedback-server/internal/mlclient"
	"github.com/dili-feedback-server/internal/progress"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ErrShuttingDown is returned by Start once Shutdown has begun
var ErrShuttingDown = errors.New("training orchestrator is shutting down")

const (
	runHistorySize = 64
	cleanupTimeout = 10 * time.Second
)

// Ledger is the part of the version ledger a run needs
type Ledger interface {
	Reserve(ctx context.Context, actor domain.Actor, runID string) (*domain.VersionRecord, error)
	Commit(ctx context.Context, id string) (*domain.VersionRecord, error)
	MarkFailed(ctx context.Context, id string) (*domain.VersionRecord, error)
	Active(ctx context.Context) (*domain.VersionRecord, error)
}

// DisagreementCounter counts "no" verdicts
type DisagreementCounter interface {
	CountDisagreements(ctx context.Context) (int64, error)
}

// Trainer triggers retraining on the inference service
type Trainer interface {
	Train(ctx context.Context, onPhase func(mlclient.PhaseEvent)) error
}

type scriptedPhase struct {
	name     string
	duration time.Duration
}

// Orchestrator runs at most one retraining run at a time. A run reserves a
// pending version, calls the trainer, and commits or fails the version once
// both the trainer and the scripted phase schedule have finished.
type Orchestrator struct {
	ledger       Ledger
	feedback     DisagreementCounter
	trainer      Trainer
	publisher    progress.Publisher
	metrics      *metrics.TrainingMetrics
	log          *logrus.Logger
	schedule     []scriptedPhase
	terminalHold time.Duration
	batchSize    int
	now          func() time.Time

	mu      sync.Mutex
	current *Run
	history *lru.Cache[string, *Run]
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an idle orchestrator. m may be nil.
func NewOrchestrator(
	ledger Ledger,
	feedback DisagreementCounter,
	trainer Trainer,
	publisher progress.Publisher,
	config domain.TrainingConfig,
	m *metrics.TrainingMetrics,
	logger *logrus.Logger,
) (*Orchestrator, error) {
	history, err := lru.New[string, *Run](runHistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create run history: %w", err)
	}

	// Durations beyond the known phases are ignored; missing ones are zero.
	var schedule []scriptedPhase
	var total time.Duration
	for i, name := range PhaseNames {
		var d time.Duration
		if i < len(config.PhaseDurations) {
			d = config.PhaseDurations[i]
		}
		total += d
		schedule = append(schedule, scriptedPhase{name: name, duration: d})
	}
	if total == 0 {
		schedule = nil
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = batching.DefaultSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ledger:       ledger,
		feedback:     feedback,
		trainer:      trainer,
		publisher:    publisher,
		metrics:      m,
		log:          logger,
		schedule:     schedule,
		terminalHold: config.TerminalHold,
		batchSize:    batchSize,
		now:          time.Now,
		history:      history,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins a run and returns immediately. If a run is already in
// flight its snapshot is returned with ErrRunInProgress.
func (o *Orchestrator) Start(ctx context.Context, actor domain.Actor, opts StartOptions) (*Run, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if o.current != nil {
		inFlight := o.current.snapshot()
		o.mu.Unlock()
		return inFlight, domain.ErrRunInProgress
	}
	run := &Run{
		ID:        uuid.New().String(),
		State:     StateVersionBumping,
		AutoTrain: opts.AutoTrain,
		StartedBy: actor.UserID,
		StartedAt: o.now().UTC(),
	}
	o.current = run
	o.mu.Unlock()

	count, err := o.feedback.CountDisagreements(ctx)
	if err != nil {
		o.release(run)
		return nil, err
	}
	target := batching.TargetVersion(count, o.batchSize)

	entry := o.log.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"started_by":     actor.Email,
		"disagreements":  count,
		"target_version": target,
	})
	if opts.TargetVersion != nil && *opts.TargetVersion != target {
		entry.WithField("requested_target", *opts.TargetVersion).Warn("Ignoring client supplied target version")
	}

	o.mu.Lock()
	run.DisagreementCount = count
	run.TargetVersion = target
	o.history.Add(run.ID, run)
	snapshot := run.snapshot()
	o.mu.Unlock()

	entry.Info("Training run started")
	o.wg.Add(1)
	go o.execute(o.ctx, run, actor)
	return snapshot, nil
}

// release frees the single-flight slot held by run
func (o *Orchestrator) release(run *Run) {
	o.mu.Lock()
	if o.current == run {
		o.current = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, actor domain.Actor) {
	defer o.wg.Done()
	started := o.now()
	o.metrics.RunStarted()
	o.publish(ctx, run, "state")

	entry := o.log.WithField("run_id", run.ID)
	outcome := o.train(ctx, run, actor, entry)

	o.mu.Lock()
	finished := o.now().UTC()
	run.State = StateCompleted
	run.Outcome = outcome
	run.FinishedAt = &finished
	run.Message = MessageSuccess
	if outcome == OutcomeFailed {
		run.Message = MessageFailed
	}
	o.mu.Unlock()

	elapsed := o.now().Sub(started)
	o.metrics.RunFinished(string(outcome), elapsed)
	entry.WithFields(logrus.Fields{
		"outcome":  outcome,
		"version":  run.Version,
		"duration": elapsed.String(),
	}).Info("Training run completed")
	o.publish(ctx, run, "completed")

	select {
	case <-time.After(o.terminalHold):
	case <-ctx.Done():
	}

	o.release(run)
	o.mu.Lock()
	last := run.snapshot()
	o.mu.Unlock()
	idle := IdleStatus{State: StateIdle, LastRun: last}
	for _, channel := range []string{progress.RunChannel(run.ID), progress.TrainingChannel} {
		o.publisher.Publish(context.WithoutCancel(ctx), progress.Event{
			Channel: channel,
			Type:    progress.EventIdle,
			Data:    idle,
		})
	}
}

// train performs the VersionBumping and ApiTraining steps and settles the
// reserved version. It returns once the trainer and the scripted schedule
// have both finished.
func (o *Orchestrator) train(ctx context.Context, run *Run, actor domain.Actor, entry *logrus.Entry) Outcome {
	rec, err := o.ledger.Reserve(ctx, actor, run.ID)
	if err != nil {
		entry.WithError(err).Error("Failed to reserve version")
		return OutcomeFailed
	}

	o.mu.Lock()
	run.Version = rec.Version
	run.VersionID = rec.ID
	run.State = StateApiTraining
	o.mu.Unlock()
	o.publish(ctx, run, "state")

	trainDone := make(chan error, 1)
	go func() {
		trainDone <- o.trainer.Train(ctx, func(ev mlclient.PhaseEvent) {
			o.backendPhase(ctx, run, ev)
		})
	}()

	o.playSchedule(ctx, run)
	trainErr := <-trainDone

	// The run context may already be cancelled by shutdown.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if trainErr != nil {
		entry.WithError(trainErr).Error("Training call failed")
	} else {
		_, err := o.ledger.Commit(settleCtx, rec.ID)
		if err == nil {
			return OutcomeSuccess
		}
		entry.WithError(err).Error("Failed to commit trained version")
	}

	if _, err := o.ledger.MarkFailed(settleCtx, rec.ID); err != nil {
		entry.WithError(err).Error("Failed to mark version failed")
	}
	return OutcomeFailed
}

// playSchedule publishes the scripted phases with their estimated
// durations. Once the service reports a phase, scripted phases are no
// longer published but the schedule still runs to completion.
func (o *Orchestrator) playSchedule(ctx context.Context, run *Run) {
	for i, phase := range o.schedule {
		o.mu.Lock()
		scripted := run.PhaseSource != SourceBackend
		if scripted {
			run.Phase = &Phase{Index: i, Name: phase.name, Total: len(PhaseNames)}
			run.PhaseSource = SourceScripted
		}
		o.mu.Unlock()
		if scripted {
			o.publish(ctx, run, "phase")
		}

		select {
		case <-time.After(phase.duration):
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) backendPhase(ctx context.Context, run *Run, ev mlclient.PhaseEvent) {
	index := -1
	for i, name := range PhaseNames {
		if strings.EqualFold(name, ev.Phase) {
			index = i
			break
		}
	}

	o.mu.Lock()
	run.Phase = &Phase{Index: index, Name: ev.Phase, Total: len(PhaseNames), Status: ev.Status}
	run.PhaseSource = SourceBackend
	o.mu.Unlock()
	o.publish(ctx, run, "phase")
}

func (o *Orchestrator) publish(ctx context.Context, run *Run, eventType string) {
	o.mu.Lock()
	snapshot := run.snapshot()
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, channel := range []string{progress.RunChannel(run.ID), progress.TrainingChannel} {
		o.publisher.Publish(ctx, progress.Event{Channel: channel, Type: eventType, Data: snapshot})
	}
}

// Get returns a run by id
func (o *Orchestrator) Get(id string) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.history.Get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run.snapshot(), nil
}

// Current returns the in-flight run, if any
func (o *Orchestrator) Current() (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil, false
	}
	return o.current.snapshot(), true
}

// Readiness reports accumulated disagreements and the version the next run targets
func (o *Orchestrator) Readiness(ctx context.Context) (*Readiness, error) {
	count, err := o.feedback.CountDisagreements(ctx)
	if err != nil {
		return nil, err
	}

	r := &Readiness{
		DisagreementCount: count,
		BatchSize:         o.batchSize,
		CompleteBatches:   batching.CompleteCount(count, o.batchSize),
		TargetVersion:     batching.TargetVersion(count, o.batchSize),
	}

	active, err := o.ledger.Active(ctx)
	switch {
	case err == nil:
		r.ActiveVersion = &active.Version
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if run, ok := o.Current(); ok {
		r.RunInFlight = true
		r.CurrentRun = run
	}
	return r, nil
}

// Shutdown cancels any in-flight run and waits for it to settle its version
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("training shutdown: %w", ctx.Err())
	}
}
