package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitcoach/onboard/internal/monitoring"
	"github.com/fitcoach/onboard/internal/timeutil"
)

var logf = monitoring.Component("onboarding")

// Options configures a Controller. Camera, Biometrics, Planner and Store are
// required. A Camera that also implements ImageDiscarder has the captures of
// reset and abandoned runs deleted.
type Options struct {
	Camera     Camera
	Biometrics BiometricsUploader
	Planner    PlanGenerator
	Store      PlanStore
	Catalog    Catalog

	// Recorder, when set, receives a RunRecord whenever a run completes, is
	// reset after starting, or is abandoned by Close.
	Recorder RunRecorder
	Clock    timeutil.Clock

	// Per-call deadlines. Zero means no deadline beyond the run itself.
	CaptureTimeout time.Duration
	UploadTimeout  time.Duration
	PlanTimeout    time.Duration
}

// run is the in-memory state of one onboarding attempt. Everything except
// ctx and cancel is guarded by Controller.mu.
type run struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	state   PipelineState
	seq     CaptureSequencer
	pending bool
	attempt int

	measurements MeasurementMap
	profile      *UserProfile
	plan         WorkoutPlan
	recorded     bool
}

// Controller owns the pipeline state and is the only thing that mutates it.
// Intents are serialized; the lock is released while a camera or remote call
// is in flight so Snapshot never waits on the network. A request that
// arrives while a call is in flight fails with ErrBusy.
type Controller struct {
	opts Options

	mu     sync.Mutex
	run    *run
	closed bool
}

// NewController creates a Controller with a fresh run in INIT.
func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Camera == nil:
		return nil, errors.New("onboarding: camera is required")
	case opts.Biometrics == nil:
		return nil, errors.New("onboarding: biometrics uploader is required")
	case opts.Planner == nil:
		return nil, errors.New("onboarding: plan generator is required")
	case opts.Store == nil:
		return nil, errors.New("onboarding: plan store is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	c := &Controller{opts: opts}
	c.run = c.newRun()
	return c, nil
}

func (c *Controller) newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		id:      uuid.NewString(),
		ctx:     ctx,
		cancel:  cancel,
		started: c.opts.Clock.Now(),
		state:   PipelineState{State: StateInit},
	}
}

// active reports whether results for r may still be applied.
func (c *Controller) active(r *run) bool {
	return !c.closed && c.run == r && r.ctx.Err() == nil
}

// admit is the common precondition for every intent.
func (c *Controller) admit() (*run, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: controller closed", ErrAbandoned)
	}
	if c.run.pending {
		return nil, fmt.Errorf("%w: %s", ErrBusy, c.run.state.State)
	}
	return c.run, nil
}

// suspend runs fn with the lock released. The caller must hold c.mu; it is
// held again when suspend returns. If r stopped being the active run while
// fn ran, fn's result is discarded and ErrAbandoned is returned.
func (c *Controller) suspend(ctx context.Context, r *run, timeout time.Duration, fn func(context.Context) error) error {
	r.pending = true
	c.mu.Unlock()

	opCtx, cancel := context.WithCancel(r.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
	}
	err := fn(opCtx)
	stop()
	cancel()

	c.mu.Lock()
	r.pending = false
	if !c.active(r) {
		logf("run %s: discarding %s result after abandonment", r.id, r.state.State)
		return fmt.Errorf("%w: %s result discarded", ErrAbandoned, r.state.State)
	}
	return err
}

// moveTo applies a forward transition. A refused edge is a programming error
// inside the controller, so it is reported rather than ignored.
func (c *Controller) moveTo(r *run, to State) error {
	from := r.state.State
	if err := r.state.transition(to); err != nil {
		return err
	}
	logf("run %s: %s -> %s", r.id, from, to)
	return nil
}

// failStage moves r to FAILED for a stage error.
func (c *Controller) failStage(r *run, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		se = stageErrorf(r.state.State, stageKind(r.state.State), err, "unexpected failure")
	}
	stage := r.state.State
	if ferr := r.state.fail(se); ferr != nil {
		return ferr
	}
	logf("run %s: %s failed (%s): %v", r.id, stage, KindName(se), se)
	return se
}

// stageKind is the error kind attributed to an untyped failure in stage.
func stageKind(stage State) error {
	switch stage {
	case StateUploadingBiometrics:
		return ErrUpload
	case StateGeneratingPlan:
		return ErrGeneration
	case StatePersisting:
		return ErrPersistence
	case StateAwaitingProfile:
		return ErrValidation
	default:
		return ErrCamera
	}
}

// release snapshots the run, then unlocks.
func (c *Controller) release(err error) (Snapshot, error) {
	snap := c.snapshotLocked()
	c.mu.Unlock()
	return snap, err
}

// noteError records err as the last error without changing state.
func (c *Controller) noteError(r *run, err error) {
	r.state.LastError = err
	logf("run %s: %s error (%s): %v", r.id, r.state.State, KindName(err), err)
}

// Begin starts the capture sequence.
func (c *Controller) Begin(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.admit()
	if err != nil {
		return c.snapshotLocked(), err
	}
	if r.state.State != StateInit {
		return c.snapshotLocked(), stageErrorf(r.state.State, ErrSequence, nil, "run already started")
	}
	if err := c.moveTo(r, StateCapturingFrontal); err != nil {
		return c.snapshotLocked(), err
	}
	return c.snapshotLocked(), nil
}

// CaptureRequested presses the shutter for slot. A request in INIT begins
// the run. Once both slots are filled the biometrics upload runs as part of
// the same call.
func (c *Controller) CaptureRequested(ctx context.Context, slot Slot) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.admit()
	if err != nil {
		return c.snapshotLocked(), err
	}

	switch r.state.State {
	case StateInit, StateCapturingFrontal, StateCapturingSide:
	default:
		return c.snapshotLocked(), stageErrorf(r.state.State, ErrSequence, nil, "capture not expected in %s", r.state.State)
	}
	if err := r.seq.Admit(slot); err != nil {
		logf("run %s: rejected %s capture (%s): %v", r.id, slot, KindName(err), err)
		return c.snapshotLocked(), err
	}
	if r.state.State == StateInit {
		if err := c.moveTo(r, StateCapturingFrontal); err != nil {
			return c.snapshotLocked(), err
		}
	}

	var img ImageHandle
	err = c.suspend(ctx, r, c.opts.CaptureTimeout, func(ctx context.Context) error {
		var cerr error
		img, cerr = c.opts.Camera.Capture(ctx, slot)
		return cerr
	})
	if errors.Is(err, ErrAbandoned) {
		if img.URI != "" {
			// Local file removal only; the run is already gone.
			c.discard(ctx, []ImageHandle{img})
		}
		return c.snapshotLocked(), err
	}
	if err != nil {
		se := stageErrorf(r.state.State, ErrCamera, err, "%s capture failed", slot)
		c.noteError(r, se)
		return c.snapshotLocked(), se
	}

	if _, err := r.seq.Record(slot, img, c.opts.Clock.Now()); err != nil {
		return c.snapshotLocked(), err
	}
	r.state.LastError = nil
	if err := c.moveTo(r, r.seq.next()); err != nil {
		return c.snapshotLocked(), err
	}
	if !r.seq.Ready() {
		return c.snapshotLocked(), nil
	}

	if err := c.moveTo(r, StateUploadingBiometrics); err != nil {
		return c.snapshotLocked(), err
	}
	err = c.upload(ctx, r)
	return c.snapshotLocked(), err
}

// upload performs the biometrics stage. r must be in UPLOADING_BIOMETRICS.
func (c *Controller) upload(ctx context.Context, r *run) error {
	frontal, _ := r.seq.Frontal()
	side, _ := r.seq.Side()
	r.attempt++

	var m MeasurementMap
	err := c.suspend(ctx, r, c.opts.UploadTimeout, func(ctx context.Context) error {
		var uerr error
		m, uerr = uploadBiometrics(ctx, c.opts.Biometrics, frontal.Image, side.Image)
		return uerr
	})
	if errors.Is(err, ErrAbandoned) {
		return err
	}
	if err != nil {
		return c.failStage(r, err)
	}
	r.measurements = m
	return c.moveTo(r, StateAwaitingProfile)
}

// FormSubmitted validates the profile form and, if valid, generates and
// stores the plan. A rejected form leaves the run in AWAITING_PROFILE.
func (c *Controller) FormSubmitted(ctx context.Context, form FormInput) (Snapshot, error) {
	c.mu.Lock()
	r, err := c.admit()
	if err != nil {
		return c.release(err)
	}
	if r.state.State != StateAwaitingProfile {
		return c.release(stageErrorf(r.state.State, ErrSequence, nil, "profile not expected in %s", r.state.State))
	}

	profile, err := Assemble(form, r.measurements, c.opts.Catalog)
	if err != nil {
		c.noteError(r, err)
		return c.release(err)
	}
	r.profile = &profile
	if err := c.moveTo(r, StateGeneratingPlan); err != nil {
		return c.release(err)
	}

	err = c.generate(ctx, r)
	return c.finishLocked(ctx, r, err)
}

// generate performs the plan stage and, on success, the persistence stage.
func (c *Controller) generate(ctx context.Context, r *run) error {
	profile := *r.profile
	r.attempt++

	var plan WorkoutPlan
	err := c.suspend(ctx, r, c.opts.PlanTimeout, func(ctx context.Context) error {
		var gerr error
		plan, gerr = generatePlan(ctx, c.opts.Planner, profile)
		return gerr
	})
	if errors.Is(err, ErrAbandoned) {
		return err
	}
	if err != nil {
		return c.failStage(r, err)
	}
	r.plan = plan
	if err := c.moveTo(r, StatePersisting); err != nil {
		return err
	}
	return c.persist(ctx, r)
}

// persist commits the plan and the completion flag.
func (c *Controller) persist(ctx context.Context, r *run) error {
	plan := r.plan
	r.attempt++

	err := c.suspend(ctx, r, 0, func(ctx context.Context) error {
		return commitPlan(ctx, c.opts.Store, plan)
	})
	if errors.Is(err, ErrAbandoned) {
		return err
	}
	if err != nil {
		return c.failStage(r, err)
	}
	return c.moveTo(r, StateComplete)
}

// RetryRequested re-enters the stage that failed with the inputs it had:
// the same two images for an upload, the same profile for plan generation,
// the same plan for persistence.
func (c *Controller) RetryRequested(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	r, err := c.admit()
	if err != nil {
		return c.release(err)
	}
	if r.state.State != StateFailed {
		return c.release(stageErrorf(r.state.State, ErrSequence, nil, "nothing to retry in %s", r.state.State))
	}

	stage := r.state.FailedStage
	if err := c.moveTo(r, stage); err != nil {
		return c.release(err)
	}
	logf("run %s: retrying %s", r.id, stage)

	switch stage {
	case StateUploadingBiometrics:
		err = c.upload(ctx, r)
	case StateGeneratingPlan:
		err = c.generate(ctx, r)
	case StatePersisting:
		err = c.persist(ctx, r)
	default:
		err = fmt.Errorf("no retry for stage %s", stage)
	}
	return c.finishLocked(ctx, r, err)
}

// finishLocked builds the snapshot for an intent that may have completed the
// run, releases the lock, and records the run outside it.
func (c *Controller) finishLocked(ctx context.Context, r *run, err error) (Snapshot, error) {
	var rec *RunRecord
	if err == nil && c.active(r) && r.state.State == StateComplete {
		rec = c.closeRun(r, OutcomeComplete)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, rec)
	return snap, err
}

// ResetRequested discards the current run, cancelling any in-flight call,
// and starts a fresh run in INIT.
func (c *Controller) ResetRequested(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		return c.release(fmt.Errorf("%w: controller closed", ErrAbandoned))
	}
	old := c.run
	old.cancel()
	rec := c.closeRun(old, OutcomeReset)
	imgs := old.seq.Images()
	c.run = c.newRun()
	logf("run %s: reset from %s, new run %s", old.id, old.state.State, c.run.id)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.discard(ctx, imgs)
	c.record(ctx, rec)
	return snap, nil
}

// Close abandons the active run. In-flight calls are cancelled and their
// results discarded; nothing further is persisted. Close is idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.run
	r.cancel()
	rec := c.closeRun(r, OutcomeAbandoned)
	var imgs []ImageHandle
	if r.state.State != StateComplete {
		imgs = r.seq.Images()
	}
	c.mu.Unlock()

	c.discard(ctx, imgs)
	if rec != nil {
		logf("run %s: abandoned in %s", r.id, r.state.State)
	}
	c.record(ctx, rec)
	return nil
}

// closeRun returns the record for r the first time it ends. Runs that never
// left INIT are not recorded.
func (c *Controller) closeRun(r *run, outcome RunOutcome) *RunRecord {
	if r.recorded || r.state.State == StateInit {
		return nil
	}
	r.recorded = true
	rec := &RunRecord{
		ID:         r.id,
		StartedAt:  r.started,
		FinishedAt: c.opts.Clock.Now(),
		Outcome:    outcome,
		LastState:  r.state.State,
		Attempts:   r.attempt,
	}
	if r.state.State == StateFailed {
		rec.FailedStage = r.state.FailedStage
	}
	if r.state.LastError != nil {
		rec.ErrorKind = KindName(r.state.LastError)
	}
	return rec
}

// discard deletes captures that no run will use. Failures are logged.
func (c *Controller) discard(ctx context.Context, imgs []ImageHandle) {
	d, ok := c.opts.Camera.(ImageDiscarder)
	if !ok {
		return
	}
	for _, img := range imgs {
		if err := d.Discard(context.WithoutCancel(ctx), img); err != nil {
			logf("failed to discard capture %s: %v", img.URI, err)
		}
	}
}

func (c *Controller) record(ctx context.Context, rec *RunRecord) {
	if rec == nil || c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordRun(context.WithoutCancel(ctx), *rec); err != nil {
		logf("run %s: failed to record %s run: %v", rec.ID, rec.Outcome, err)
	}
}
