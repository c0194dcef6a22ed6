package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitcoach/onboard/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeCamera struct {
	mu        sync.Mutex
	calls     []Slot
	errs      map[Slot][]error
	discarded []ImageHandle

	// When gate is set, Capture signals started and then waits for gate,
	// ignoring cancellation, before returning an image.
	started chan struct{}
	gate    chan struct{}
}

func (c *fakeCamera) Capture(ctx context.Context, slot Slot) (ImageHandle, error) {
	c.mu.Lock()
	c.calls = append(c.calls, slot)
	img := ImageHandle{URI: fmt.Sprintf("file:///images/%d_%s.jpg", len(c.calls), slot), ContentType: "image/jpeg"}
	var err error
	if q := c.errs[slot]; len(q) > 0 {
		err = q[0]
		c.errs[slot] = q[1:]
	}
	started, gate := c.started, c.gate
	c.mu.Unlock()

	if gate != nil {
		close(started)
		<-gate
	}
	if err != nil {
		return ImageHandle{}, err
	}
	return img, nil
}

func (c *fakeCamera) Discard(ctx context.Context, img ImageHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded = append(c.discarded, img)
	return nil
}

func (c *fakeCamera) Discarded() []ImageHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ImageHandle(nil), c.discarded...)
}

func (c *fakeCamera) failNext(slot Slot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		c.errs = make(map[Slot][]error)
	}
	c.errs[slot] = append(c.errs[slot], err)
}

func (c *fakeCamera) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type uploadCall struct {
	Frontal ImageHandle
	Side    ImageHandle
}

type fakeUploader struct {
	mu      sync.Mutex
	calls   []uploadCall
	results []uploadResult
}

type uploadResult struct {
	m   MeasurementMap
	err error
}

func (u *fakeUploader) UploadBiometrics(ctx context.Context, frontal, side ImageHandle) (MeasurementMap, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, uploadCall{Frontal: frontal, Side: side})
	if len(u.results) > 0 {
		r := u.results[0]
		u.results = u.results[1:]
		return r.m, r.err
	}
	return goodMeasurements(), nil
}

func (u *fakeUploader) queue(m MeasurementMap, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.results = append(u.results, uploadResult{m: m, err: err})
}

func (u *fakeUploader) Calls() []uploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uploadCall(nil), u.calls...)
}

// fakePlanner returns plans from a queue. When gate is set each call
// announces itself on started and waits for gate or cancellation.
type fakePlanner struct {
	mu       sync.Mutex
	requests []PlanRequest
	results  []planResult

	started   chan struct{}
	gate      chan struct{}
	ignoreCtx bool
}

type planResult struct {
	plan WorkoutPlan
	err  error
}

func (p *fakePlanner) GeneratePlan(ctx context.Context, req PlanRequest) (WorkoutPlan, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var res planResult
	if len(p.results) > 0 {
		res = p.results[0]
		p.results = p.results[1:]
	} else {
		res = planResult{plan: samplePlan()}
	}
	started, gate, ignoreCtx := p.started, p.gate, p.ignoreCtx
	p.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return WorkoutPlan{}, ctx.Err()
			}
		}
	}
	return res.plan, res.err
}

func (p *fakePlanner) queue(plan WorkoutPlan, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, planResult{plan: plan, err: err})
}

func (p *fakePlanner) Requests() []PlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlanRequest(nil), p.requests...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []RunRecord
}

func (r *fakeRecorder) RecordRun(ctx context.Context, rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeRecorder) Records() []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunRecord(nil), r.recs...)
}

func goodMeasurements() MeasurementMap {
	return MeasurementMap{
		MeasureHeight: 180,
		MeasureWeight: 81,
		MeasureChest:  98.5,
		MeasureWaist:  84,
		MeasureHip:    97,
		MeasureThigh:  56,
		MeasureBicep:  33,
	}
}

func samplePlan() WorkoutPlan {
	return WorkoutPlan{Entries: []json.RawMessage{
		json.RawMessage(`"Day 1: Full body"`),
		json.RawMessage(`{"day":2,"exercises":["Squat","Row"]}`),
	}}
}

func validForm() FormInput {
	return FormInput{Age: "30", Gender: "male", Goal: "Build Muscle", Level: "Beginner"}
}

func testCatalog() Catalog {
	return Catalog{
		Goals:  []string{"Lose Weight", "Build Muscle", "Improve Endurance"},
		Levels: []string{"Beginner", "Intermediate", "Advanced"},
	}
}

type harness struct {
	ctrl     *Controller
	camera   *fakeCamera
	uploader *fakeUploader
	planner  *fakePlanner
	store    *MemoryStore
	recorder *fakeRecorder
	clock    *timeutil.MockClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		camera:   &fakeCamera{},
		uploader: &fakeUploader{},
		planner:  &fakePlanner{},
		store:    NewMemoryStore(),
		recorder: &fakeRecorder{},
		clock:    timeutil.NewMockClock(epoch),
	}
	ctrl, err := NewController(Options{
		Camera:     h.camera,
		Biometrics: h.uploader,
		Planner:    h.planner,
		Store:      h.store,
		Catalog:    testCatalog(),
		Recorder:   h.recorder,
		Clock:      h.clock,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })
	return h
}

// captureBoth takes both photos and returns the snapshot after the upload.
func (h *harness) captureBoth(t *testing.T) (Snapshot, error) {
	t.Helper()
	ctx := context.Background()
	_, err := h.ctrl.CaptureRequested(ctx, SlotFrontal)
	require.NoError(t, err)
	return h.ctrl.CaptureRequested(ctx, SlotSide)
}

var errBoom = errors.New("boom")
