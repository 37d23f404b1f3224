package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/pipeline"
	"github.com/DCA-MiniApp/dca-core-engine/internal/store"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu            sync.Mutex
	due           []store.Plan
	byID          map[string]*store.Plan
	releaseCalls  int
	activeCount   int64
	leaseCalls    int
}

func (f *fakeStore) LeaseDuePlans(ctx context.Context, now time.Time, leaseHolder string, leaseDuration time.Duration, limit int) ([]store.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaseCalls++
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeStore) GetPlan(ctx context.Context, id string) (*store.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ReleaseLease(ctx context.Context, planID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return nil
}

func (f *fakeStore) ActivePlanCount(ctx context.Context) (int64, error) {
	return f.activeCount, nil
}

type fakePipeline struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakePipeline) Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.PlanID)
	f.mu.Unlock()
	return pipeline.Result{}, f.err
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestStart_RefusesWithoutSigningKey(t *testing.T) {
	s := New(&fakeStore{byID: map[string]*store.Plan{}}, &fakePipeline{}, Config{HasSigningKey: false})
	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "signing key")
}

func TestStart_RunsImmediateTickAndRespectsStop(t *testing.T) {
	plan := store.Plan{ID: "plan-1", Status: store.PlanStatusActive, UserAddress: "0x1111111111111111111111111111111111111111", FromToken: "USDC", ToToken: "WETH", Amount: "100", SlippagePercent: "0.5"}
	st := &fakeStore{due: []store.Plan{plan}, byID: map[string]*store.Plan{"plan-1": &plan}}
	pl := &fakePipeline{}

	s := New(st, pl, Config{HasSigningKey: true, IntervalSeconds: 3600, MaxConcurrentExecutions: 10})
	err := s.Start(context.Background())
	assert.NoError(t, err)

	assert.Eventually(t, func() bool { return pl.callCount() == 1 }, time.Second, 10*time.Millisecond)

	s.Stop()
	status := s.Status(context.Background())
	assert.False(t, status.IsRunning)
	assert.Equal(t, int64(1), status.TotalExecutions)
	assert.Equal(t, int64(1), status.SuccessfulExecutions)
}

func TestRunPlan_SkipsWhenNoLongerActive(t *testing.T) {
	plan := store.Plan{ID: "plan-2", Status: store.PlanStatusPaused}
	st := &fakeStore{byID: map[string]*store.Plan{"plan-2": &plan}}
	pl := &fakePipeline{}
	s := New(st, pl, Config{HasSigningKey: true})

	s.runPlan(context.Background(), store.Plan{ID: "plan-2"})
	assert.Equal(t, 0, pl.callCount())
	assert.Equal(t, 1, st.releaseCalls)
}

func TestRunPlan_RetriesOnFailureThenRecordsMetrics(t *testing.T) {
	plan := store.Plan{ID: "plan-3", Status: store.PlanStatusActive, UserAddress: "0x1111111111111111111111111111111111111111"}
	st := &fakeStore{byID: map[string]*store.Plan{"plan-3": &plan}}
	pl := &fakePipeline{err: errors.New("boom")}
	s := New(st, pl, Config{HasSigningKey: true, RetryAttempts: 2, RetryDelay: 10 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.runPlan(context.Background(), store.Plan{ID: "plan-3"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runPlan did not return in time")
	}

	assert.Equal(t, 2, pl.callCount())
	status := s.Status(context.Background())
	assert.Equal(t, int64(1), status.FailedExecutions)
}
