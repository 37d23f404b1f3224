// Package scheduler is the Scheduler (spec §4.1, §5): the only component
// that drives the Swap Pipeline off the wall clock. It owns the ticker,
// the concurrency budget, and the running metrics snapshot.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DCA-MiniApp/dca-core-engine/internal/pipeline"
	"github.com/DCA-MiniApp/dca-core-engine/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

const (
	defaultIntervalSeconds = 60
	defaultMaxConcurrency  = 50
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 5 * time.Second
	batchCooldown          = 1 * time.Second
	leaseDuration          = 5 * time.Minute
)

// planStore is the subset of *store.Store the scheduler reads/writes.
type planStore interface {
	LeaseDuePlans(ctx context.Context, now time.Time, leaseHolder string, leaseDuration time.Duration, limit int) ([]store.Plan, error)
	GetPlan(ctx context.Context, id string) (*store.Plan, error)
	ReleaseLease(ctx context.Context, planID string) error
	ActivePlanCount(ctx context.Context) (int64, error)
}

// pipelineRunner is the subset of *pipeline.Pipeline the scheduler invokes.
type pipelineRunner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
}

// Config configures one Scheduler, mirroring spec §6's environment-driven
// options.
type Config struct {
	IntervalSeconds         int
	MaxConcurrentExecutions int
	RetryAttempts           int
	RetryDelay              time.Duration
	HasSigningKey           bool
	LeaseHolder             string
}

// Status is the read-only metrics/configuration surface spec §6 requires.
type Status struct {
	IsRunning               bool
	TotalExecutions         int64
	SuccessfulExecutions    int64
	FailedExecutions        int64
	LastExecutionTime       time.Time
	AverageExecutionTimeMs  float64
	ActivePlansCount        int64
	IntervalSeconds         int
	MaxConcurrentExecutions int
}

// Scheduler drives the Swap Pipeline on a wall-clock interval (spec §4.1).
type Scheduler struct {
	store    planStore
	pipeline pipelineRunner
	cfg      Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	metrics  *prometheusMetrics

	metricsMu            sync.Mutex
	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
	lastExecutionTime    time.Time
	totalExecutionTimeMs float64
}

// New builds a Scheduler. Defaults apply when cfg's interval/concurrency
// fields are zero, per spec §4.1/§6.
func New(planStore planStore, pipelineRunner pipelineRunner, cfg Config) *Scheduler {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = defaultIntervalSeconds
	}
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = defaultMaxConcurrency
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Scheduler{store: planStore, pipeline: pipelineRunner, cfg: cfg}
}

// Start begins the periodic tick. It refuses to start without a signing key
// configured (spec §4.1 "start()"), and fires an immediate tick before the
// first wait.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler: already running")
	}
	if !s.cfg.HasSigningKey {
		return fmt.Errorf("scheduler: refusing to start: no signing key configured")
	}

	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	return nil
}

// Stop halts the ticker. In-flight executions are allowed to complete; no
// new ticks begin (spec §4.1 "stop()").
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick implements spec §4.1's tick algorithm: select due plans, partition
// into batches, run each batch with bounded parallelism, cooldown between
// batches.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.LeaseDuePlans(ctx, time.Now(), s.cfg.LeaseHolder, leaseDuration, s.cfg.MaxConcurrentExecutions*4)
	if err != nil {
		log.Printf("scheduler: failed to select due plans: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	for start := 0; start < len(due); start += s.cfg.MaxConcurrentExecutions {
		end := start + s.cfg.MaxConcurrentExecutions
		if end > len(due) {
			end = len(due)
		}
		s.runBatch(ctx, due[start:end])

		if end < len(due) {
			time.Sleep(batchCooldown)
		}
	}
}

func (s *Scheduler) runBatch(ctx context.Context, batch []store.Plan) {
	sem := semaphore.NewWeighted(int64(s.cfg.MaxConcurrentExecutions))
	var wg sync.WaitGroup

	for _, plan := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Printf("scheduler: batch acquire aborted: %v", err)
			return
		}
		wg.Add(1)
		go func(p store.Plan) {
			defer sem.Release(1)
			defer wg.Done()
			s.runPlan(ctx, p)
		}(plan)
	}

	wg.Wait()
}

// runPlan re-checks the plan's status, then retries the pipeline per spec
// §4.1 step 4's fixed-delay retry policy, isolating one plan's failure from
// the rest of the batch.
func (s *Scheduler) runPlan(ctx context.Context, p store.Plan) {
	fresh, err := s.store.GetPlan(ctx, p.ID)
	if err != nil {
		log.Printf("scheduler: plan %s: failed to re-read: %v", p.ID, err)
		return
	}
	if fresh.Status != store.PlanStatusActive {
		if err := s.store.ReleaseLease(ctx, p.ID); err != nil {
			log.Printf("scheduler: plan %s: failed to release lease: %v", p.ID, err)
		}
		return
	}

	start := time.Now()
	var runErr error
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		_, runErr = s.pipeline.Run(ctx, pipeline.Input{
			PlanID:          fresh.ID,
			FromTokenSymbol: fresh.FromToken,
			ToTokenSymbol:   fresh.ToToken,
			AmountHuman:     fresh.Amount,
			UserAddress:     common.HexToAddress(fresh.UserAddress),
			SlippagePercent: fresh.SlippagePercent,
		})
		if runErr == nil {
			break
		}
		if attempt < s.cfg.RetryAttempts {
			time.Sleep(s.cfg.RetryDelay)
		}
	}
	elapsed := time.Since(start)

	if runErr != nil {
		log.Printf("scheduler: plan %s: failed after %d attempts: %v", fresh.ID, s.cfg.RetryAttempts, runErr)
	}
	s.recordMetrics(elapsed, runErr == nil)
}

func (s *Scheduler) recordMetrics(elapsed time.Duration, success bool) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()

	s.totalExecutions++
	if success {
		s.successfulExecutions++
	} else {
		s.failedExecutions++
	}
	s.lastExecutionTime = time.Now()
	s.totalExecutionTimeMs += float64(elapsed.Milliseconds())
	avgMs := s.totalExecutionTimeMs / float64(s.totalExecutions)

	if s.metrics != nil {
		s.metrics.totalExecutions.Inc()
		if success {
			s.metrics.successfulExecutions.Inc()
		} else {
			s.metrics.failedExecutions.Inc()
		}
		s.metrics.averageExecutionTime.Set(avgMs)
	}
}

// Status returns the metrics/configuration snapshot spec §6 defines.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.metricsMu.Lock()
	total := s.totalExecutions
	success := s.successfulExecutions
	failed := s.failedExecutions
	last := s.lastExecutionTime
	totalMs := s.totalExecutionTimeMs
	s.metricsMu.Unlock()

	var avgMs float64
	if total > 0 {
		avgMs = totalMs / float64(total)
	}

	activeCount, err := s.store.ActivePlanCount(ctx)
	if err != nil {
		log.Printf("scheduler: failed to read active plan count: %v", err)
	}
	if s.metrics != nil {
		s.metrics.activePlansCount.Set(float64(activeCount))
	}

	return Status{
		IsRunning:               running,
		TotalExecutions:         total,
		SuccessfulExecutions:    success,
		FailedExecutions:        failed,
		LastExecutionTime:       last,
		AverageExecutionTimeMs:  avgMs,
		ActivePlansCount:        activeCount,
		IntervalSeconds:         s.cfg.IntervalSeconds,
		MaxConcurrentExecutions: s.cfg.MaxConcurrentExecutions,
	}
}
