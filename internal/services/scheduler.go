package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"classbell/internal/models"
	"classbell/internal/schedule"
	"classbell/internal/store"
)

// SchedulerConfig carries the dispatch loop tuning knobs
type SchedulerConfig struct {
	// TickInterval is how often the dispatch loop runs
	TickInterval time.Duration
	// Lookahead extends the expansion window past the tick end so slow or
	// missed ticks cannot lose occurrences
	Lookahead time.Duration
	// TaskTimeout bounds one task's channel sends; a timed-out task is
	// logged failed, never left pending
	TaskTimeout time.Duration
	// Workers bounds how many tasks dispatch concurrently within a tick
	Workers int
}

// DefaultSchedulerConfig returns the production defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval: time.Minute,
		Lookahead:    48 * time.Hour,
		TaskTimeout:  15 * time.Second,
		Workers:      8,
	}
}

// SchedulerConfigFromEnv builds the config from environment variables,
// falling back to defaults for anything unset or unparseable.
func SchedulerConfigFromEnv() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	if v := os.Getenv("SCHEDULER_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("SCHEDULER_LOOKAHEAD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lookahead = d
		}
	}
	if v := os.Getenv("SCHEDULER_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TaskTimeout = d
		}
	}
	if v := os.Getenv("SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	return cfg
}

// TickStats summarizes one dispatch tick
type TickStats struct {
	Due        int
	Claimed    int
	Skipped    int
	Sent       int
	Failed     int
	Suppressed int
	Faults     int
}

// dueItem pairs a claimable task with the fire decision that produced it
type dueItem struct {
	task   models.ReminderTask
	result schedule.FireResult
}

// Scheduler is the tick-driven dispatch loop and the only entity allowed to
// send scheduled reminders. Each tick derives the reminders whose planned
// fire instant falls inside (watermark, now], claims each task key through
// the store's write-ahead primitive, then fans the claimed tasks out to a
// bounded worker pool. Task keys are pure functions of class, occurrence
// start and user, so an overlapping tick after a restart re-derives the
// same keys and the claims absorb the replay.
type Scheduler struct {
	store      store.Store
	expander   *schedule.Expander
	calc       *schedule.Calculator
	dispatcher *Dispatcher
	cfg        SchedulerConfig

	cron    *cron.Cron
	running atomic.Bool
	now     func() time.Time
}

// NewScheduler assembles the dispatch loop
func NewScheduler(st store.Store, dispatcher *Dispatcher, expander *schedule.Expander, calc *schedule.Calculator, cfg SchedulerConfig) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg = DefaultSchedulerConfig()
	}
	return &Scheduler{
		store:      st,
		expander:   expander,
		calc:       calc,
		dispatcher: dispatcher,
		cfg:        cfg,
		cron:       cron.New(),
		now:        time.Now,
	}
}

// Start registers the tick on the cron driver and begins ticking
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	_, err := s.cron.AddFunc(spec, func() {
		stats, err := s.RunTick(s.now())
		if err != nil {
			log.Printf("Scheduler: tick failed: %v", err)
			return
		}
		if stats.Due > 0 {
			log.Printf("Scheduler: tick done: %d due, %d claimed, %d skipped, %d sent, %d failed, %d suppressed",
				stats.Due, stats.Claimed, stats.Skipped, stats.Sent, stats.Failed, stats.Suppressed)
		}
	})
	if err != nil {
		return fmt.Errorf("registering dispatch tick: %w", err)
	}
	s.cron.Start()
	s.running.Store(true)
	log.Printf("Scheduler: started, ticking every %s", s.cfg.TickInterval)
	return nil
}

// Stop halts the tick driver and waits for a running tick to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running.Store(false)
}

// Running reports whether the tick driver is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunTick executes one dispatch tick for the window (watermark, now].
// Errors while processing one task never abort the rest of the tick; only
// a failure to read the snapshot or advance the watermark is returned.
func (s *Scheduler) RunTick(now time.Time) (TickStats, error) {
	var stats TickStats

	watermark, err := s.store.Watermark()
	if err != nil {
		return stats, fmt.Errorf("reading watermark: %w", err)
	}
	if watermark.IsZero() {
		// First tick ever: do not replay arbitrary history.
		watermark = now.Add(-s.cfg.TickInterval)
	}
	if !now.After(watermark) {
		return stats, nil
	}

	// Snapshot reads happen once, up front. A preference change mid-tick
	// cannot alter fire instants already computed for this tick.
	defs, err := s.store.ActiveClassDefinitions()
	if err != nil {
		return stats, fmt.Errorf("loading class definitions: %w", err)
	}

	due := s.collectDue(defs, watermark, now, &stats)
	stats.Due = len(due)

	s.dispatchDue(due, now, &stats)

	if err := s.store.SetWatermark(now); err != nil {
		return stats, fmt.Errorf("advancing watermark: %w", err)
	}
	return stats, nil
}

// collectDue expands every definition over the extended window and keeps
// the (occurrence, user) pairs whose anchor instant falls in the tick
// window. Per-class failures are isolated.
func (s *Scheduler) collectDue(defs []models.ClassDefinition, windowStart, windowEnd time.Time, stats *TickStats) []dueItem {
	var due []dueItem
	for _, def := range defs {
		occs, err := s.expander.Expand(def, windowStart, windowEnd.Add(s.cfg.Lookahead))
		if err != nil {
			log.Printf("Scheduler: expanding class %s failed: %v", def.ID, err)
			stats.Faults++
			continue
		}
		if len(occs) == 0 {
			continue
		}

		subscribers, err := s.store.Subscribers(def.ID)
		if err != nil {
			log.Printf("Scheduler: loading subscribers of class %s failed: %v", def.ID, err)
			stats.Faults++
			continue
		}

		for _, occ := range occs {
			for _, user := range subscribers {
				result := s.calc.PlannedFire(occ, user.Preferences)
				if result.Decision == schedule.DecisionDisabled {
					continue
				}

				anchor := result.At
				if result.Decision == schedule.DecisionSuppressed {
					anchor = result.Candidate
				}
				if !anchor.After(windowStart) || anchor.After(windowEnd) {
					continue
				}

				due = append(due, dueItem{
					task: models.ReminderTask{
						Key: models.TaskKey{
							ClassID:         def.ID,
							OccurrenceStart: occ.Start.UTC(),
							UserID:          user.ID,
						},
						PlannedFire: result.At,
						Occurrence:  occ,
						User:        user,
					},
					result: result,
				})
			}
		}
	}
	return due
}

// dispatchDue claims each due task and fans the winners out to the worker
// pool. The tick completes when every claimed task has finished or hit its
// timeout.
func (s *Scheduler) dispatchDue(due []dueItem, now time.Time, stats *TickStats) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Workers)

	for _, item := range due {
		claimed, err := s.store.ClaimReminderTask(item.task.Key, now)
		if err != nil {
			log.Printf("Scheduler: claim failed for task %s: %v", item.task.Key, err)
			// Workers from earlier iterations may be bumping Faults too.
			mu.Lock()
			stats.Faults++
			mu.Unlock()
			continue
		}
		if !claimed {
			// Duplicate task: already pending, sent or suppressed.
			stats.Skipped++
			continue
		}
		stats.Claimed++

		wg.Add(1)
		sem <- struct{}{}
		go func(item dueItem) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Scheduler: task %s panicked: %v", item.task.Key, r)
					s.resolveClaim(item.task.Key, models.StatusFailed)
					mu.Lock()
					stats.Faults++
					mu.Unlock()
				}
			}()

			outcome := s.runTask(item)
			mu.Lock()
			switch outcome {
			case models.StatusSent:
				stats.Sent++
			case models.StatusFailed:
				stats.Failed++
			case models.StatusSuppressed:
				stats.Suppressed++
			}
			mu.Unlock()
		}(item)
	}
	wg.Wait()
}

// runTask executes one claimed task and resolves its claim, returning the
// overall outcome for the task key.
func (s *Scheduler) runTask(item dueItem) string {
	if item.result.Decision == schedule.DecisionSuppressed {
		s.dispatcher.DispatchSuppressed(item.task, item.result.Reason)
		s.resolveClaim(item.task.Key, models.StatusSuppressed)
		return models.StatusSuppressed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	entries := s.dispatcher.Dispatch(ctx, item.task)
	outcome := overallOutcome(entries)
	s.resolveClaim(item.task.Key, outcome)
	return outcome
}

func (s *Scheduler) resolveClaim(key models.TaskKey, status string) {
	if err := s.store.ResolveClaim(key, status); err != nil {
		log.Printf("Scheduler: resolving claim %s -> %s failed: %v", key, status, err)
	}
}

// overallOutcome reduces per-channel entries to one claim status. Any sent
// channel makes the key terminal; otherwise any failed channel keeps it
// retryable; a fan-out of pure no-ops is terminal as suppressed.
func overallOutcome(entries []models.DeliveryLogEntry) string {
	anyFailed := false
	for _, e := range entries {
		switch e.Status {
		case models.StatusSent:
			return models.StatusSent
		case models.StatusFailed:
			anyFailed = true
		}
	}
	if anyFailed {
		return models.StatusFailed
	}
	return models.StatusSuppressed
}
