package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wagmii/core/internal/config"
)

// Runner starts a turn for one automation firing. The engine supplies the
// concrete implementation; the scheduler only knows it needs a thread id
// and a fixed prompt run against a working directory.
type Runner interface {
	RunAutomation(ctx context.Context, automation *Automation, cwd string) (threadID string, err error)
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, automation *Automation, cwd string) (string, error)

// RunAutomation calls the underlying function.
func (f RunnerFunc) RunAutomation(ctx context.Context, automation *Automation, cwd string) (string, error) {
	return f(ctx, automation, cwd)
}

// Scheduler ticks on an interval, fires any automation whose RRULE slot has
// passed since its last recorded run, and records the outcome. Firing is
// idempotent per (automation, slot): a restart that replays the same tick
// window will see the run already recorded and skip it.
type Scheduler struct {
	mu           sync.Mutex
	automations  map[string]*Automation
	store        *Store
	runner       Runner
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	wg      sync.WaitGroup
	started bool
}

// NewScheduler builds a scheduler from configuration, loading any
// previously persisted automations from store and merging in cfg.Jobs
// (config-declared jobs win on id collision, since they represent the
// operator's current intent).
func NewScheduler(cfg config.AutomationConfig, store *Store, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		automations:  make(map[string]*Automation),
		store:        store,
		runner:       runner,
		logger:       logger.With("component", "automation"),
		now:          time.Now,
		tickInterval: cfg.TickInterval,
	}
	if s.tickInterval <= 0 {
		s.tickInterval = 15 * time.Second
	}

	if store != nil {
		existing, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, a := range existing {
			if err := s.attachRule(a); err != nil {
				s.logger.Warn("dropping persisted automation with invalid rrule", "id", a.ID, "error", err)
				continue
			}
			s.automations[a.ID] = a
		}
	}

	for _, job := range cfg.Jobs {
		a, err := automationFromConfig(job)
		if err != nil {
			s.logger.Warn("automation job skipped", "id", job.ID, "error", err)
			continue
		}
		if err := s.attachRule(a); err != nil {
			s.logger.Warn("automation job skipped", "id", job.ID, "error", err)
			continue
		}
		s.automations[a.ID] = a
		if store != nil {
			if err := store.SaveAutomation(a); err != nil {
				return nil, fmt.Errorf("persist automation %s: %w", a.ID, err)
			}
		}
	}

	return s, nil
}

func automationFromConfig(job config.AutomationJobConfig) (*Automation, error) {
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return nil, errors.New("automation id required")
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return nil, errors.New("automation prompt required")
	}
	cwds := job.CWDs
	if len(cwds) == 0 {
		cwds = []string{"."}
	}
	return &Automation{
		ID:      id,
		Name:    job.Name,
		Prompt:  job.Prompt,
		RRule:   job.RRule,
		CWDs:    cwds,
		Enabled: true,
	}, nil
}

func (s *Scheduler) attachRule(a *Automation) error {
	rule, err := ParseRRule(a.RRule)
	if err != nil {
		return err
	}
	a.rule = rule
	if a.NextRun.IsZero() {
		a.NextRun = rule.NextAfter(s.now())
	}
	return nil
}

// Start begins the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	interval := s.tickInterval
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Wait blocks until the tick loop (started by Start) returns.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Tick fires every due automation once. Exposed directly for tests and for
// a manual "run now" API operation.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := make([]*Automation, 0)
	for _, a := range s.automations {
		if a.Enabled && !a.NextRun.IsZero() && !now.Before(a.NextRun) {
			due = append(due, a)
		}
	}
	s.mu.Unlock()

	fired := 0
	for _, a := range due {
		s.fire(ctx, a, a.NextRun)
		fired++
	}
	return fired
}

// RunNow fires automation id immediately regardless of its schedule,
// recording it under the current time as its slot.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	a, ok := s.automations[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("automation %s not found", id)
	}
	s.fire(ctx, a, s.now())
	return nil
}

func (s *Scheduler) fire(ctx context.Context, a *Automation, slot time.Time) {
	for _, cwd := range a.CWDs {
		if s.store != nil {
			runs, err := s.store.LoadRuns(a.ID)
			if err == nil && slotAlreadyRan(runs, slot, cwd) {
				continue
			}
		}
		s.fireOne(ctx, a, slot, cwd)
	}

	s.mu.Lock()
	a.LastRun = slot
	if a.rule != nil {
		a.NextRun = a.rule.NextAfter(slot)
	}
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveAutomation(a); err != nil {
			s.logger.Warn("failed to persist automation after firing", "id", a.ID, "error", err)
		}
	}
}

func slotAlreadyRan(runs []*Run, slot time.Time, cwd string) bool {
	for _, r := range runs {
		if r.CWD == cwd && r.Slot.Equal(slot) {
			return true
		}
	}
	return false
}

func (s *Scheduler) fireOne(ctx context.Context, a *Automation, slot time.Time, cwd string) {
	run := &Run{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		Slot:         slot,
		CWD:          cwd,
		Status:       RunRunning,
		StartedAt:    s.now(),
	}

	if s.runner == nil {
		run.Status = RunFailed
		run.Error = "no runner configured"
		s.recordRun(a, run)
		return
	}

	threadID, err := s.runner.RunAutomation(ctx, a, cwd)
	run.CompletedAt = s.now()
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		s.mu.Lock()
		a.LastError = err.Error()
		s.mu.Unlock()
		s.logger.Warn("automation run failed", "id", a.ID, "cwd", cwd, "error", err)
	} else {
		run.Status = RunSucceeded
		run.ThreadID = threadID
		s.mu.Lock()
		a.LastError = ""
		a.pushRecentRun(run.ID)
		s.mu.Unlock()
	}
	s.recordRun(a, run)
}

func (s *Scheduler) recordRun(a *Automation, run *Run) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendRun(run); err != nil {
		s.logger.Warn("failed to persist automation run", "id", a.ID, "run_id", run.ID, "error", err)
	}
}

// List returns a snapshot of all automations.
func (s *Scheduler) List() []*Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Automation, 0, len(s.automations))
	for _, a := range s.automations {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Get returns one automation by id.
func (s *Scheduler) Get(id string) (*Automation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// SetEnabled pauses or resumes an automation without deleting it.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	a, ok := s.automations[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("automation %s not found", id)
	}
	a.Enabled = enabled
	if enabled && a.rule != nil && a.NextRun.IsZero() {
		a.NextRun = a.rule.NextAfter(s.now())
	}
	s.mu.Unlock()
	if s.store != nil {
		return s.store.SaveAutomation(a)
	}
	return nil
}

// Create registers a new automation at runtime (the HTTP API path, as
// opposed to the config-declared jobs loaded at startup).
func (s *Scheduler) Create(job config.AutomationJobConfig) (*Automation, error) {
	a, err := automationFromConfig(job)
	if err != nil {
		return nil, err
	}
	if err := s.attachRule(a); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.automations[a.ID] = a
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveAutomation(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Delete removes an automation and its run history.
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	delete(s.automations, id)
	s.mu.Unlock()
	if s.store != nil {
		return s.store.DeleteAutomation(id)
	}
	return nil
}

// RunHistory returns the recorded runs for an automation, oldest first.
func (s *Scheduler) RunHistory(id string) ([]*Run, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.LoadRuns(id)
}
