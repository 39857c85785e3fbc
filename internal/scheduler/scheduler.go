// Package scheduler fires task executions on their declared cadence. It
// only decides when to fire; task semantics live in the runner. Jobs run in
// their own goroutines, so a slow task never blocks the next tick of an
// unrelated schedule, and missed ticks are skipped, never backfilled.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/pempem98/inventory-scanner/internal/runner"
	"github.com/pempem98/inventory-scanner/internal/schedule"
)

type Scheduler struct {
	inner gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	return &Scheduler{inner: s}, nil
}

// AddTask registers fire on the task's cadence. Exactly one of Cron or
// Every must be set.
func (s *Scheduler) AddTask(task runner.Task, fire func()) error {
	var def gocron.JobDefinition
	switch {
	case task.Cron != "" && task.Every != "":
		return fmt.Errorf("task %s: cron and every are mutually exclusive", task.Name)
	case task.Cron != "":
		if err := schedule.ParseCron(task.Cron); err != nil {
			return fmt.Errorf("task %s: parsing cron: %w", task.Name, err)
		}
		def = gocron.CronJob(task.Cron, false)
	case task.Every != "":
		d, err := schedule.ParseEvery(task.Every)
		if err != nil {
			return fmt.Errorf("task %s: parsing interval: %w", task.Name, err)
		}
		def = gocron.DurationJob(d)
	default:
		return fmt.Errorf("task %s: both cron and every are empty", task.Name)
	}

	_, err := s.inner.NewJob(
		def,
		gocron.NewTask(fire),
		gocron.WithName(task.Name),
	)
	if err != nil {
		return fmt.Errorf("task %s: registering job: %w", task.Name, err)
	}
	return nil
}

// AddEvery registers fn on a fixed interval, used for housekeeping jobs
// like the retention pruner.
func (s *Scheduler) AddEvery(name string, every time.Duration, fn func()) error {
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	_, err := s.inner.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.inner.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.inner.Shutdown()
}
