// Package orchestrator owns the opsd startup sequence: wait for external
// dependencies, bring up the supervised background processes, start the
// task scheduler, then hold the foreground health/metrics server until the
// process is told to stop. Supervisor and pruner failures are logged, never
// fatal; the automation layer keeps running and retries on its next natural
// trigger.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pempem98/inventory-scanner/internal/config"
	"github.com/pempem98/inventory-scanner/internal/metrics"
	"github.com/pempem98/inventory-scanner/internal/notify"
	"github.com/pempem98/inventory-scanner/internal/proclock"
	"github.com/pempem98/inventory-scanner/internal/readiness"
	"github.com/pempem98/inventory-scanner/internal/retention"
	"github.com/pempem98/inventory-scanner/internal/runner"
	"github.com/pempem98/inventory-scanner/internal/schedule"
	"github.com/pempem98/inventory-scanner/internal/scheduler"
	"github.com/pempem98/inventory-scanner/internal/supervisor"
)

type Orchestrator struct {
	cfg   config.Config
	sup   *supervisor.Supervisor
	run   *runner.Runner
	sched *scheduler.Scheduler

	mx   sync.Mutex
	addr string
}

func New(cfg config.Config) (*Orchestrator, error) {
	locks, err := proclock.NewStore(cfg.Paths.PIDs)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(locks, cfg.Paths.Logs, supervisor.Options{
		StopTimeout: cfg.Supervisor.StopTimeout,
		SettleDelay: cfg.Supervisor.SettleDelay,
	})

	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		return nil, fmt.Errorf("initializing notifier: %w", err)
	}
	var notifier runner.Notifier
	if tg != nil {
		notifier = tg
	}

	run := runner.New(cfg.Paths.Logs, notifier)

	o := &Orchestrator{cfg: cfg, sup: sup, run: run}

	sched, err := scheduler.New()
	if err != nil {
		return nil, err
	}
	for _, task := range cfg.Tasks {
		if task.Cron == "" && task.Every == "" {
			slog.Warn("task has no schedule, only runnable manually", "task", task.Name)
			continue
		}
		if err := sched.AddTask(task, func() {
			if _, err := run.Run(context.Background(), task); err != nil {
				slog.Error("scheduled run failed", "task", task.Name, "error", err)
			}
		}); err != nil {
			return nil, err
		}
	}

	pruneEvery := 24 * time.Hour
	if cfg.Retention.Every != "" {
		d, err := schedule.ParseEvery(cfg.Retention.Every)
		if err != nil {
			return nil, fmt.Errorf("retention.every: %w", err)
		}
		pruneEvery = d
	}
	if err := sched.AddEvery("retention-prune", pruneEvery, func() {
		if err := o.PruneAll(context.Background()); err != nil {
			slog.Error("retention pass reported failures", "error", err)
		}
	}); err != nil {
		return nil, err
	}
	o.sched = sched

	return o, nil
}

// Supervisor exposes the process supervisor for the CLI verbs.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor { return o.sup }

// Runner exposes the task runner for the CLI run verb.
func (o *Orchestrator) Runner() *runner.Runner { return o.run }

// Task looks up a configured task by name.
func (o *Orchestrator) Task(name string) (runner.Task, bool) {
	for _, t := range o.cfg.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return runner.Task{}, false
}

// PruneAll runs one retention pass over the logs and backups roots. Each
// root is pruned independently; failures are joined, not fatal.
func (o *Orchestrator) PruneAll(ctx context.Context) error {
	maxAge := retention.Days(o.cfg.Retention.Days)
	var errs []error
	for _, root := range []string{o.cfg.Paths.Logs, o.cfg.Paths.Backups} {
		report, err := retention.Prune(ctx, root, maxAge)
		if err != nil {
			errs = append(errs, err)
		}
		slog.InfoContext(ctx, "retention pass finished", "root", root, "deleted", len(report.Deleted), "kept", report.Kept)
	}
	return errors.Join(errs...)
}

// Up runs the full startup sequence and blocks until ctx is cancelled.
func (o *Orchestrator) Up(ctx context.Context) error {
	if err := o.waitForDependencies(ctx); err != nil {
		return err
	}

	for _, name := range processOrder(o.cfg.Supervisor.Processes) {
		proc := o.cfg.Supervisor.Processes[name]
		status, err := o.sup.Start(ctx, name, supervisor.Command{
			Path: proc.Path,
			Args: proc.Args,
			Env:  proc.Env,
		})
		if err != nil {
			// Keep going: a broken background process must not take the
			// automation layer down with it.
			slog.ErrorContext(ctx, "supervised process failed to start", "process", name, "error", err)
			continue
		}
		slog.InfoContext(ctx, "supervised process", "process", name, "status", string(status))
	}

	o.sched.Start()
	defer func() {
		if err := o.sched.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "scheduler shutdown failed", "error", err)
		}
	}()

	return o.serve(ctx)
}

func (o *Orchestrator) waitForDependencies(ctx context.Context) error {
	opts := readiness.Options{
		MaxAttempts: o.cfg.Readiness.MaxAttempts,
		Interval:    o.cfg.Readiness.Interval,
	}

	if dsn := o.cfg.Database.DSN; dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			_ = db.Close()
		}()
		if err := readiness.WaitForDatabase(ctx, db, opts); err != nil {
			return err
		}
	}

	if brokerURL := o.cfg.Broker.URL; brokerURL != "" {
		ropts, err := redis.ParseURL(brokerURL)
		if err != nil {
			return fmt.Errorf("parsing broker url: %w", err)
		}
		client := redis.NewClient(ropts)
		defer func() {
			_ = client.Close()
		}()
		if err := readiness.WaitForBroker(ctx, client, opts); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", o.cfg.Server.Addr, err)
	}
	o.mx.Lock()
	o.addr = ln.Addr().String()
	o.mx.Unlock()

	server := &http.Server{Handler: newRouter()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "foreground server listening", "addr", ln.Addr().String())
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// BoundAddr reports the listener address once Up has bound it. Empty until
// then.
func (o *Orchestrator) BoundAddr() string {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.addr
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// processOrder starts the worker before beat, matching the dependency order
// of the original deployment, then any extras alphabetically.
func processOrder(procs map[string]config.Process) []string {
	var rest []string
	for name := range procs {
		if name != "worker" && name != "beat" {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	var order []string
	if _, ok := procs["worker"]; ok {
		order = append(order, "worker")
	}
	if _, ok := procs["beat"]; ok {
		order = append(order, "beat")
	}
	return append(order, rest...)
}
