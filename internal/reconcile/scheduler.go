package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
)

// Scheduler runs the engine on a cron schedule and on demand. Overlapping
// triggers are skipped rather than queued.
type Scheduler struct {
	engine     *Engine
	commit     CommitFunc
	cron       *cron.Cron
	schedule   string
	runOnStart bool
	logger     logger.Logger
}

func NewScheduler(engine *Engine, commit CommitFunc, cfg config.ReconcileConfig, log logger.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		engine: engine,
		commit: commit,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		schedule:   cfg.Schedule,
		runOnStart: cfg.RunOnStart,
		logger:     log,
	}
}

// Run blocks until ctx is done, then waits for an in-flight run to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Trigger(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}

	if s.runOnStart {
		s.Trigger(ctx)
	}

	s.cron.Start()
	s.logger.Infow("Reconcile scheduler started", "schedule", s.schedule)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Reconcile scheduler stopped")
	return nil
}

// Trigger runs the engine once, used on startup and when the host app comes
// to the foreground.
func (s *Scheduler) Trigger(ctx context.Context) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	result, err := s.engine.RunOnce(ctx, s.commit)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Reconciliation run failed", "run_id", result.RunID, "error", err)
	}
	return result, err
}

type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
