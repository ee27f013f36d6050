package corpus

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler re-ingests corpora on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	ingester *Ingester
	logger   *zap.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(ingester *Ingester, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ingester: ingester,
		logger:   logger,
	}
}

// Add schedules ingestion of paths into corpus. spec is a standard
// five-field cron expression or a descriptor such as "@daily".
func (s *Scheduler) Add(spec, corpus string, paths []string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.ingester.IngestFiles(context.Background(), corpus, paths); err != nil {
			s.logger.Error("scheduled ingestion failed", zap.String("corpus", corpus), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
