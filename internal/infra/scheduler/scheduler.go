package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled sync.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// SyncScheduler runs sync jobs on their cron specs. A job never overlaps itself:
// a tick arriving while the previous run is still going is skipped.
type SyncScheduler struct {
	cronEngine *cron.Cron
	logger     logrus.FieldLogger
	jobs       []Job

	// ctx is the parent of every run; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSyncScheduler(logger logrus.FieldLogger, loc *time.Location, jobs ...Job) *SyncScheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		ctx:        ctx,
		cancel:     cancel,
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
		jobs:   jobs,
	}
}

// Start registers every job and starts the cron engine.
func (s *SyncScheduler) Start() error {
	s.logger.Info("Starting sync scheduler...")
	for _, job := range s.jobs {
		if _, err := s.cronEngine.AddFunc(job.Spec, func() { s.execute(job) }); err != nil {
			return fmt.Errorf("could not add %s cron job: %w", job.Name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.Name, "spec": job.Spec}).Info("Sync job scheduled")
	}
	s.cronEngine.Start()
	return nil
}

func (s *SyncScheduler) execute(job Job) {
	logger := s.logger.WithField("job", job.Name)
	logger.Info("Cron job triggered")

	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	if err := job.Run(ctx); err != nil {
		logger.WithError(err).Error("Scheduled sync failed")
		return
	}
	logger.Info("Scheduled sync finished")
}

// Stop stops scheduling new runs, cancels the running ones and waits for them.
func (s *SyncScheduler) Stop() {
	s.logger.Info("Stopping sync scheduler...")
	s.cancel()
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info("Sync scheduler gracefully stopped.")
}
