package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/config"
)

const (
	sweepJob = "pending-sweep"
	auditJob = "valuation-audit"
)

// PendingSweeper settles pending sales older than a grace period.
type PendingSweeper interface {
	SweepPending(ctx context.Context, grace time.Duration) (int, error)
}

// ValuationAuditor repairs drifted stock valuations.
type ValuationAuditor interface {
	AuditValuations(ctx context.Context) (int, error)
}

// Scheduler runs the reconciliation jobs. With a locker set, only one instance runs a job
// at a time across replicas.
type Scheduler struct {
	cron    *cron.Cron
	sweeper PendingSweeper
	auditor ValuationAuditor
	locker  *redislock.Client
	cfg     config.SchedulerConfig
	logger  *zap.Logger
}

// NewScheduler creates a new scheduler instance. locker may be nil.
func NewScheduler(cfg config.SchedulerConfig, sweeper PendingSweeper, auditor ValuationAuditor, locker *redislock.Client, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []cron.Option{}
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		opts = append(opts, cron.WithLocation(loc))
	} else if cfg.Timezone != "" {
		logger.Warn("unknown timezone, using local time", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	return &Scheduler{
		cron:    cron.New(opts...),
		sweeper: sweeper,
		auditor: auditor,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("reconcile_cron", s.cfg.ReconcileCron),
		zap.String("audit_cron", s.cfg.ValuationAuditCron))

	if _, err := s.cron.AddFunc(s.cfg.ReconcileCron, s.sweepPending); err != nil {
		return fmt.Errorf("failed to schedule pending sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ValuationAuditCron, s.auditValuations); err != nil {
		return fmt.Errorf("failed to schedule valuation audit: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepPending() {
	s.runExclusive(sweepJob, s.cfg.JobTimeout, func(ctx context.Context) error {
		settled, err := s.sweeper.SweepPending(ctx, s.cfg.PendingGrace)
		if settled > 0 {
			s.logger.Info("pending sales settled", zap.Int("count", settled))
		}
		return err
	})
}

func (s *Scheduler) auditValuations() {
	s.runExclusive(auditJob, s.cfg.JobTimeout, func(ctx context.Context) error {
		_, err := s.auditor.AuditValuations(ctx)
		return err
	})
}

// runExclusive runs job under a redis lock named after it. A lock held elsewhere skips the run.
func (s *Scheduler) runExclusive(name string, timeout time.Duration, job func(ctx context.Context) error) bool {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "lounge:scheduler:"+name, timeout, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.Debug("job already running elsewhere", zap.String("job", name))
			return false
		}
		if err != nil {
			s.logger.Warn("could not obtain job lock; running anyway", zap.String("job", name), zap.Error(err))
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					s.logger.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return true
	}
	s.logger.Debug("scheduled job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	return true
}
