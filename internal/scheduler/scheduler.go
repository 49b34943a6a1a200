package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/config"
	"github.com/mamadbah2/stockledger/internal/domain/models"
)

const jobTimeout = 2 * time.Minute

// ReportJob builds and publishes a stock report.
type ReportJob interface {
	GenerateAndPublish(ctx context.Context, now time.Time) (models.StockReport, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	reports  ReportJob
	schedule string
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewScheduler creates a new scheduler running in the configured time zone.
func NewScheduler(cfg config.ReportingConfig, reports ReportJob, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := cfg.Location()
	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:     c,
		reports:  reports,
		schedule: cfg.CronSchedule,
		location: loc,
		now:      time.Now,
		logger:   logger,
	}
}

// Start registers the report job and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("schedule", s.schedule), zap.String("timezone", s.location.String()))

	if _, err := s.cron.AddFunc(s.schedule, s.runStockReport); err != nil {
		return fmt.Errorf("failed to schedule stock report: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("stopping scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop interrupted before running job finished")
	}
}

func (s *Scheduler) runStockReport() {
	s.logger.Info("generating stock report")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := s.reports.GenerateAndPublish(ctx, s.now().In(s.location))
	if err != nil {
		s.logger.Error("failed to publish stock report", zap.Error(err))
		return
	}

	s.logger.Info("stock report published",
		zap.Int("products", report.ProductCount),
		zap.Int("inconsistent", report.InconsistentCount))
}
