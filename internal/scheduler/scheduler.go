// Package scheduler runs the ledger's periodic maintenance jobs: sweeping
// expired event-calendar cache rows and trimming stale in-memory alerts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	eventdomain "github.com/andora/tokenledger/internal/eventcache/domain"
	monitoringservice "github.com/andora/tokenledger/internal/monitoring/service"

	"github.com/andora/tokenledger/internal/clock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler requires db-backed services, a logger, an id node and a clock")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	EventCache eventdomain.Service
	Monitoring *monitoringservice.Engine
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	eventCache eventdomain.Service
	monitoring *monitoringservice.Engine
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.EventCache == nil || p.Monitoring == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		eventCache: p.EventCache,
		monitoring: p.Monitoring,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	runID := s.genID.Generate().String()
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", runID),
	)
	log.Info("scheduler.job.start")
	start := s.clock.Now()

	err := fn(ctx)
	fields := []zap.Field{zap.Int64("duration_ms", s.clock.Now().Sub(start).Milliseconds())}
	if err == nil {
		log.Info("scheduler.job.finish", fields...)
		return nil
	}

	// A deadline is a soft timeout, not a run failure.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("scheduler.job.timeout", append(fields, zap.Error(err))...)
		return nil
	}
	log.Error("scheduler.job.finish", append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	if s.isJobEnabled("purge_event_cache") {
		err = errors.Join(err, s.runJob(parent, "purge_event_cache", s.PurgeEventCacheJob))
	}
	if s.isJobEnabled("trim_alerts") {
		err = errors.Join(err, s.runJob(parent, "trim_alerts", s.TrimAlertsJob))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) PurgeEventCacheJob(ctx context.Context) error {
	removed, err := s.eventCache.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.log.Info("event cache swept", zap.Int64("removed", removed))
	}
	return nil
}

func (s *Scheduler) TrimAlertsJob(context.Context) error {
	if removed := s.monitoring.TrimExpiredAlerts(); removed > 0 {
		s.log.Info("stale alerts trimmed", zap.Int("removed", removed))
	}
	return nil
}
