package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/angelmondragon/notekeep-notifications/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the poller.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Metrics  *metrics.JobMetrics
	Interval time.Duration
	// SkipInitial suppresses the cycle that normally runs as soon as Run starts.
	SkipInitial bool
}

// Service runs registered jobs on a fixed cadence and on demand.
type Service struct {
	logg        *logger.Logger
	registry    *Registry
	metrics     *metrics.JobMetrics
	interval    time.Duration
	skipInitial bool
	trigger     chan struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:        params.Logger,
		registry:    registry,
		metrics:     params.Metrics,
		interval:    interval,
		skipInitial: params.SkipInitial,
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Trigger requests an out-of-band cycle. Requests made while one is already
// pending are coalesced.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run loops until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithField(ctx, "component", "poller")
	if !s.skipInitial {
		s.runCycle(ctx, "startup")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "poller context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx, "interval")
		case <-s.trigger:
			s.runCycle(ctx, "trigger")
			ticker.Reset(s.interval)
		}
	}
}

func (s *Service) runCycle(ctx context.Context, reason string) {
	ctx = s.logg.WithField(ctx, "reason", reason)
	s.logg.Debug(ctx, "poll cycle starting")
	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "poller.job",
	})
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Debug(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}
