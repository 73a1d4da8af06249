package service

import (
	"context"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/sirupsen/logrus"
)

// MonitorService runs periodic housekeeping: it prunes dedup records older
// than the retention window and publishes subscription counts per status.
type MonitorService struct {
	subs      repository.SubscriptionStore
	metrics   *metrics.Metrics
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewMonitorService creates a new monitor service. The retention must
// outlast the processor's redelivery window, or a late duplicate would be
// applied again.
func NewMonitorService(subs repository.SubscriptionStore, m *metrics.Metrics, retention, interval time.Duration) *MonitorService {
	return &MonitorService{
		subs:      subs,
		metrics:   m,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Start begins the monitoring loop in a background goroutine.
func (s *MonitorService) Start(ctx context.Context) {
	// Start immediately, then ticker
	go func() {
		s.RunOnce(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single housekeeping pass.
func (s *MonitorService) RunOnce(ctx context.Context) {
	if s.retention > 0 {
		cutoff := s.now().Add(-s.retention)
		n, err := s.subs.PruneProcessed(ctx, cutoff)
		if err != nil {
			logrus.WithError(err).Warn("[Monitor] failed to prune processed events")
		} else if n > 0 {
			logrus.WithFields(logrus.Fields{"pruned": n, "cutoff": cutoff}).Info("[Monitor] pruned processed events")
			if s.metrics != nil {
				s.metrics.PrunedEvents.Add(float64(n))
			}
		}
	}

	counts, err := s.subs.CountByStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[Monitor] failed to count subscriptions")
		return
	}
	if s.metrics == nil {
		return
	}
	for _, st := range []domain.Status{
		domain.StatusTrialing, domain.StatusActive, domain.StatusPastDue,
		domain.StatusCanceled, domain.StatusIncomplete,
	} {
		s.metrics.Subscriptions.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
