package sync

import (
	"context"
	"errors"
	"time"

	"github.com/ivolkov/shelfsync/internal/client/netmon"
	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/shared"
)

// Scheduler triggers sync cycles on an interval while the device is online.
type Scheduler struct {
	svc      *Service
	monitor  netmon.Monitor
	interval time.Duration
	logger   logging.Logger
}

// NewScheduler returns a scheduler over the service.
func NewScheduler(svc *Service, monitor netmon.Monitor, interval time.Duration, logger logging.Logger) *Scheduler {
	return &Scheduler{svc: svc, monitor: monitor, interval: interval, logger: logger}
}

// Run loops until the context is cancelled. A cycle skipped for being offline
// or coalesced with a running one is not an error.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "sync scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.Background(), "sync scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.monitor.Status().IsOnline {
		return
	}
	result, err := s.svc.Sync(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrorOffline) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error(ctx, "scheduled sync failed", "error", err.Error())
		return
	}
	if !result.Coalesced && (result.Pulled > 0 || result.SyncedEvents > 0 || result.ConflictsCreated > 0) {
		s.logger.Info(ctx, "scheduled sync applied changes",
			"pulled", result.Pulled, "synced", result.SyncedEvents, "conflicts", result.ConflictsCreated)
	}
}
