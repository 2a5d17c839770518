package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/nanostyle/internal/store"
)

// DefaultSweepSchedule runs the idle-session sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// SweepExpired deletes sessions idle for longer than ttl and returns how many
// were removed. In-flight mutations finish before the sweep starts, and new
// ones wait for it.
func (s *Service) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	cutoff := s.now().Add(-ttl)
	n, err := s.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions idle since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	s.pruneLocks(ctx)
	return int(n), nil
}

// pruneLocks forgets per-session locks whose session no longer exists.
func (s *Service) pruneLocks(ctx context.Context) {
	s.locks.Range(func(key, _ any) bool {
		id := key.(string)
		if _, err := s.store.Get(ctx, id); errors.Is(err, store.ErrNotFound) {
			s.locks.Delete(id)
		}
		return ctx.Err() == nil
	})
}

// Sweeper runs SweepExpired on a cron schedule.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules the sweep and starts the scheduler. The scheduler
// stops when ctx is cancelled or Stop is called.
func StartSweeper(ctx context.Context, svc *Service, schedule string, ttl time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed, err := svc.SweepExpired(ctx, ttl)
		if err != nil {
			slog.Error("session sweep failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("session sweep completed", "removed", removed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule session sweep %q: %w", schedule, err)
	}

	c.Start()
	slog.Info("session sweeper started", "schedule", schedule, "ttl", ttl)

	sw := &Sweeper{cron: c}
	go func() {
		<-ctx.Done()
		sw.Stop()
		slog.Info("session sweeper shutting down", "reason", ctx.Err())
	}()
	return sw, nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (sw *Sweeper) Stop() {
	<-sw.cron.Stop().Done()
}
