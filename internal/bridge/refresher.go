package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// StateGetter is the interface the refresher uses to force state refreshes.
// Satisfied by the Orchestrator.
type StateGetter interface {
	GetState(ctx context.Context, sessionID string, forceRefresh bool) (json.RawMessage, error)
}

// Refresher keeps the state cache warm: on a cron schedule it issues a
// forced refresh for every registered session, best-effort. Disabled
// deployments simply never construct one.
type Refresher struct {
	registry *Registry
	states   StateGetter
	schedule cron.Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // session ids currently refreshing (dedup)
}

// NewRefresher parses the cron expression (standard five-field format) and
// creates a stopped refresher.
func NewRefresher(registry *Registry, states StateGetter, cronExpr string, logger *slog.Logger) (*Refresher, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse refresh cron expression %q: %w", cronExpr, err)
	}

	return &Refresher{
		registry: registry,
		states:   states,
		schedule: schedule,
		logger:   ensureLogger(logger),
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the background refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("refresher already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("cache refresher started")
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.tick(ctx)
		}
	}
}

// tick refreshes every registered session once, skipping sessions with a
// refresh already in flight.
func (r *Refresher) tick(ctx context.Context) {
	for _, sessionID := range r.registry.Sessions() {
		if !r.tryAcquire(sessionID) {
			continue // refresh still running (dedup)
		}

		go func(sid string) {
			defer r.release(sid)
			if _, err := r.states.GetState(ctx, sid, true); err != nil {
				r.logger.Warn("background state refresh failed",
					slog.String("session_id", sid),
					slog.String("error", err.Error()))
			}
		}(sessionID)
	}
}

// tryAcquire returns true and marks the session in-flight if it is not
// already refreshing.
func (r *Refresher) tryAcquire(sessionID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, ok := r.inflight[sessionID]; ok {
		return false
	}
	r.inflight[sessionID] = struct{}{}
	return true
}

func (r *Refresher) release(sessionID string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, sessionID)
}

// NextRun computes the next refresh time after the given instant.
func (r *Refresher) NextRun(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Stop gracefully shuts down the refresh loop.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("cache refresher stopped")
	return nil
}
