package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bissquit/incident-responder/internal/domain"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var remindersSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "incidentresponder",
		Subsystem: "reminder",
		Name:      "sent_total",
		Help:      "Reminders posted to incident channels, by reminder name.",
	},
	[]string{"name"},
)

// IncidentLister enumerates the incidents a sweep inspects.
type IncidentLister interface {
	ListOpenIncidents(ctx context.Context) ([]*domain.Incident, error)
}

// ChannelPoster posts a message into an incident's comms channel.
type ChannelPoster interface {
	PostInChannel(ctx context.Context, inc *domain.Incident, text string) error
}

// Scheduler walks all open incidents on a fixed tick and fires whichever
// reminders have come due. A tick that overlaps a still-running sweep is
// skipped; sweeps always run to completion.
type Scheduler struct {
	incidents   IncidentLister
	poster      ChannelPoster
	store       Store
	definitions []Definition

	running sync.Mutex
	now     func() time.Time
}

func NewScheduler(incidents IncidentLister, poster ChannelPoster, store Store, definitions []Definition) *Scheduler {
	return &Scheduler{
		incidents:   incidents,
		poster:      poster,
		store:       store,
		definitions: definitions,
		now:         time.Now,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) {
	logger := ctxlog.FromContext(ctx)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			if !s.running.TryLock() {
				logger.Warn("reminder sweep still running, skipping tick")
				continue
			}
			if err := s.sweep(ctx); err != nil {
				logger.Error("reminder sweep failed", "error", err)
			}
			s.running.Unlock()
		}
	}
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.running.Lock()
	defer s.running.Unlock()
	return s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) error {
	open, err := s.incidents.ListOpenIncidents(ctx)
	if err != nil {
		return fmt.Errorf("list open incidents: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	for _, inc := range open {
		for _, def := range s.definitions {
			if err := s.check(ctx, inc, def); err != nil {
				logger.Error("reminder check failed",
					"incident_id", inc.ID,
					"reminder", def.Name,
					"error", err,
				)
			}
		}
	}
	return nil
}

// check evaluates one reminder against one incident and sends it when
// due. The attempt counter moves only on an actual send.
func (s *Scheduler) check(ctx context.Context, inc *domain.Incident, def Definition) error {
	now := s.now()

	if !s.withinSendWindow(def, now) {
		return nil
	}

	state, err := s.store.Get(ctx, inc.ID, def.Name)
	if err != nil {
		return err
	}
	if def.MaxAttempts > 0 && state.AttemptCount >= def.MaxAttempts {
		return nil
	}

	since := inc.StartTime
	if state.LastFiredAt != nil {
		since = *state.LastFiredAt
	}
	if now.Sub(since) < def.Interval {
		return nil
	}

	text, err := def.Message(ctx, inc)
	if err != nil || text == "" {
		return err
	}
	if def.Single && text == state.LastFingerprint {
		return nil
	}

	if err := s.poster.PostInChannel(ctx, inc, text); err != nil {
		return fmt.Errorf("post reminder: %w", err)
	}
	remindersSentTotal.WithLabelValues(def.Name).Inc()

	state.LastFiredAt = &now
	state.AttemptCount++
	state.LastFingerprint = text
	if err := s.store.Put(ctx, state); err != nil {
		return err
	}

	if def.After != nil {
		return def.After(ctx, inc)
	}
	return nil
}

func (s *Scheduler) withinSendWindow(def Definition, now time.Time) bool {
	if def.WorkdaysOnly {
		if day := now.Weekday(); day == time.Saturday || day == time.Sunday {
			return false
		}
	}
	if def.HourStart != 0 || def.HourEnd != 0 {
		if hour := now.Hour(); hour < def.HourStart || hour >= def.HourEnd {
			return false
		}
	}
	return true
}
