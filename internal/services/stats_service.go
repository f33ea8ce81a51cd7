package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"event-ticket/internal/realtime"
	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
	"event-ticket/monitoring"

	"golang.org/x/sync/singleflight"
)

type StatsService struct {
	store   store.Store
	broker  realtime.Broker
	monitor *monitoring.Monitor
	group   singleflight.Group
	now     func() time.Time
}

func NewStatsService(st store.Store, broker realtime.Broker, monitor *monitoring.Monitor) *StatsService {
	return &StatsService{
		store:   st,
		broker:  broker,
		monitor: monitor,
		now:     time.Now,
	}
}

// Compute recounts scanned and total tickets of an event. Callers asking for
// the same event at the same time share one recount. The shared recount runs
// detached from the caller that started it; each caller stops waiting when
// its own ctx is done.
func (s *StatsService) Compute(ctx context.Context, eventID string) (models.ScanStats, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(eventID, func() (any, error) {
		return s.compute(shared, eventID)
	})

	select {
	case <-ctx.Done():
		return models.ScanStats{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.ScanStats{}, res.Err
		}
		return res.Val.(models.ScanStats), nil
	}
}

// Refresh recounts after a write and publishes the result. It does not join
// a recount already in flight, which may predate the write.
func (s *StatsService) Refresh(ctx context.Context, eventID string) (models.ScanStats, error) {
	stats, err := s.compute(ctx, eventID)
	if err != nil {
		return models.ScanStats{}, err
	}
	if err := s.Publish(ctx, stats); err != nil {
		slog.Warn("Failed to publish scan stats", "error", err, "event_id", eventID)
	}
	return stats, nil
}

func (s *StatsService) Publish(ctx context.Context, stats models.ScanStats) error {
	if s.broker == nil {
		return nil
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, realtime.StatsTopic(stats.EventID), payload)
}

func (s *StatsService) compute(ctx context.Context, eventID string) (models.ScanStats, error) {
	start := time.Now()
	tickets, err := s.store.ListTicketsForEvent(ctx, eventID)
	s.monitor.ObserveStore("list_tickets_for_event", start)
	if err != nil {
		return models.ScanStats{}, status.Unavailable(err)
	}

	stats := models.ScanStats{
		EventID:    eventID,
		TotalCount: len(tickets),
		ComputedAt: s.now(),
	}
	for _, t := range tickets {
		if t.IsScanned {
			stats.ScannedCount++
		}
	}
	s.monitor.TrackScanProgress(stats)
	return stats, nil
}

// Watch subscribes to stats updates of an event. The subscription yields
// Loading, then the current stats or the error computing them, then every
// published update. It ends when Close is called or ctx is done.
func (s *StatsService) Watch(ctx context.Context, eventID string) (*StatsSubscription, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("stats: no broker configured")
	}
	// Subscribe before the initial recount so no update falls in between.
	sub, err := s.broker.Subscribe(ctx, realtime.StatsTopic(eventID))
	if err != nil {
		return nil, status.Unavailable(err)
	}

	ss := &StatsSubscription{
		eventID:  eventID,
		sub:      sub,
		out:      make(chan models.Resource[models.ScanStats], 4),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go ss.run(ctx, s)
	return ss, nil
}

type StatsSubscription struct {
	eventID  string
	sub      realtime.Subscription
	out      chan models.Resource[models.ScanStats]
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func (ss *StatsSubscription) C() <-chan models.Resource[models.ScanStats] {
	return ss.out
}

// Close unsubscribes and waits until C is closed. It is safe to call more
// than once.
func (ss *StatsSubscription) Close() {
	ss.once.Do(func() {
		close(ss.done)
		if err := ss.sub.Close(); err != nil {
			slog.Warn("Failed to close stats subscription", "error", err, "event_id", ss.eventID)
		}
	})
	<-ss.finished
}

func (ss *StatsSubscription) run(ctx context.Context, s *StatsService) {
	defer close(ss.finished)
	defer close(ss.out)
	defer ss.sub.Close()

	if !ss.send(ctx, models.Loading[models.ScanStats]()) {
		return
	}

	initial, err := s.Compute(ctx, ss.eventID)
	if err != nil {
		if !ss.send(ctx, models.Failure[models.ScanStats](err)) {
			return
		}
	} else if !ss.send(ctx, models.Success(initial)) {
		return
	}

	for {
		select {
		case payload, ok := <-ss.sub.C():
			if !ok {
				return
			}
			var stats models.ScanStats
			var res models.Resource[models.ScanStats]
			if err := json.Unmarshal(payload, &stats); err != nil {
				res = models.Failure[models.ScanStats](fmt.Errorf("decode stats update: %w", err))
			} else {
				res = models.Success(stats)
			}
			if !ss.send(ctx, res) {
				return
			}
		case <-ss.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (ss *StatsSubscription) send(ctx context.Context, res models.Resource[models.ScanStats]) bool {
	select {
	case ss.out <- res:
		return true
	case <-ss.done:
		return false
	case <-ctx.Done():
		return false
	}
}
