package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"constructlink/internal/service"
	"constructlink/internal/websocket"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OverdueLister returns the loans past their expected return.
type OverdueLister interface {
	Overdue(ctx context.Context, now time.Time) ([]service.TransferListItem, error)
}

// OverdueGauge reports the size of the last sweep.
type OverdueGauge interface {
	SetOverdue(n int)
}

// OverdueSweeper periodically looks for temporary transfers that should have
// come back and announces each one.
type OverdueSweeper struct {
	cron     *cron.Cron
	spec     string
	lister   OverdueLister
	notifier service.Notifier
	gauge    OverdueGauge
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
	running  bool
}

// NewOverdueSweeper validates the five-field cron spec and builds the sweeper.
func NewOverdueSweeper(spec string, lister OverdueLister, notifier service.Notifier, gauge OverdueGauge, logger *zap.Logger) (*OverdueSweeper, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid overdue schedule %q: %w", spec, err)
	}
	return &OverdueSweeper{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		spec:     spec,
		lister:   lister,
		notifier: notifier,
		gauge:    gauge,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start schedules the sweep. Jobs run with ctx until Stop is called.
func (s *OverdueSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("overdue sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Overdue sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule overdue sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Overdue sweeper started", zap.String("schedule", s.spec))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Overdue sweeper stopped")
}

// RunOnce performs a single sweep and returns how many loans are overdue.
func (s *OverdueSweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	items, err := s.lister.Overdue(ctx, now)
	if err != nil {
		return 0, err
	}

	for _, it := range items {
		s.logger.Warn("Temporary transfer overdue",
			zap.Int64("transfer_id", it.ID),
			zap.Int64("asset_id", it.AssetID),
			zap.Int64("to_project_id", it.ToProjectID),
			zap.Int("days_overdue", it.DaysOverdue))
		if s.notifier != nil {
			s.notifier.Publish(websocket.TransferEvent{
				Type:          websocket.EventOverdue,
				TransferID:    it.ID,
				FromProjectID: it.FromProjectID,
				ToProjectID:   it.ToProjectID,
				Status:        string(it.Status),
				ReturnStatus:  string(it.ReturnStatus),
				DaysOverdue:   it.DaysOverdue,
				At:            now.UTC(),
			})
		}
	}
	if s.gauge != nil {
		s.gauge.SetOverdue(len(items))
	}
	s.logger.Info("Overdue sweep finished", zap.Int("overdue", len(items)))
	return len(items), nil
}
