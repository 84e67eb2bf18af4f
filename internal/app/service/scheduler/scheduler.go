package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/metrics"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

// Scheduler periodically scans subscriptions nearing or past expiry and
// feeds synthetic ReminderDue/ExpiryDue events into the same intake as
// webhook events. Emission is idempotent: a rescan after a prior transition
// simply no-ops inside the state machine, so overlapping deliveries and
// restarts are harmless. All comparisons are wall-clock against stored
// timestamps, never elapsed counters that reset on restart.
type Scheduler struct {
	db   *gorm.DB
	cfg  *cfgpkg.Config
	clk  clock.Clock
	sink lifecycle.Sink
	log  *zap.SugaredLogger

	// tickMu enforces single-flight: a slow tick delays the next one
	// instead of overlapping with itself.
	tickMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

func New(db *gorm.DB, cfg *cfgpkg.Config, clk clock.Clock, sink lifecycle.Sink, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		db:   db,
		cfg:  cfg,
		clk:  clk,
		sink: sink,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Scheduler.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
	s.log.Infow("scheduler started", "interval", s.cfg.Scheduler.Interval)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.log.Debugw("scheduler tick skipped, previous still running")
		return
	}
	defer s.tickMu.Unlock()

	if err := s.Scan(ctx); err != nil {
		s.log.Errorw("scheduler scan failed", "err", err)
	}
}

// Scan runs one full reminder+expiry pass. Exported so tests and the admin
// API can trigger it directly.
func (s *Scheduler) Scan(ctx context.Context) error {
	now := s.clk.Now()
	if err := s.scanReminders(ctx, now); err != nil {
		return err
	}
	return s.scanExpiries(ctx, now)
}

// scanReminders emits ReminderDue for active subscriptions inside the
// reminder window that have not been reminded within the cadence. The
// window bound is widened to the largest per-channel override; the state
// machine re-checks the effective window per subscription.
func (s *Scheduler) scanReminders(ctx context.Context, now time.Time) error {
	window := s.cfg.Lifecycle.ReminderWindow
	var maxOverrideDays int
	if err := s.db.WithContext(ctx).Model(&models.Channel{}).
		Select("COALESCE(MAX(reminder_days_override), 0)").
		Scan(&maxOverrideDays).Error; err != nil {
		return fmt.Errorf("max reminder override: %w", err)
	}
	if override := time.Duration(maxOverrideDays) * 24 * time.Hour; override > window {
		window = override
	}

	var due []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ?",
			types.SubscriptionStatusActive, now, now.Add(window)).
		Where("last_reminded_at IS NULL OR last_reminded_at <= ?", now.Add(-s.cfg.Lifecycle.ReminderCadence)).
		Limit(s.cfg.Scheduler.BatchSize).
		Find(&due).Error
	if err != nil {
		return fmt.Errorf("scan reminders: %w", err)
	}

	for i := range due {
		s.emit(ctx, due[i].ID, types.EventKindReminderDue, now)
	}
	return nil
}

// scanExpiries emits ExpiryDue for active subscriptions past expires_at and
// grace subscriptions past grace_until.
func (s *Scheduler) scanExpiries(ctx context.Context, now time.Time) error {
	var lapsed []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", types.SubscriptionStatusActive, now).
		Or("status = ? AND grace_until <= ?", types.SubscriptionStatusGracePeriod, now).
		Limit(s.cfg.Scheduler.BatchSize).
		Find(&lapsed).Error
	if err != nil {
		return fmt.Errorf("scan expiries: %w", err)
	}

	for i := range lapsed {
		s.emit(ctx, lapsed[i].ID, types.EventKindExpiryDue, now)
	}
	return nil
}

// emit submits one synthetic event. Scheduler events carry no provider
// event id and are not deduplicated; failures are logged and the scan
// continues, the next tick retries naturally.
func (s *Scheduler) emit(ctx context.Context, subscriptionID string, kind types.EventKind, now time.Time) {
	ev := &models.SubscriptionEvent{
		ID:             tool.GenerateUUIDV7(),
		Kind:           kind,
		SubscriptionID: subscriptionID,
		Source:         types.EventSourceScheduler,
		OccurredAt:     now,
	}
	if err := s.sink.Submit(ctx, ev); err != nil {
		s.log.Errorw("scheduler event submit failed",
			"subscription_id", subscriptionID, "kind", kind, "err", err)
		return
	}
	metrics.SchedulerEmitted.WithLabelValues(string(kind)).Inc()
}
