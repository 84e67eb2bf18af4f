package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

// captureSink records submitted events instead of running transitions.
type captureSink struct {
	mu     sync.Mutex
	events []*models.SubscriptionEvent
}

func (s *captureSink) Submit(_ context.Context, ev *models.SubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) byKind(kind types.EventKind) []*models.SubscriptionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SubscriptionEvent
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Channel{}, &models.Subscription{}))
	return db
}

func testConfig() *cfgpkg.Config {
	return &cfgpkg.Config{
		Lifecycle: cfgpkg.LifecycleConfig{
			GraceWindow:     72 * time.Hour,
			ReminderWindow:  48 * time.Hour,
			ReminderCadence: 24 * time.Hour,
		},
		Scheduler: cfgpkg.SchedulerConfig{Interval: time.Minute, BatchSize: 100},
	}
}

func seedSub(t *testing.T, db *gorm.DB, status types.SubscriptionStatus, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()
	ch := &models.Channel{ID: tool.GenerateUUIDV7(), Name: "Alpha", TelegramChatID: "-100" + tool.GenerateUUIDV7()[28:], IsActive: true}
	require.NoError(t, db.Create(ch).Error)
	sub := &models.Subscription{
		ID:              tool.GenerateUUIDV7(),
		UserID:          "u-1",
		ChannelID:       ch.ID,
		PlanID:          tool.GenerateUUIDV7(),
		Status:          status,
		MembershipState: types.MembershipStateNotGranted,
		TelegramUserID:  "42",
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestScan_EmitsReminderInsideWindow(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	sink := &captureSink{}
	s := New(db, testConfig(), clk, sink, zap.NewNop().Sugar())

	inWindow := seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(30 * time.Hour)
		sub.ExpiresAt = &e
	})
	seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(10 * 24 * time.Hour)
		sub.ExpiresAt = &e
	})

	require.NoError(t, s.Scan(context.Background()))

	reminders := sink.byKind(types.EventKindReminderDue)
	require.Len(t, reminders, 1)
	assert.Equal(t, inWindow.ID, reminders[0].SubscriptionID)
	assert.Equal(t, types.EventSourceScheduler, reminders[0].Source)
	assert.Nil(t, reminders[0].ProviderEventID)
}

func TestScan_ReminderCadenceSuppressesRepeat(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	sink := &captureSink{}
	s := New(db, testConfig(), clk, sink, zap.NewNop().Sugar())

	seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(30 * time.Hour)
		r := now.Add(-2 * time.Hour)
		sub.ExpiresAt = &e
		sub.LastRemindedAt = &r
	})

	require.NoError(t, s.Scan(context.Background()))
	assert.Empty(t, sink.byKind(types.EventKindReminderDue))

	// A day later the cadence has elapsed.
	clk.Advance(25 * time.Hour)
	require.NoError(t, s.Scan(context.Background()))
	assert.Len(t, sink.byKind(types.EventKindReminderDue), 1)
}

func TestScan_ChannelOverrideWidensWindow(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	sink := &captureSink{}
	s := New(db, testConfig(), clk, sink, zap.NewNop().Sugar())

	// 4 days out: outside the 48h default, inside a 5-day override.
	sub := seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(4 * 24 * time.Hour)
		sub.ExpiresAt = &e
	})
	require.NoError(t, db.Model(&models.Channel{}).Where("id = ?", sub.ChannelID).
		Update("reminder_days_override", 5).Error)

	require.NoError(t, s.Scan(context.Background()))
	assert.Len(t, sink.byKind(types.EventKindReminderDue), 1)
}

func TestScan_EmitsExpiryForLapsedActiveAndGrace(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	sink := &captureSink{}
	s := New(db, testConfig(), clk, sink, zap.NewNop().Sugar())

	lapsedActive := seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(-time.Hour)
		sub.ExpiresAt = &e
	})
	lapsedGrace := seedSub(t, db, types.SubscriptionStatusGracePeriod, func(sub *models.Subscription) {
		e := now.Add(-4 * 24 * time.Hour)
		g := now.Add(-time.Hour)
		sub.ExpiresAt = &e
		sub.GraceUntil = &g
	})
	// Still healthy.
	seedSub(t, db, types.SubscriptionStatusActive, func(sub *models.Subscription) {
		e := now.Add(20 * 24 * time.Hour)
		sub.ExpiresAt = &e
	})
	// Grace not over yet.
	seedSub(t, db, types.SubscriptionStatusGracePeriod, func(sub *models.Subscription) {
		e := now.Add(-24 * time.Hour)
		g := now.Add(48 * time.Hour)
		sub.ExpiresAt = &e
		sub.GraceUntil = &g
	})

	require.NoError(t, s.Scan(context.Background()))

	expiries := sink.byKind(types.EventKindExpiryDue)
	require.Len(t, expiries, 2)
	ids := []string{expiries[0].SubscriptionID, expiries[1].SubscriptionID}
	assert.Contains(t, ids, lapsedActive.ID)
	assert.Contains(t, ids, lapsedGrace.ID)
}

func TestTick_SingleFlight(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	s := New(db, testConfig(), clk, &captureSink{}, zap.NewNop().Sugar())

	s.tickMu.Lock()
	done := make(chan struct{})
	go func() {
		// Skips immediately instead of waiting for the held lock.
		s.tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked on concurrent tick")
	}
	s.tickMu.Unlock()
}
