package lifecycle

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

type recordingNotifier struct {
	mu      sync.Mutex
	notices []NoticeKind
}

func (n *recordingNotifier) Notify(_ context.Context, _ *models.Subscription, notice NoticeKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NoticeKind(nil), n.notices...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and serializes
	// writers, sqlite has no row locks.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Channel{},
		&models.Plan{},
		&models.Subscription{},
		&models.SubscriptionEvent{},
		&models.SubscriptionLog{},
		&models.MembershipIntent{},
	))
	return db
}

func testConfig() *cfgpkg.Config {
	return &cfgpkg.Config{
		Lifecycle: cfgpkg.LifecycleConfig{
			GraceWindow:     72 * time.Hour,
			ReminderWindow:  48 * time.Hour,
			ReminderCadence: 24 * time.Hour,
		},
	}
}

func seedSubscription(t *testing.T, db *gorm.DB, status types.SubscriptionStatus) *models.Subscription {
	t.Helper()
	ch := &models.Channel{ID: tool.GenerateUUIDV7(), Name: "Test Channel", TelegramChatID: "-100" + tool.GenerateUUIDV7()[28:], IsActive: true}
	require.NoError(t, db.Create(ch).Error)
	plan := &models.Plan{ID: tool.GenerateUUIDV7(), ChannelID: ch.ID, Name: "Monthly", ValidityDays: 30, Price: 49900, Currency: "INR", IsActive: true}
	require.NoError(t, db.Create(plan).Error)
	sub := &models.Subscription{
		ID:                 tool.GenerateUUIDV7(),
		UserID:             "u-1",
		ChannelID:          ch.ID,
		PlanID:             plan.ID,
		Status:             status,
		MembershipState:    types.MembershipStateNotGranted,
		TelegramUserID:     "12345",
		ExternalPaymentRef: "order_" + tool.GenerateUUIDV7()[:8],
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func event(subID string, kind types.EventKind, now time.Time) *models.SubscriptionEvent {
	return &models.SubscriptionEvent{
		ID:             tool.GenerateUUIDV7(),
		Kind:           kind,
		SubscriptionID: subID,
		Source:         types.EventSourceGateway,
		OccurredAt:     now,
	}
}

func TestEngine_Submit_ActivatesAndEnqueuesGrant(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	notif := &recordingNotifier{}
	eng := NewEngine(db, testConfig(), clk, notif, zap.NewNop().Sugar())

	sub := seedSubscription(t, db, types.SubscriptionStatusPendingPayment)
	require.NoError(t, eng.Submit(context.Background(), event(sub.ID, types.EventKindPaymentConfirmed, clk.Now())))

	var got models.Subscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, clk.Now().Add(30*24*time.Hour), *got.ExpiresAt, time.Second)

	var intents []models.MembershipIntent
	require.NoError(t, db.Where("subscription_id = ?", sub.ID).Find(&intents).Error)
	require.Len(t, intents, 1)
	assert.Equal(t, types.IntentActionGrant, intents[0].Action)
	assert.Equal(t, types.IntentStatusPending, intents[0].Status)

	var logs []models.SubscriptionLog
	require.NoError(t, db.Where("subscription_id = ?", sub.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, types.EventKindPaymentConfirmed, logs[0].EventKind)

	assert.Equal(t, []NoticeKind{NoticeActivated}, notif.all())
}

func TestEngine_Submit_NoOpArchivesEvent(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := NewEngine(db, testConfig(), clk, &recordingNotifier{}, zap.NewNop().Sugar())

	sub := seedSubscription(t, db, types.SubscriptionStatusCancelled)
	ev := event(sub.ID, types.EventKindPaymentConfirmed, clk.Now())
	require.NoError(t, eng.Submit(context.Background(), ev))

	var got models.SubscriptionEvent
	require.NoError(t, db.First(&got, "id = ?", ev.ID).Error)
	assert.False(t, got.Applied)
	assert.Equal(t, types.SubscriptionStatusCancelled, got.ResultStatus)

	var count int64
	require.NoError(t, db.Model(&models.MembershipIntent{}).Where("subscription_id = ?", sub.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEngine_Submit_UnknownSubscription(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Now())
	eng := NewEngine(db, testConfig(), clk, &recordingNotifier{}, zap.NewNop().Sugar())

	err := eng.Submit(context.Background(), event(tool.GenerateUUIDV7(), types.EventKindPaymentConfirmed, clk.Now()))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestEngine_Submit_RevokeMarksRevocationPending(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := NewEngine(db, testConfig(), clk, &recordingNotifier{}, zap.NewNop().Sugar())

	sub := seedSubscription(t, db, types.SubscriptionStatusActive)
	expires := clk.Now().Add(10 * 24 * time.Hour)
	require.NoError(t, db.Model(sub).Updates(map[string]any{
		"expires_at":       expires,
		"membership_state": types.MembershipStateGranted,
	}).Error)

	require.NoError(t, eng.Submit(context.Background(), event(sub.ID, types.EventKindManualRevoke, clk.Now())))

	var got models.Subscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, types.SubscriptionStatusRevoked, got.Status)
	assert.Equal(t, types.MembershipStateRevocationPending, got.MembershipState)
	assert.Nil(t, got.ExpiresAt)
	assert.Nil(t, got.GraceUntil)

	var intents []models.MembershipIntent
	require.NoError(t, db.Where("subscription_id = ?", sub.ID).Find(&intents).Error)
	require.Len(t, intents, 1)
	assert.Equal(t, types.IntentActionRevoke, intents[0].Action)
}

// Concurrent duplicate confirmations against one subscription must apply
// exactly once; the rest archive as no-ops.
func TestEngine_Submit_SerializesPerSubscription(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := NewEngine(db, testConfig(), clk, &recordingNotifier{}, zap.NewNop().Sugar())

	sub := seedSubscription(t, db, types.SubscriptionStatusPendingPayment)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = eng.Submit(context.Background(), event(sub.ID, types.EventKindPaymentConfirmed, clk.Now()))
		}()
	}
	wg.Wait()

	var applied int64
	require.NoError(t, db.Model(&models.SubscriptionEvent{}).
		Where("subscription_id = ? AND applied = ?", sub.ID, true).Count(&applied).Error)
	assert.Equal(t, int64(1), applied)

	var intents int64
	require.NoError(t, db.Model(&models.MembershipIntent{}).Where("subscription_id = ?", sub.ID).Count(&intents).Error)
	assert.Equal(t, int64(1), intents)

	var got models.Subscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
}

func TestEngine_Submit_ChannelReminderOverride(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	eng := NewEngine(db, testConfig(), clk, &recordingNotifier{}, zap.NewNop().Sugar())

	sub := seedSubscription(t, db, types.SubscriptionStatusActive)
	// 4 days out: outside the 48h global window, inside a 5-day override.
	expires := start.Add(4 * 24 * time.Hour)
	require.NoError(t, db.Model(sub).Update("expires_at", expires).Error)

	ev := event(sub.ID, types.EventKindReminderDue, clk.Now())
	require.NoError(t, eng.Submit(context.Background(), ev))
	var got models.Subscription
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Nil(t, got.LastRemindedAt, "global window should not trigger 4 days out")

	require.NoError(t, db.Model(&models.Channel{}).Where("id = ?", sub.ChannelID).
		Update("reminder_days_override", 5).Error)

	require.NoError(t, eng.Submit(context.Background(), event(sub.ID, types.EventKindReminderDue, clk.Now())))
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	require.NotNil(t, got.LastRemindedAt)
}
