package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

type fakeDM struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (f *fakeDM) AddMember(context.Context, string, string) error    { return nil }
func (f *fakeDM) RemoveMember(context.Context, string, string) error { return nil }
func (f *fakeDM) CreateInviteLink(context.Context, string, time.Time, int) (string, error) {
	return "", nil
}

func (f *fakeDM) SendDirectMessage(_ context.Context, userRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, userRef+": "+text)
	return nil
}

func newTestService(t *testing.T, api *fakeDM) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Channel{}, &models.ReminderLog{}))

	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
	return NewService(db, api, clk, zap.NewNop().Sugar()), db
}

func testSub(db *gorm.DB, t *testing.T) *models.Subscription {
	t.Helper()
	ch := &models.Channel{ID: tool.GenerateUUIDV7(), Name: "Insider Picks", TelegramChatID: "-1001", IsActive: true}
	require.NoError(t, db.Create(ch).Error)
	expires := time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)
	return &models.Subscription{
		ID:             tool.GenerateUUIDV7(),
		UserID:         "u-1",
		ChannelID:      ch.ID,
		Status:         types.SubscriptionStatusActive,
		TelegramUserID: "42",
		ExpiresAt:      &expires,
	}
}

func TestDeliver_SendsAndLogs(t *testing.T) {
	api := &fakeDM{}
	svc, db := newTestService(t, api)
	sub := testSub(db, t)

	svc.deliver(context.Background(), sub, lifecycle.NoticeReminder)

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0], "Insider Picks")
	assert.Contains(t, api.sent[0], "expires on")

	var logs []models.ReminderLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ReminderLogStatusSent, logs[0].Status)
	assert.Equal(t, string(lifecycle.NoticeReminder), logs[0].Kind)
	assert.Equal(t, sub.ID, logs[0].SubscriptionID)
}

func TestDeliver_FailureIsRecordedNotReturned(t *testing.T) {
	api := &fakeDM{err: errors.New("blocked by user")}
	svc, db := newTestService(t, api)
	sub := testSub(db, t)

	svc.deliver(context.Background(), sub, lifecycle.NoticeExpired)

	var logs []models.ReminderLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ReminderLogStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].FailureReason)
	assert.Contains(t, *logs[0].FailureReason, "blocked by user")
}

func TestDeliver_NoTelegramUser(t *testing.T) {
	api := &fakeDM{}
	svc, db := newTestService(t, api)
	sub := testSub(db, t)
	sub.TelegramUserID = ""

	svc.deliver(context.Background(), sub, lifecycle.NoticeActivated)

	assert.Empty(t, api.sent)
	var logs []models.ReminderLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ReminderLogStatusFailed, logs[0].Status)
}

func TestRender_CoversAllNotices(t *testing.T) {
	svc, db := newTestService(t, &fakeDM{})
	sub := testSub(db, t)
	grace := time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC)
	sub.GraceUntil = &grace

	for _, notice := range []lifecycle.NoticeKind{
		lifecycle.NoticeActivated,
		lifecycle.NoticeRenewed,
		lifecycle.NoticeReminder,
		lifecycle.NoticeGraceStarted,
		lifecycle.NoticeExpired,
	} {
		msg := svc.render(context.Background(), sub, notice)
		assert.NotEmpty(t, msg, string(notice))
		assert.Contains(t, msg, "Insider Picks", string(notice))
	}
}
