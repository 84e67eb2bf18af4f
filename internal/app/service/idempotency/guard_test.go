package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.AdmittedEvent{}))
	return NewGuard(db, nil, zap.NewNop().Sugar())
}

func gatewayEvent(providerEventID string) *models.SubscriptionEvent {
	ev := &models.SubscriptionEvent{
		ID:             tool.GenerateUUIDV7(),
		Kind:           types.EventKindPaymentConfirmed,
		SubscriptionID: tool.GenerateUUIDV7(),
		Source:         types.EventSourceGateway,
	}
	if providerEventID != "" {
		ev.ProviderEventID = lo.ToPtr(providerEventID)
	}
	return ev
}

func TestGuard_AdmitOnceThenDuplicate(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	first, err := g.Admit(ctx, gatewayEvent("evt_1"))
	require.NoError(t, err)
	assert.True(t, first)

	second, err := g.Admit(ctx, gatewayEvent("evt_1"))
	require.NoError(t, err)
	assert.False(t, second)

	other, err := g.Admit(ctx, gatewayEvent("evt_2"))
	require.NoError(t, err)
	assert.True(t, other)
}

func TestGuard_SameIDDifferentProvider_BothAdmit(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	fromGateway := gatewayEvent("evt_shared")
	ok, err := g.Admit(ctx, fromGateway)
	require.NoError(t, err)
	assert.True(t, ok)

	fromRelay := gatewayEvent("evt_shared")
	fromRelay.Source = types.EventSourceRelay
	ok, err = g.Admit(ctx, fromRelay)
	require.NoError(t, err)
	assert.True(t, ok, "dedup key is (provider, event id), not event id alone")
}

func TestGuard_SyntheticEventsAlwaysAdmit(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := gatewayEvent("")
		ev.Source = types.EventSourceScheduler
		ok, err := g.Admit(ctx, ev)
		require.NoError(t, err)
		assert.True(t, ok, "scheduler events carry no provider id and are never deduplicated")
	}
}

// A provider retry storm delivering the same event concurrently admits
// exactly one.
func TestGuard_ConcurrentRetries_AdmitExactlyOne(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	const n = 100
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Admit(ctx, gatewayEvent("evt_storm"))
			assert.NoError(t, err)
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), admitted.Load())
}

func TestGuard_ReleaseReopensAdmission(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	admitted, err := g.Admit(ctx, gatewayEvent("evt_3"))
	require.NoError(t, err)
	require.True(t, admitted)

	// Processing failed after admission; release so the retry reprocesses.
	require.NoError(t, g.Release(ctx, gatewayEvent("evt_3")))

	retry, err := g.Admit(ctx, gatewayEvent("evt_3"))
	require.NoError(t, err)
	assert.True(t, retry)

	// Once processing succeeds the id stays admitted for good.
	dup, err := g.Admit(ctx, gatewayEvent("evt_3"))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestGuard_ReleaseSyntheticEvent_NoOp(t *testing.T) {
	g := newTestGuard(t)
	require.NoError(t, g.Release(context.Background(), gatewayEvent("")))
}
