package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/metrics"
	"github.com/channelgate/channelgate/pkg/tool"
)

// redisDedupTTL bounds the Redis fast-path keys; the durable store keeps
// admitted ids forever, Redis only absorbs retry bursts.
const redisDedupTTL = 48 * time.Hour

// Guard deduplicates webhook deliveries by provider event id. Admission is
// a single atomic check-and-insert against a persisted store, so retries
// racing each other and retries across restarts both collapse to one
// admitted processing.
type Guard struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewGuard(db *gorm.DB, rdb *redis.Client, log *zap.SugaredLogger) *Guard {
	return &Guard{db: db, rdb: rdb, log: log}
}

// Admit returns true when the event should be processed. Scheduler-born
// events carry no provider event id and always admit. Duplicates return
// false with no error: the webhook still gets a success acknowledgment.
func (g *Guard) Admit(ctx context.Context, ev *models.SubscriptionEvent) (bool, error) {
	if ev.ProviderEventID == nil || *ev.ProviderEventID == "" {
		return true, nil
	}
	provider := string(ev.Source)
	eventID := *ev.ProviderEventID

	// Fast path: SET NX absorbs retry storms without touching Postgres.
	// A Redis failure falls through to the durable store.
	if g.rdb != nil {
		key := fmt.Sprintf("dedup:%s:%s", provider, eventID)
		ok, err := g.rdb.SetNX(ctx, key, 1, redisDedupTTL).Result()
		if err != nil {
			logctx.FromCtx(ctx, g.log).Warnw("dedup_redis_unavailable", "err", err)
		} else if !ok {
			metrics.EventsDuplicate.WithLabelValues(provider).Inc()
			return false, nil
		}
	}

	rec := &models.AdmittedEvent{
		ID:              tool.GenerateUUIDV7(),
		Provider:        provider,
		ProviderEventID: eventID,
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("admit event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.EventsDuplicate.WithLabelValues(provider).Inc()
		logctx.FromCtx(ctx, g.log).Infow("event_duplicate", "provider", provider, "provider_event_id", eventID)
		return false, nil
	}
	return true, nil
}

// Release drops an admitted id again so the provider's next retry of the
// same delivery is reprocessed. Called when processing fails after
// admission; without it the retry would be deduplicated and the event lost.
func (g *Guard) Release(ctx context.Context, ev *models.SubscriptionEvent) error {
	if ev.ProviderEventID == nil || *ev.ProviderEventID == "" {
		return nil
	}
	provider := string(ev.Source)
	eventID := *ev.ProviderEventID

	if g.rdb != nil {
		key := fmt.Sprintf("dedup:%s:%s", provider, eventID)
		if err := g.rdb.Del(ctx, key).Err(); err != nil {
			logctx.FromCtx(ctx, g.log).Warnw("dedup_redis_release_failed", "err", err)
		}
	}

	err := g.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Delete(&models.AdmittedEvent{}).Error
	if err != nil {
		return fmt.Errorf("release admitted event: %w", err)
	}
	logctx.FromCtx(ctx, g.log).Infow("event_released", "provider", provider, "provider_event_id", eventID)
	return nil
}
