package membership

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/metrics"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

// Reconciler heals drift between status-implied desired membership and the
// recorded platform state by re-emitting intents for every mismatch. This
// is the mechanism that repairs missed or failed syncs; a confirmed payment
// is therefore guaranteed to reflect as channel access within one
// reconciliation cycle.
type Reconciler struct {
	db  *gorm.DB
	cfg *cfgpkg.Config
	clk clock.Clock
	log *zap.SugaredLogger

	stop chan struct{}
	done chan struct{}
}

func NewReconciler(db *gorm.DB, cfg *cfgpkg.Config, clk clock.Clock, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		db:   db,
		cfg:  cfg,
		clk:  clk,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Sync.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if _, err := r.Reconcile(context.Background()); err != nil {
					r.log.Errorw("reconcile_failed", "err", err)
				}
			}
		}
	}()
}

func (r *Reconciler) Stop(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile scans all subscriptions for entitlement/membership mismatches
// and enqueues the corrective intent for each, skipping subscriptions that
// already have one in the queue. Returns the number of intents emitted.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	log := logctx.FromCtx(ctx, r.log)
	now := r.clk.Now()
	emitted := 0

	// Entitled but not granted.
	var missing []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND membership_state <> ?",
			[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusGracePeriod},
			types.MembershipStateGranted).
		Find(&missing).Error; err != nil {
		return emitted, fmt.Errorf("scan for missing grants: %w", err)
	}
	for i := range missing {
		n, err := r.emit(ctx, &missing[i], types.IntentActionGrant, now)
		if err != nil {
			return emitted, err
		}
		emitted += n
	}

	// No longer entitled but still granted (or stuck mid-revocation).
	var lingering []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND membership_state IN ?",
			[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusGracePeriod},
			[]types.MembershipState{types.MembershipStateGranted, types.MembershipStateRevocationPending}).
		Find(&lingering).Error; err != nil {
		return emitted, fmt.Errorf("scan for lingering grants: %w", err)
	}
	for i := range lingering {
		n, err := r.emit(ctx, &lingering[i], types.IntentActionRevoke, now)
		if err != nil {
			return emitted, err
		}
		emitted += n
	}

	if emitted > 0 {
		log.Infow("reconcile_emitted", "intents", emitted)
	}
	return emitted, nil
}

func (r *Reconciler) emit(ctx context.Context, sub *models.Subscription, action types.IntentAction, now time.Time) (int, error) {
	// The model predicate is authoritative; the scan queries only narrow
	// the candidate set.
	if !sub.MembershipDrift() {
		return 0, nil
	}
	// An intent already queued or running covers this mismatch.
	var queued int64
	if err := r.db.WithContext(ctx).Model(&models.MembershipIntent{}).
		Where("subscription_id = ? AND status IN ?", sub.ID,
			[]types.IntentStatus{types.IntentStatusPending, types.IntentStatusInFlight}).
		Count(&queued).Error; err != nil {
		return 0, fmt.Errorf("check queued intents: %w", err)
	}
	if queued > 0 {
		return 0, nil
	}

	metrics.ReconcileMismatches.Inc()
	intent := &models.MembershipIntent{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: sub.ID,
		Action:         action,
		Status:         types.IntentStatusPending,
		NextAttemptAt:  now,
	}
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		return 0, fmt.Errorf("enqueue reconcile intent: %w", err)
	}
	return 1, nil
}
