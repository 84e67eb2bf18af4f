package membership

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/metrics"
	"github.com/channelgate/channelgate/pkg/types"
)

// Worker drains the durable intent queue with a pool of goroutines. Each
// intent is claimed with an optimistic status flip so concurrent workers
// (or concurrent replicas sharing the database) never double-execute.
type Worker struct {
	db   *gorm.DB
	sync *Synchronizer
	cfg  *cfgpkg.Config
	clk  clock.Clock
	log  *zap.SugaredLogger

	stop chan struct{}
	done chan struct{}
}

func NewWorker(db *gorm.DB, sync *Synchronizer, cfg *cfgpkg.Config, clk clock.Clock, log *zap.SugaredLogger) *Worker {
	return &Worker{
		db:   db,
		sync: sync,
		cfg:  cfg,
		clk:  clk,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (w *Worker) Start() {
	workers := w.cfg.Sync.Workers
	if workers <= 0 {
		workers = 1
	}
	finished := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { finished <- struct{}{} }()
			w.loop()
		}()
	}
	go func() {
		for i := 0; i < workers; i++ {
			<-finished
		}
		close(w.done)
	}()
	w.log.Infow("membership sync workers started", "workers", workers)
}

func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.cfg.Sync.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// Drain everything due before going back to sleep.
			for w.runOne(context.Background()) {
			}
		}
	}
}

// runOne claims and executes a single due intent. Returns false when the
// queue had nothing due.
func (w *Worker) runOne(ctx context.Context) bool {
	intent, ok := w.claim(ctx)
	if !ok {
		return false
	}

	err := w.sync.Execute(ctx, intent)
	w.finalize(ctx, intent, err)
	return true
}

func (w *Worker) claim(ctx context.Context) (*models.MembershipIntent, bool) {
	now := w.clk.Now()
	var intent models.MembershipIntent
	err := w.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", types.IntentStatusPending, now).
		Order("next_attempt_at asc").
		First(&intent).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			w.log.Errorw("intent_claim_query_failed", "err", err)
		}
		return nil, false
	}

	res := w.db.WithContext(ctx).Model(&models.MembershipIntent{}).
		Where("id = ? AND status = ?", intent.ID, types.IntentStatusPending).
		Updates(map[string]any{
			"status":   types.IntentStatusInFlight,
			"attempts": intent.Attempts + 1,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		// Lost the claim race; the winner executes it.
		return nil, false
	}
	intent.Status = types.IntentStatusInFlight
	intent.Attempts++
	return &intent, true
}

func (w *Worker) finalize(ctx context.Context, intent *models.MembershipIntent, execErr error) {
	now := w.clk.Now()

	if execErr == nil {
		metrics.IntentsExecuted.WithLabelValues(string(intent.Action), "ok").Inc()
		w.db.WithContext(ctx).Model(intent).Updates(map[string]any{
			"status":       types.IntentStatusSucceeded,
			"completed_at": now,
			"last_error":   nil,
		})
		return
	}

	if isRetryable(execErr) && intent.Attempts < w.cfg.Sync.MaxAttempts {
		delay := w.backoff(intent.Attempts)
		metrics.IntentsExecuted.WithLabelValues(string(intent.Action), "retry").Inc()
		w.log.Warnw("intent_retry",
			"intent_id", intent.ID, "subscription_id", intent.SubscriptionID,
			"action", intent.Action, "attempt", intent.Attempts,
			"next_attempt_in", delay, "err", execErr)
		w.db.WithContext(ctx).Model(intent).Updates(map[string]any{
			"status":          types.IntentStatusPending,
			"next_attempt_at": now.Add(delay),
			"last_error":      lo.ToPtr(execErr.Error()),
		})
		return
	}

	// Exhausted or non-retryable: surface for operator attention. The
	// subscription keeps its divergent membership state until an operator
	// or the reconciliation pass repairs it.
	metrics.IntentsExecuted.WithLabelValues(string(intent.Action), "fatal").Inc()
	w.log.Errorw("intent_fatal",
		"intent_id", intent.ID, "subscription_id", intent.SubscriptionID,
		"action", intent.Action, "attempts", intent.Attempts, "err", execErr)
	w.db.WithContext(ctx).Model(intent).Updates(map[string]any{
		"status":       types.IntentStatusFatal,
		"completed_at": now,
		"last_error":   lo.ToPtr(execErr.Error()),
	})
}

// backoff doubles per attempt from the configured base, capped.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.Sync.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.Sync.BackoffCap {
			return w.cfg.Sync.BackoffCap
		}
	}
	return d
}
