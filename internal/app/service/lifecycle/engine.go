package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/metrics"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

// ErrSubscriptionNotFound is returned when an event references a
// subscription that does not exist.
var ErrSubscriptionNotFound = errors.New("lifecycle: subscription not found")

// Sink is the single event intake shared by webhook ingestion, the
// scheduler, and the admin API, so transition logic never special-cases its
// caller.
type Sink interface {
	Submit(ctx context.Context, ev *models.SubscriptionEvent) error
}

// Notifier delivers user-facing notices produced by transitions. Failures
// are the notifier's problem; they never block or roll back a transition.
type Notifier interface {
	Notify(ctx context.Context, sub *models.Subscription, notice NoticeKind)
}

// Engine is the single transition authority. It serializes events
// per-subscription, applies the pure transition function, persists the
// result together with the event archive and any membership intents in one
// transaction, and dispatches notices after the lock is released.
type Engine struct {
	db       *gorm.DB
	cfg      *cfgpkg.Config
	clk      clock.Clock
	log      *zap.SugaredLogger
	notifier Notifier
	locks    *keyedMutex
}

func NewEngine(db *gorm.DB, cfg *cfgpkg.Config, clk clock.Clock, notifier Notifier, log *zap.SugaredLogger) *Engine {
	return &Engine{
		db:       db,
		cfg:      cfg,
		clk:      clk,
		log:      log,
		notifier: notifier,
		locks:    newKeyedMutex(),
	}
}

// Submit processes one canonical event. Structurally valid events never
// fail: inapplicable (state, event) pairs are archived as no-ops because
// webhooks and scheduler ticks can race and deliver late.
func (e *Engine) Submit(ctx context.Context, ev *models.SubscriptionEvent) error {
	if ev.ID == "" {
		ev.ID = tool.GenerateUUIDV7()
	}
	log := logctx.FromCtx(ctx, e.log)

	var notices []NoticeKind
	var sub *models.Subscription

	// The lock covers only the state read-modify-write. Platform side
	// effects run later: intents through the sync worker pool, notices
	// through the dispatcher below.
	e.locks.Lock(ev.SubscriptionID)
	err := func() error {
		defer e.locks.Unlock(ev.SubscriptionID)

		var loaded models.Subscription
		if err := e.db.WithContext(ctx).Where("id = ?", ev.SubscriptionID).First(&loaded).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, ev.SubscriptionID)
			}
			return fmt.Errorf("load subscription: %w", err)
		}
		sub = &loaded

		rules, err := e.rulesFor(ctx, sub)
		if err != nil {
			return err
		}

		now := e.clk.Now()
		out := Transition(viewOf(sub), ev.Kind, now, rules)

		if out.NoOp {
			metrics.EventsProcessed.WithLabelValues(string(ev.Kind), "noop").Inc()
			log.Debugw("transition_noop",
				"subscription_id", sub.ID, "status", sub.Status, "kind", ev.Kind, "reason", out.Reason)
			ev.Applied = false
			ev.ResultStatus = sub.Status
			if err := e.db.WithContext(ctx).Create(ev).Error; err != nil {
				return fmt.Errorf("archive noop event: %w", err)
			}
			return nil
		}

		before := *sub
		applyView(sub, out.Next)

		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(sub).Error; err != nil {
				return fmt.Errorf("save subscription: %w", err)
			}

			ev.Applied = true
			ev.ResultStatus = sub.Status
			if err := tx.Create(ev).Error; err != nil {
				return fmt.Errorf("archive event: %w", err)
			}

			for _, action := range out.Intents {
				if action == types.IntentActionRevoke && sub.MembershipState == types.MembershipStateGranted {
					sub.MembershipState = types.MembershipStateRevocationPending
					if err := tx.Model(sub).Update("membership_state", sub.MembershipState).Error; err != nil {
						return fmt.Errorf("mark revocation pending: %w", err)
					}
				}
				intent := &models.MembershipIntent{
					ID:             tool.GenerateUUIDV7(),
					SubscriptionID: sub.ID,
					Action:         action,
					Status:         types.IntentStatusPending,
					NextAttemptAt:  now,
				}
				if err := tx.Create(intent).Error; err != nil {
					return fmt.Errorf("enqueue intent: %w", err)
				}
			}

			logRow := &models.SubscriptionLog{
				ID:             tool.GenerateUUIDV7(),
				SubscriptionID: sub.ID,
				EventKind:      ev.Kind,
				Before:         datatypes.NewJSONType(&before),
				After:          datatypes.NewJSONType(sub),
				Extra:          datatypes.JSONMap{"source": string(ev.Source)},
			}
			if err := tx.Create(logRow).Error; err != nil {
				return fmt.Errorf("write subscription log: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		metrics.EventsProcessed.WithLabelValues(string(ev.Kind), "applied").Inc()
		log.Infow("transition_applied",
			"subscription_id", sub.ID, "kind", ev.Kind,
			"from", before.Status, "to", sub.Status,
			"intents", len(out.Intents))
		notices = out.Notices
		return nil
	}()
	if err != nil {
		return err
	}

	for _, n := range notices {
		e.notifier.Notify(ctx, sub, n)
	}
	return nil
}

// rulesFor assembles the transition rules from the subscription's plan, the
// channel's reminder override, and the global lifecycle config.
func (e *Engine) rulesFor(ctx context.Context, sub *models.Subscription) (Rules, error) {
	var plan models.Plan
	if err := e.db.WithContext(ctx).Where("id = ?", sub.PlanID).First(&plan).Error; err != nil {
		return Rules{}, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
	}

	r := Rules{
		PlanDuration:    plan.Duration(),
		GraceWindow:     e.cfg.Lifecycle.GraceWindow,
		ReminderWindow:  e.cfg.Lifecycle.ReminderWindow,
		ReminderCadence: e.cfg.Lifecycle.ReminderCadence,
	}

	var channel models.Channel
	if err := e.db.WithContext(ctx).Where("id = ?", sub.ChannelID).First(&channel).Error; err == nil {
		if channel.ReminderDaysOverride > 0 {
			r.ReminderWindow = time.Duration(channel.ReminderDaysOverride) * 24 * time.Hour
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Rules{}, fmt.Errorf("load channel %s: %w", sub.ChannelID, err)
	}

	return r, nil
}

func viewOf(sub *models.Subscription) View {
	return View{
		Status:         sub.Status,
		StartedAt:      sub.StartedAt,
		ExpiresAt:      sub.ExpiresAt,
		GraceUntil:     sub.GraceUntil,
		LastRemindedAt: sub.LastRemindedAt,
	}
}

func applyView(sub *models.Subscription, v View) {
	sub.Status = v.Status
	sub.StartedAt = v.StartedAt
	sub.ExpiresAt = v.ExpiresAt
	sub.GraceUntil = v.GraceUntil
	sub.LastRemindedAt = v.LastRemindedAt
}
