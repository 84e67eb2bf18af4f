package membership

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/internal/platform/telegram"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/types"
)

// Synchronizer executes membership intents against the messaging platform
// and keeps Subscription.MembershipState aligned with what the platform
// confirmed. Subscription status is never touched here: status reflects
// entitlement, membership state reflects reality, and divergence is an
// observable reconciliation item.
type Synchronizer struct {
	db  *gorm.DB
	api telegram.MembershipAPI
	cfg *cfgpkg.Config
	clk clock.Clock
	log *zap.SugaredLogger
}

func NewSynchronizer(db *gorm.DB, api telegram.MembershipAPI, cfg *cfgpkg.Config, clk clock.Clock, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{db: db, api: api, cfg: cfg, clk: clk, log: log}
}

// retryableError wraps a transient platform failure so the worker requeues
// the intent with backoff instead of marking it fatal.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Execute performs one intent. A nil return means the platform confirmed
// the action (or it was stale and skipped); retryable errors requeue, any
// other error is fatal and surfaces for operator attention.
func (s *Synchronizer) Execute(ctx context.Context, intent *models.MembershipIntent) error {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", intent.SubscriptionID).First(&sub).Error; err != nil {
		return fmt.Errorf("load subscription %s: %w", intent.SubscriptionID, err)
	}
	var channel models.Channel
	if err := s.db.WithContext(ctx).Where("id = ?", sub.ChannelID).First(&channel).Error; err != nil {
		return fmt.Errorf("load channel %s: %w", sub.ChannelID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.CallTimeout)
	defer cancel()

	switch intent.Action {
	case types.IntentActionGrant:
		return s.grant(ctx, &sub, &channel)
	case types.IntentActionRevoke:
		return s.revoke(ctx, &sub, &channel)
	case types.IntentActionRegenerateInviteLink:
		return s.regenerateInvite(ctx, &sub, &channel)
	default:
		return fmt.Errorf("unknown intent action: %s", intent.Action)
	}
}

func (s *Synchronizer) grant(ctx context.Context, sub *models.Subscription, channel *models.Channel) error {
	log := logctx.FromCtx(ctx, s.log)

	// The entitlement may have lapsed between enqueue and execution; a
	// stale grant is skipped, the reconciler owns any remaining drift.
	if !sub.Status.WantsMembership() {
		log.Infow("grant_skipped_stale", "subscription_id", sub.ID, "status", sub.Status)
		return nil
	}

	err := s.api.AddMember(ctx, channel.TelegramChatID, sub.TelegramUserID)
	if errors.Is(err, telegram.ErrDirectAddUnsupported) {
		// Fall back to a single-use, time-limited invite link delivered
		// by direct message.
		link, linkErr := s.api.CreateInviteLink(ctx, channel.TelegramChatID, s.clk.Now().Add(s.cfg.Telegram.InviteTTL), 1)
		if linkErr != nil {
			return s.classify(linkErr)
		}
		if dmErr := s.api.SendDirectMessage(ctx, sub.TelegramUserID,
			fmt.Sprintf("Your access to %s is ready. Join here: %s", channel.Name, link)); dmErr != nil {
			return s.classify(dmErr)
		}
		sub.InviteLink = link
	} else if err != nil {
		return s.classify(err)
	}

	// Membership state flips only after platform confirmation.
	sub.MembershipState = types.MembershipStateGranted
	if err := s.db.WithContext(ctx).Model(sub).
		Updates(map[string]any{"membership_state": sub.MembershipState, "invite_link": sub.InviteLink}).Error; err != nil {
		return fmt.Errorf("record granted membership: %w", err)
	}
	log.Infow("membership_granted", "subscription_id", sub.ID, "channel_id", channel.ID)
	return nil
}

func (s *Synchronizer) revoke(ctx context.Context, sub *models.Subscription, channel *models.Channel) error {
	log := logctx.FromCtx(ctx, s.log)

	if sub.MembershipState == types.MembershipStateRevoked || sub.MembershipState == types.MembershipStateNotGranted {
		log.Infow("revoke_skipped_stale", "subscription_id", sub.ID, "membership_state", sub.MembershipState)
		return nil
	}

	if err := s.api.RemoveMember(ctx, channel.TelegramChatID, sub.TelegramUserID); err != nil {
		return s.classify(err)
	}

	sub.MembershipState = types.MembershipStateRevoked
	if err := s.db.WithContext(ctx).Model(sub).
		Update("membership_state", sub.MembershipState).Error; err != nil {
		return fmt.Errorf("record revoked membership: %w", err)
	}
	log.Infow("membership_revoked", "subscription_id", sub.ID, "channel_id", channel.ID)
	return nil
}

func (s *Synchronizer) regenerateInvite(ctx context.Context, sub *models.Subscription, channel *models.Channel) error {
	if !sub.Status.WantsMembership() {
		return nil
	}
	link, err := s.api.CreateInviteLink(ctx, channel.TelegramChatID, s.clk.Now().Add(s.cfg.Telegram.InviteTTL), 1)
	if err != nil {
		return s.classify(err)
	}
	if err := s.api.SendDirectMessage(ctx, sub.TelegramUserID,
		fmt.Sprintf("Here is a fresh invite link for %s: %s", channel.Name, link)); err != nil {
		return s.classify(err)
	}
	if err := s.db.WithContext(ctx).Model(sub).Update("invite_link", link).Error; err != nil {
		return fmt.Errorf("record invite link: %w", err)
	}
	return nil
}

// classify maps platform errors onto the retryable/fatal split. Timeouts
// count as retryable: a call that exceeded its deadline is treated as
// transient, never hung.
func (s *Synchronizer) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || telegram.IsRetryable(err) {
		return &retryableError{err: err}
	}
	return err
}
