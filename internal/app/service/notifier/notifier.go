package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/internal/platform/telegram"
	"github.com/channelgate/channelgate/pkg/tool"
)

const sendTimeout = 10 * time.Second

// Service delivers lifecycle notices to users as direct messages and records
// each delivery attempt. Delivery is best effort: a failed send never blocks or
// rolls back the transition that produced it.
type Service struct {
	db  *gorm.DB
	api telegram.MembershipAPI
	clk clock.Clock
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, api telegram.MembershipAPI, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{db: db, api: api, clk: clk, log: log}
}

// Notify renders and sends one notice asynchronously. The goroutine carries
// its own timeout so a slow platform call cannot hold the caller's request.
func (s *Service) Notify(ctx context.Context, sub *models.Subscription, notice lifecycle.NoticeKind) {
	snapshot := *sub
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		s.deliver(sendCtx, &snapshot, notice)
	}()
}

func (s *Service) deliver(ctx context.Context, sub *models.Subscription, notice lifecycle.NoticeKind) {
	msg := s.render(ctx, sub, notice)

	rec := &models.ReminderLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Kind:           string(notice),
		Message:        msg,
		Status:         models.ReminderLogStatusSent,
		SentAt:         s.clk.Now(),
	}

	if sub.TelegramUserID == "" {
		rec.Status = models.ReminderLogStatusFailed
		rec.FailureReason = lo.ToPtr("no telegram user id on subscription")
	} else if err := s.api.SendDirectMessage(ctx, sub.TelegramUserID, msg); err != nil {
		rec.Status = models.ReminderLogStatusFailed
		rec.FailureReason = lo.ToPtr(err.Error())
		s.log.Warnw("notice delivery failed",
			"subscription_id", sub.ID, "kind", notice, "err", err)
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.log.Errorw("reminder log write failed", "subscription_id", sub.ID, "err", err)
	}
}

func (s *Service) render(ctx context.Context, sub *models.Subscription, notice lifecycle.NoticeKind) string {
	channelName := "your channel"
	var ch models.Channel
	if err := s.db.WithContext(ctx).First(&ch, "id = ?", sub.ChannelID).Error; err == nil && ch.Name != "" {
		channelName = ch.Name
	}

	switch notice {
	case lifecycle.NoticeActivated:
		return fmt.Sprintf("Your subscription to %s is active until %s. An invite link is on its way if you are not already a member.",
			channelName, formatDate(sub.ExpiresAt))
	case lifecycle.NoticeRenewed:
		return fmt.Sprintf("Payment received. Your subscription to %s now runs until %s.",
			channelName, formatDate(sub.ExpiresAt))
	case lifecycle.NoticeReminder:
		return fmt.Sprintf("Your subscription to %s expires on %s. Renew now to keep your access.",
			channelName, formatDate(sub.ExpiresAt))
	case lifecycle.NoticeGraceStarted:
		return fmt.Sprintf("Your subscription to %s has expired. You keep access until %s; renew before then to avoid removal.",
			channelName, formatDate(sub.GraceUntil))
	case lifecycle.NoticeExpired:
		return fmt.Sprintf("Your subscription to %s has ended and your access has been removed. Subscribe again any time.",
			channelName)
	default:
		return fmt.Sprintf("Update on your subscription to %s.", channelName)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "soon"
	}
	return t.UTC().Format("2 Jan 2006 15:04 MST")
}
