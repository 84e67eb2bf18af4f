package models

import (
	"time"

	"github.com/channelgate/channelgate/pkg/types"
	"gorm.io/datatypes"
)

// Subscription is one user's time-boxed access grant to one channel under
// one plan. Status transitions are driven exclusively by the lifecycle
// engine; rows are never deleted by the engine, lapse and cancellation are
// status changes.
type Subscription struct {
	ID        string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string `gorm:"column:user_id;type:varchar(64);not null;index:idx_user_channel,priority:1" json:"user_id"`
	ChannelID string `gorm:"column:channel_id;type:uuid;not null;index:idx_user_channel,priority:2" json:"channel_id"`
	PlanID    string `gorm:"column:plan_id;type:uuid;not null" json:"plan_id"`

	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_status_expires,priority:1;index:idx_status_grace,priority:1" json:"status"`

	StartedAt      *time.Time `gorm:"column:started_at;default:null" json:"started_at"`
	ExpiresAt      *time.Time `gorm:"column:expires_at;default:null;index:idx_status_expires,priority:2" json:"expires_at"`
	GraceUntil     *time.Time `gorm:"column:grace_until;default:null;index:idx_status_grace,priority:2" json:"grace_until"`
	LastRemindedAt *time.Time `gorm:"column:last_reminded_at;default:null" json:"last_reminded_at"`

	// ExternalPaymentRef is the provider order/transaction reference used to
	// resolve gateway webhooks back to this subscription.
	ExternalPaymentRef string `gorm:"column:external_payment_ref;type:varchar(128);index" json:"external_payment_ref"`

	// MembershipState tracks the actual platform side of channel access,
	// updated only by the synchronizer after platform confirmation.
	MembershipState types.MembershipState `gorm:"column:membership_state;type:varchar(32);not null;default:'not_granted'" json:"membership_state"`

	// TelegramUserID is the platform user reference for membership calls.
	TelegramUserID string `gorm:"column:telegram_user_id;type:varchar(64)" json:"telegram_user_id"`
	// InviteLink is the last single-use invite link issued for this
	// subscription, kept for audit.
	InviteLink string `gorm:"column:invite_link;type:varchar(256)" json:"invite_link"`

	Extra     datatypes.JSON `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// MembershipDrift reports whether the recorded platform membership diverges
// from what the current status entitles. Drift is a reconciliation target,
// not an error.
func (s *Subscription) MembershipDrift() bool {
	if s == nil {
		return false
	}
	if s.Status.WantsMembership() {
		return s.MembershipState != types.MembershipStateGranted
	}
	return s.MembershipState == types.MembershipStateGranted ||
		s.MembershipState == types.MembershipStateRevocationPending
}
