package models

import (
	"time"

	"github.com/channelgate/channelgate/pkg/types"
)

// MembershipIntent is a durable command describing a desired synchronizer
// action. Intents are enqueued in the same transaction as the state change
// that produced them and claimed by the sync worker pool.
type MembershipIntent struct {
	ID             string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string             `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	Action         types.IntentAction `gorm:"column:action;type:varchar(32);not null" json:"action"`
	Status         types.IntentStatus `gorm:"column:status;type:varchar(32);not null;index:idx_intent_due,priority:1" json:"status"`

	Attempts      int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null;index:idx_intent_due,priority:2" json:"next_attempt_at"`
	LastError     *string    `gorm:"column:last_error;type:text;default:null" json:"last_error"`
	CompletedAt   *time.Time `gorm:"column:completed_at;default:null" json:"completed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MembershipIntent) TableName() string {
	return "membership_intent"
}
