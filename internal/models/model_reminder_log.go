package models

import "time"

type ReminderLogStatus string

const (
	ReminderLogStatusSent   ReminderLogStatus = "sent"
	ReminderLogStatusFailed ReminderLogStatus = "failed"
)

// ReminderLog records each outbound user notification (reminders,
// activation and expiry notices) and its delivery outcome.
type ReminderLog struct {
	ID             string            `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string            `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	UserID         string            `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Kind           string            `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Message        string            `gorm:"column:message;type:text" json:"message"`
	Status         ReminderLogStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	FailureReason  *string           `gorm:"column:failure_reason;type:text;default:null" json:"failure_reason"`
	SentAt         time.Time         `gorm:"column:sent_at;not null" json:"sent_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (ReminderLog) TableName() string {
	return "reminder_log"
}
