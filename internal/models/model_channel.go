package models

import "time"

// Channel is a private messaging-platform channel whose membership the
// engine controls. Channel administration is out of scope; the engine reads
// the platform chat id and the per-channel reminder override.
type Channel struct {
	ID             string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Name           string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	TelegramChatID string `gorm:"column:telegram_chat_id;type:varchar(64);not null;uniqueIndex" json:"telegram_chat_id"`
	// ReminderDaysOverride replaces the global reminder window for this
	// channel when > 0.
	ReminderDaysOverride int  `gorm:"column:reminder_days_override;not null;default:0" json:"reminder_days_override"`
	IsActive             bool `gorm:"column:is_active;not null;default:true;index" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Channel) TableName() string { return "channel" }
