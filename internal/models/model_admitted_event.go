package models

import "time"

// AdmittedEvent is the durable idempotency-guard store. The unique index on
// (provider, provider_event_id) makes admission a single atomic
// check-and-insert; it must survive restarts because webhook providers retry
// across them.
type AdmittedEvent struct {
	ID              string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider        string    `gorm:"column:provider;type:varchar(64);not null;uniqueIndex:unique_provider_event,priority:1" json:"provider"`
	ProviderEventID string    `gorm:"column:provider_event_id;type:varchar(128);not null;uniqueIndex:unique_provider_event,priority:2" json:"provider_event_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (AdmittedEvent) TableName() string {
	return "admitted_event"
}
