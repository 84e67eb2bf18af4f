package models

import (
	"time"

	"github.com/channelgate/channelgate/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionEvent is the canonical, immutable record of one thing that
// happened to a subscription. Created by the normalizer or the scheduler,
// consumed exactly once by the lifecycle engine, then kept as archive.
type SubscriptionEvent struct {
	ID             string          `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Kind           types.EventKind `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	SubscriptionID string          `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`

	Source types.EventSource `gorm:"column:source;type:varchar(32);not null" json:"source"`
	// ProviderEventID is nil for synthetic scheduler events, which are not
	// deduplicated by the idempotency guard.
	ProviderEventID *string `gorm:"column:provider_event_id;type:varchar(128);default:null" json:"provider_event_id"`

	OccurredAt time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`

	// Payload retains the opaque provider-specific fields for audit.
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb;default:'{}'" json:"payload"`

	// Applied and ResultStatus are written by the engine after processing;
	// a no-op transition archives the event with Applied=false.
	Applied      bool                     `gorm:"column:applied;not null;default:false" json:"applied"`
	ResultStatus types.SubscriptionStatus `gorm:"column:result_status;type:varchar(32)" json:"result_status"`

	CreatedAt time.Time `json:"created_at"`
}

func (SubscriptionEvent) TableName() string {
	return "subscription_event"
}
