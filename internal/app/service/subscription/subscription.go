package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

var (
	ErrNotFound        = errors.New("subscription: not found")
	ErrChannelInactive = errors.New("subscription: channel inactive")
	ErrPlanMismatch    = errors.New("subscription: plan does not belong to channel")
)

// Service owns subscription records around the lifecycle engine: it creates
// pending subscriptions before payment, reads them back, and translates
// admin actions into events for the shared intake.
type Service struct {
	db   *gorm.DB
	clk  clock.Clock
	sink lifecycle.Sink
	log  *zap.SugaredLogger
}

func NewService(db *gorm.DB, clk clock.Clock, sink lifecycle.Sink, log *zap.SugaredLogger) *Service {
	return &Service{db: db, clk: clk, sink: sink, log: log}
}

type CreateRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	ChannelID      string `json:"channel_id" binding:"required"`
	PlanID         string `json:"plan_id" binding:"required"`
	TelegramUserID string `json:"telegram_user_id" binding:"required"`
	// ExternalPaymentRef is the gateway order id the payment will be created
	// under. Generated when empty.
	ExternalPaymentRef string `json:"external_payment_ref"`
}

// Create opens a pending_payment subscription. No expiry is set and no
// membership is granted until a payment confirmation arrives.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Subscription, error) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).Where("id = ?", req.ChannelID).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: channel %s", ErrNotFound, req.ChannelID)
		}
		return nil, fmt.Errorf("load channel: %w", err)
	}
	if !channel.IsActive {
		return nil, ErrChannelInactive
	}

	var plan models.Plan
	if err := s.db.WithContext(ctx).Where("id = ?", req.PlanID).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: plan %s", ErrNotFound, req.PlanID)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan.ChannelID != channel.ID {
		return nil, ErrPlanMismatch
	}

	ref := req.ExternalPaymentRef
	if ref == "" {
		ref = "order_" + strings.ReplaceAll(tool.GenerateUUIDV7(), "-", "")
	}

	sub := &models.Subscription{
		ID:                 tool.GenerateUUIDV7(),
		UserID:             req.UserID,
		ChannelID:          channel.ID,
		PlanID:             plan.ID,
		Status:             types.SubscriptionStatusPendingPayment,
		MembershipState:    types.MembershipStateNotGranted,
		TelegramUserID:     req.TelegramUserID,
		ExternalPaymentRef: ref,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription_created",
		"subscription_id", sub.ID, "user_id", sub.UserID,
		"channel_id", sub.ChannelID, "plan_id", sub.PlanID)
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	return &sub, nil
}

type ScanRequest struct {
	Filters   []*types.CommonFilter
	From      int
	Size      int
	SortBy    string
	SortOrder string
}

type ScanResult struct {
	Items []*models.Subscription
	Total int64
}

// filtersWhere wraps a list of filters to a single clause.Expression.
type filtersWhere struct{ filters []*types.CommonFilter }

func (w filtersWhere) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

// Scan lists subscriptions with filter, sort, and offset pagination for the
// admin API.
func (s *Service) Scan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	q := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Clauses(clause.Where{Exprs: []clause.Expression{filtersWhere{filters: req.Filters}}})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	order := "desc"
	if strings.EqualFold(req.SortOrder, "asc") {
		order = "asc"
	}

	size := req.Size
	if size <= 0 || size > 200 {
		size = 50
	}

	var items []*models.Subscription
	err := q.Order(clause.OrderByColumn{
		Column: clause.Column{Name: sortBy},
		Desc:   order == "desc",
	}).Offset(req.From).Limit(size).Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("scan subscriptions: %w", err)
	}
	return &ScanResult{Items: items, Total: total}, nil
}

// Cancel submits a cancellation request on behalf of the user or an
// operator. The engine decides whether the current state allows it.
func (s *Service) Cancel(ctx context.Context, id, operatorID string) error {
	return s.submitAdminEvent(ctx, id, operatorID, types.EventKindCancellationRequested)
}

// Revoke force-terminates a subscription. Operator identity is recorded in
// the event payload for audit.
func (s *Service) Revoke(ctx context.Context, id, operatorID string) error {
	return s.submitAdminEvent(ctx, id, operatorID, types.EventKindManualRevoke)
}

func (s *Service) submitAdminEvent(ctx context.Context, id, operatorID string, kind types.EventKind) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	ev := &models.SubscriptionEvent{
		ID:             tool.GenerateUUIDV7(),
		Kind:           kind,
		SubscriptionID: id,
		Source:         types.EventSourceAdmin,
		OccurredAt:     s.clk.Now(),
		Payload:        []byte(fmt.Sprintf(`{"operator_id":%q}`, operatorID)),
	}
	return s.sink.Submit(ctx, ev)
}
