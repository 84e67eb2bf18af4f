package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	subsvc "github.com/channelgate/channelgate/internal/app/service/subscription"
	models "github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/response"
	"github.com/channelgate/channelgate/pkg/types"
)

// SubscriptionItem is the API view of a subscription.
type SubscriptionItem struct {
	ID                 string                   `json:"id"`
	UserID             string                   `json:"user_id"`
	ChannelID          string                   `json:"channel_id"`
	PlanID             string                   `json:"plan_id"`
	Status             types.SubscriptionStatus `json:"status"`
	StartedAt          *time.Time               `json:"started_at"`
	ExpiresAt          *time.Time               `json:"expires_at"`
	GraceUntil         *time.Time               `json:"grace_until"`
	LastRemindedAt     *time.Time               `json:"last_reminded_at"`
	ExternalPaymentRef string                   `json:"external_payment_ref"`
	MembershipState    types.MembershipState    `json:"membership_state"`
	TelegramUserID     string                   `json:"telegram_user_id"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

func toSubscriptionItem(m *models.Subscription) *SubscriptionItem {
	return &SubscriptionItem{
		ID:                 m.ID,
		UserID:             m.UserID,
		ChannelID:          m.ChannelID,
		PlanID:             m.PlanID,
		Status:             m.Status,
		StartedAt:          m.StartedAt,
		ExpiresAt:          m.ExpiresAt,
		GraceUntil:         m.GraceUntil,
		LastRemindedAt:     m.LastRemindedAt,
		ExternalPaymentRef: m.ExternalPaymentRef,
		MembershipState:    m.MembershipState,
		TelegramUserID:     m.TelegramUserID,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// @Summary      Create Subscription
// @Description  Opens a pending subscription awaiting payment confirmation from the gateway.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body subscription.CreateRequest true "Subscription create request"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscriptions [post]
func ApiCreateSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		sub, err := svc.Create(c.Request.Context(), &req)
		if err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, subsvc.ErrNotFound) || errors.Is(err, subsvc.ErrChannelInactive) || errors.Is(err, subsvc.ErrPlanMismatch) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toSubscriptionItem(sub)))
	}
}

// @Summary      Get Subscription
// @Description  Returns one subscription by id.
// @Tags         Subscription
// @Produce      json
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/subscriptions/{id} [get]
func ApiGetSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, subsvc.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toSubscriptionItem(sub)))
	}
}

// @Summary      Cancel Subscription
// @Description  Requests cancellation of the caller's subscription. Access is removed immediately when the request is accepted.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/subscriptions/{id}/cancel [post]
func ApiCancelSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Cancel(c.Request.Context(), c.Param("id"), "user"); err != nil {
			if errors.Is(err, subsvc.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, svc *subsvc.Service) {
	r.POST("/subscriptions", ApiCreateSubscription(svc))
	r.GET("/subscriptions/:id", ApiGetSubscription(svc))
	r.POST("/subscriptions/:id/cancel", ApiCancelSubscription(svc))
}
