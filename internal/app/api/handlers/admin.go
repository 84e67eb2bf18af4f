package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/channelgate/channelgate/internal/app/service/membership"
	"github.com/channelgate/channelgate/internal/app/service/scheduler"
	subsvc "github.com/channelgate/channelgate/internal/app/service/subscription"
	models "github.com/channelgate/channelgate/internal/models"
	"github.com/channelgate/channelgate/pkg/response"
	"github.com/channelgate/channelgate/pkg/types"
)

type ListSubscriptionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionItem `json:"items"`
	Total int64               `json:"total"`
}

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscriptions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListSubscriptionsRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListSubscriptionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		scanReq := &subsvc.ScanRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		res, err := svc.Scan(c.Request.Context(), scanReq)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		items := lo.Map(res.Items, func(it *models.Subscription, _ int) *SubscriptionItem { return toSubscriptionItem(it) })
		c.JSON(http.StatusOK, response.OKT(&ListSubscriptionsResponse{Items: items, Total: res.Total}))
	}
}

type adminActionRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required"`
	OperatorID     string `json:"operator_id" binding:"required"`
}

// @Summary      Revoke Subscription (Admin)
// @Description  Force-terminates a subscription and removes channel access.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body adminActionRequest true "Revoke request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/revoke_subscription [post]
func ApiRevokeSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adminActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := svc.Revoke(c.Request.Context(), req.SubscriptionID, req.OperatorID); err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, subsvc.ErrNotFound) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Cancel Subscription (Admin)
// @Description  Cancels a subscription on behalf of a user.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body adminActionRequest true "Cancel request"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/cancel_subscription [post]
func ApiAdminCancelSubscription(svc *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req adminActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := svc.Cancel(c.Request.Context(), req.SubscriptionID, req.OperatorID); err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, subsvc.ErrNotFound) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

type ReconcileResponse struct {
	IntentsEnqueued int `json:"intents_enqueued"`
}

// @Summary      Force Reconciliation (Admin)
// @Description  Runs one membership reconciliation pass and one lifecycle scan immediately.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespReconcile
// @Router       /api/v1/admin/reconcile [post]
func ApiReconcile(rec *membership.Reconciler, sched *scheduler.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sched.Scan(c.Request.Context()); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		n, err := rec.Reconcile(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ReconcileResponse{IntentsEnqueued: n}))
	}
}

func RegisterAdminRoutes(r gin.IRouter, svc *subsvc.Service, rec *membership.Reconciler, sched *scheduler.Scheduler) {
	r.POST("/list_subscriptions", ApiListSubscriptions(svc))
	r.POST("/revoke_subscription", ApiRevokeSubscription(svc))
	r.POST("/cancel_subscription", ApiAdminCancelSubscription(svc))
	r.POST("/reconcile", ApiReconcile(rec, sched))
}
