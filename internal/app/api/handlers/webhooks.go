package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/channelgate/channelgate/internal/app/service/idempotency"
	"github.com/channelgate/channelgate/internal/app/service/lifecycle"
	"github.com/channelgate/channelgate/internal/app/service/normalizer"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/response"
	"github.com/channelgate/channelgate/pkg/types"
)

// webhookIngest chains normalize, admit, submit for one provider source.
// Providers retry on non-2xx, so only failures we want redelivered return
// one: signature and resolution problems are final and get 4xx, duplicates
// get the same 200 as first delivery.
func webhookIngest(norm *normalizer.Service, guard *idempotency.Guard, sink lifecycle.Sink, log *zap.SugaredLogger, source types.EventSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}

		l := logctx.FromGin(c, log)
		ev, err := norm.Normalize(c.Request.Context(), source, raw, c.Request.Header)
		if err != nil {
			switch {
			case errors.Is(err, normalizer.ErrInvalidSignature):
				l.Warnw("webhook_rejected", "source", source, "reason", "invalid_signature")
				c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid signature"))
			case errors.Is(err, normalizer.ErrUnresolvedSubscription):
				l.Warnw("webhook_unresolved", "source", source, "err", err.Error())
				c.JSON(http.StatusUnprocessableEntity, response.ErrorT[any](response.APIResponseCodeBadRequest, "unresolved subscription"))
			case errors.Is(err, normalizer.ErrUnsupportedEvent):
				// Acknowledged so the provider stops retrying event kinds we
				// deliberately ignore.
				l.Infow("webhook_ignored", "source", source, "err", err.Error())
				c.JSON(http.StatusOK, response.OKT(gin.H{"status": "ignored"}))
			default:
				l.Warnw("webhook_malformed", "source", source, "err", err.Error())
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "malformed payload"))
			}
			return
		}

		admitted, err := guard.Admit(c.Request.Context(), ev)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, "admission failed"))
			return
		}
		if !admitted {
			c.JSON(http.StatusOK, response.OKT(gin.H{"status": "duplicate"}))
			return
		}

		if err := sink.Submit(c.Request.Context(), ev); err != nil {
			// Give the admitted id back so the provider's retry of this
			// delivery is not deduplicated into a lost event.
			if relErr := guard.Release(c.Request.Context(), ev); relErr != nil {
				l.Errorw("webhook_release_failed", "source", source, "event_id", ev.ID, "err", relErr)
			}
			if errors.Is(err, lifecycle.ErrSubscriptionNotFound) {
				c.JSON(http.StatusUnprocessableEntity, response.ErrorT[any](response.APIResponseCodeBadRequest, "unknown subscription"))
				return
			}
			l.Errorw("webhook_submit_failed", "source", source, "event_id", ev.ID, "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, "processing failed"))
			return
		}

		c.JSON(http.StatusOK, response.OKT(gin.H{"status": "processed", "event_id": ev.ID}))
	}
}

// @Summary      Payment gateway webhook
// @Description  Receives signed payment gateway events (payment captured / failed).
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        X-Gateway-Signature header string true "Hex HMAC-SHA256 of the raw body"
// @Success      200  {object}  handlers.RespOK
// @Failure      401  {object}  handlers.RespOK
// @Failure      422  {object}  handlers.RespOK
// @Router       /api/v1/webhooks/gateway [post]
func ApiGatewayWebhook(norm *normalizer.Service, guard *idempotency.Guard, sink lifecycle.Sink, log *zap.SugaredLogger) gin.HandlerFunc {
	return webhookIngest(norm, guard, sink, log, types.EventSourceGateway)
}

// @Summary      Automation relay webhook
// @Description  Receives token-authenticated events from the workflow relay (cancellations, manual payment marks).
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        X-Relay-Token header string true "Shared relay token"
// @Success      200  {object}  handlers.RespOK
// @Failure      401  {object}  handlers.RespOK
// @Failure      422  {object}  handlers.RespOK
// @Router       /api/v1/webhooks/relay [post]
func ApiRelayWebhook(norm *normalizer.Service, guard *idempotency.Guard, sink lifecycle.Sink, log *zap.SugaredLogger) gin.HandlerFunc {
	return webhookIngest(norm, guard, sink, log, types.EventSourceRelay)
}

func RegisterWebhookRoutes(r gin.IRouter, norm *normalizer.Service, guard *idempotency.Guard, sink lifecycle.Sink, log *zap.SugaredLogger) {
	r.POST("/gateway", ApiGatewayWebhook(norm, guard, sink, log))
	r.POST("/relay", ApiRelayWebhook(norm, guard, sink, log))
}
