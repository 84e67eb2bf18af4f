package handlers

import (
    "github.com/channelgate/channelgate/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
    Code    response.APIResponseCode `json:"code"`
    Message string                   `json:"message"`
    Data    interface{}              `json:"data"`
}

// RespSubscription wraps SubscriptionItem in the standard envelope.
type RespSubscription struct {
    Code    response.APIResponseCode `json:"code"`
    Message string                   `json:"message"`
    Data    SubscriptionItem         `json:"data"`
}

// RespListSubscriptions wraps ListSubscriptionsResponse in the standard envelope.
type RespListSubscriptions struct {
    Code    response.APIResponseCode  `json:"code"`
    Message string                    `json:"message"`
    Data    ListSubscriptionsResponse `json:"data"`
}

// RespReconcile wraps ReconcileResponse in the standard envelope.
type RespReconcile struct {
    Code    response.APIResponseCode `json:"code"`
    Message string                   `json:"message"`
    Data    ReconcileResponse        `json:"data"`
}
