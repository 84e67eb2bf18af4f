package normalizer

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/channelgate/channelgate/pkg/types"
)

// RelayTokenHeader carries the shared token authenticating the automation
// platform relay.
const RelayTokenHeader = "X-Relay-Token"

// relayParser handles events forwarded by the automation platform:
// explicit subscription id plus an action name.
//
//	{"event_id": "...", "subscription_id": "...",
//	 "action": "cancel", "occurred_at": "2026-01-02T15:04:05Z"}
type relayParser struct {
	token string
}

func newRelayParser(token string) *relayParser {
	return &relayParser{token: token}
}

func (p *relayParser) Source() types.EventSource { return types.EventSourceRelay }

func (p *relayParser) Verify(raw []byte, header http.Header) error {
	if p.token == "" {
		return fmt.Errorf("%w: relay token not configured", ErrInvalidSignature)
	}
	got := header.Get(RelayTokenHeader)
	if got == "" || !hmac.Equal([]byte(got), []byte(p.token)) {
		return ErrInvalidSignature
	}
	return nil
}

type relayPayload struct {
	EventID        string    `json:"event_id"`
	SubscriptionID string    `json:"subscription_id"`
	Action         string    `json:"action"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (p *relayParser) Parse(raw []byte) (*providerEvent, error) {
	var body relayPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.EventID == "" || body.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: missing event_id or subscription_id", ErrMalformedPayload)
	}

	var kind types.EventKind
	switch body.Action {
	case "cancel":
		kind = types.EventKindCancellationRequested
	case "payment_failed":
		kind = types.EventKindPaymentFailed
	case "payment_confirmed":
		kind = types.EventKindPaymentConfirmed
	default:
		return nil, fmt.Errorf("%w: relay action %q", ErrUnsupportedEvent, body.Action)
	}

	return &providerEvent{
		Kind:            kind,
		ProviderEventID: body.EventID,
		SubscriptionID:  body.SubscriptionID,
		OccurredAt:      body.OccurredAt,
		Raw:             raw,
	}, nil
}
