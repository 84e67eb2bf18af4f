package normalizer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/channelgate/channelgate/pkg/types"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw gateway body.
const SignatureHeader = "X-Gateway-Signature"

// gatewayParser handles the payment gateway's webhook format:
//
//	{
//	  "event": "payment.captured",
//	  "event_id": "evt_...",
//	  "created_at": 1718000000,
//	  "payload": {"payment": {"entity": {
//	      "id": "pay_...", "order_id": "order_...",
//	      "notes": {"subscription_id": "..."}}}}
//	}
type gatewayParser struct {
	secret string
}

func newGatewayParser(secret string) *gatewayParser {
	return &gatewayParser{secret: secret}
}

func (p *gatewayParser) Source() types.EventSource { return types.EventSourceGateway }

// Verify checks the signature header against an HMAC-SHA256 of the raw
// body, compared timing-safely.
func (p *gatewayParser) Verify(raw []byte, header http.Header) error {
	if p.secret == "" {
		return fmt.Errorf("%w: gateway secret not configured", ErrInvalidSignature)
	}
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

type gatewayPayload struct {
	Event     string `json:"event"`
	EventID   string `json:"event_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (p *gatewayParser) Parse(raw []byte) (*providerEvent, error) {
	var body gatewayPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var kind types.EventKind
	switch body.Event {
	case "payment.captured":
		kind = types.EventKindPaymentConfirmed
	case "payment.failed":
		kind = types.EventKindPaymentFailed
	default:
		return nil, fmt.Errorf("%w: gateway event %q", ErrUnsupportedEvent, body.Event)
	}

	entity := body.Payload.Payment.Entity
	if body.EventID == "" || entity.OrderID == "" {
		return nil, fmt.Errorf("%w: missing event_id or order_id", ErrMalformedPayload)
	}

	pe := &providerEvent{
		Kind:            kind,
		ProviderEventID: body.EventID,
		PaymentRef:      entity.OrderID,
		SubscriptionID:  entity.Notes["subscription_id"],
		Raw:             raw,
	}
	if body.CreatedAt > 0 {
		pe.OccurredAt = time.Unix(body.CreatedAt, 0).UTC()
	}
	return pe, nil
}
