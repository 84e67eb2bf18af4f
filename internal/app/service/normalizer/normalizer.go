package normalizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/channelgate/channelgate/internal/clock"
	"github.com/channelgate/channelgate/internal/models"
	cfgpkg "github.com/channelgate/channelgate/pkg/config"
	"github.com/channelgate/channelgate/pkg/logctx"
	"github.com/channelgate/channelgate/pkg/tool"
	"github.com/channelgate/channelgate/pkg/types"
)

var (
	// ErrInvalidSignature rejects a payload whose authenticity check failed.
	// The event never reaches the idempotency guard.
	ErrInvalidSignature = errors.New("normalizer: invalid payload signature")
	// ErrMalformedPayload rejects structurally unusable payloads.
	ErrMalformedPayload = errors.New("normalizer: malformed payload")
	// ErrUnresolvedSubscription means the payload carried no reference that
	// resolves to a known subscription. Reported for operator attention,
	// not retried by the engine.
	ErrUnresolvedSubscription = errors.New("normalizer: unresolved subscription")
	// ErrUnsupportedEvent marks provider events the engine does not consume.
	ErrUnsupportedEvent = errors.New("normalizer: unsupported event")
)

// payloadParser turns one provider's raw webhook body into a canonical
// subscription event. Each source registers its own implementation.
type payloadParser interface {
	Source() types.EventSource
	// Verify checks payload authenticity before any content is trusted.
	Verify(raw []byte, header http.Header) error
	// Parse extracts the provider fields; subscription resolution happens
	// in the service afterwards.
	Parse(raw []byte) (*providerEvent, error)
}

// providerEvent is the parsed but not yet resolved provider payload.
type providerEvent struct {
	Kind            types.EventKind
	ProviderEventID string
	OccurredAt      time.Time
	// Resolution references, provider-dependent.
	SubscriptionID string
	PaymentRef     string
	UserID         string
	PlanID         string
	Raw            []byte
}

type Service struct {
	db      *gorm.DB
	cfg     *cfgpkg.Config
	clk     clock.Clock
	log     *zap.SugaredLogger
	parsers map[types.EventSource]payloadParser
}

func NewService(db *gorm.DB, cfg *cfgpkg.Config, clk clock.Clock, log *zap.SugaredLogger) *Service {
	s := &Service{db: db, cfg: cfg, clk: clk, log: log, parsers: map[types.EventSource]payloadParser{}}
	s.register(newGatewayParser(cfg.Webhooks.GatewaySecret))
	s.register(newRelayParser(cfg.Webhooks.RelayToken))
	return s
}

func (s *Service) register(p payloadParser) {
	s.parsers[p.Source()] = p
}

// Normalize verifies, parses, and resolves one raw webhook delivery into a
// canonical SubscriptionEvent ready for the idempotency guard.
func (s *Service) Normalize(ctx context.Context, source types.EventSource, raw []byte, header http.Header) (*models.SubscriptionEvent, error) {
	parser, ok := s.parsers[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", ErrMalformedPayload, source)
	}

	if err := parser.Verify(raw, header); err != nil {
		return nil, err
	}

	pe, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	sub, err := s.resolve(ctx, pe)
	if err != nil {
		return nil, err
	}

	occurredAt := pe.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clk.Now()
	}

	ev := &models.SubscriptionEvent{
		ID:             tool.GenerateUUIDV7(),
		Kind:           pe.Kind,
		SubscriptionID: sub.ID,
		Source:         source,
		OccurredAt:     occurredAt,
		Payload:        pe.Raw,
	}
	if pe.ProviderEventID != "" {
		id := pe.ProviderEventID
		ev.ProviderEventID = &id
	}

	logctx.FromCtx(ctx, s.log).Infow("event_normalized",
		"source", source, "kind", ev.Kind, "subscription_id", ev.SubscriptionID,
		"provider_event_id", pe.ProviderEventID)
	return ev, nil
}

// resolve finds the subscription a provider event refers to: explicit id
// first, then payment reference, then the user's pending subscription for a
// plan. A reference that misses falls through to the next one, so a stale
// id in provider notes does not mask a resolvable order id.
func (s *Service) resolve(ctx context.Context, pe *providerEvent) (*models.Subscription, error) {
	var sub models.Subscription

	if pe.SubscriptionID != "" {
		err := s.db.WithContext(ctx).Where("id = ?", pe.SubscriptionID).First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("resolve by id: %w", err)
		}
	}
	if pe.PaymentRef != "" {
		err := s.db.WithContext(ctx).Where("external_payment_ref = ?", pe.PaymentRef).First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("resolve by payment ref: %w", err)
		}
	}
	if pe.UserID != "" && pe.PlanID != "" {
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND plan_id = ? AND status IN ?", pe.UserID, pe.PlanID,
				[]types.SubscriptionStatus{types.SubscriptionStatusPendingPayment, types.SubscriptionStatusGracePeriod}).
			Order("created_at desc").
			First(&sub).Error
		if err == nil {
			return &sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("resolve by user+plan: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: provider_event_id=%s", ErrUnresolvedSubscription, pe.ProviderEventID)
}
