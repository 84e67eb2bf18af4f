package lifecycle

import (
	"time"

	"github.com/channelgate/channelgate/pkg/types"
)

// View is the snapshot of a subscription the transition function operates
// on. It is deliberately free of storage concerns so transitions are pure
// and independently testable.
type View struct {
	Status         types.SubscriptionStatus
	StartedAt      *time.Time
	ExpiresAt      *time.Time
	GraceUntil     *time.Time
	LastRemindedAt *time.Time
}

// Rules carries the per-plan and per-channel durations a transition needs.
type Rules struct {
	PlanDuration    time.Duration
	GraceWindow     time.Duration
	ReminderWindow  time.Duration
	ReminderCadence time.Duration
}

// NoticeKind names a user-facing message produced by a transition.
type NoticeKind string

const (
	NoticeActivated    NoticeKind = "activated"
	NoticeRenewed      NoticeKind = "renewed"
	NoticeReminder     NoticeKind = "reminder"
	NoticeGraceStarted NoticeKind = "grace_started"
	NoticeExpired      NoticeKind = "expired"
)

// Outcome is the full result of applying one event: the next view plus the
// side effects the caller must dispatch. NoOp outcomes leave the view
// untouched; late or inapplicable events are expected under distributed
// delivery and are never errors.
type Outcome struct {
	NoOp   bool
	Reason string
	Next   View
	// Intents are desired membership-synchronizer actions.
	Intents []types.IntentAction
	Notices []NoticeKind
}

func noop(cur View, reason string) Outcome {
	return Outcome{NoOp: true, Reason: reason, Next: cur}
}

// Transition computes the next subscription state for one event. It is pure
// given (view, event kind, now, rules): no clock reads, no storage, no
// hidden globals.
func Transition(cur View, kind types.EventKind, now time.Time, r Rules) Outcome {
	if cur.Status.Terminal() {
		return noop(cur, "terminal state")
	}

	switch cur.Status {
	case types.SubscriptionStatusPendingPayment:
		switch kind {
		case types.EventKindPaymentConfirmed:
			started := now
			expires := now.Add(r.PlanDuration)
			next := cur
			next.Status = types.SubscriptionStatusActive
			next.StartedAt = &started
			next.ExpiresAt = &expires
			return Outcome{
				Next:    next,
				Intents: []types.IntentAction{types.IntentActionGrant},
				Notices: []NoticeKind{NoticeActivated},
			}
		case types.EventKindPaymentFailed:
			next := cur
			next.Status = types.SubscriptionStatusCancelled
			// No membership was ever granted; nothing to revoke.
			return Outcome{Next: next}
		}

	case types.SubscriptionStatusActive:
		switch kind {
		case types.EventKindReminderDue:
			if cur.ExpiresAt == nil || cur.ExpiresAt.Sub(now) > r.ReminderWindow {
				return noop(cur, "outside reminder window")
			}
			if !now.Before(*cur.ExpiresAt) {
				return noop(cur, "already past expiry")
			}
			if cur.LastRemindedAt != nil && now.Sub(*cur.LastRemindedAt) < r.ReminderCadence {
				return noop(cur, "reminded within cadence")
			}
			next := cur
			reminded := now
			next.LastRemindedAt = &reminded
			return Outcome{Next: next, Notices: []NoticeKind{NoticeReminder}}
		case types.EventKindExpiryDue:
			if cur.ExpiresAt == nil || now.Before(*cur.ExpiresAt) {
				return noop(cur, "not yet expired")
			}
			next := cur
			next.Status = types.SubscriptionStatusGracePeriod
			grace := cur.ExpiresAt.Add(r.GraceWindow)
			next.GraceUntil = &grace
			return Outcome{Next: next, Notices: []NoticeKind{NoticeGraceStarted}}
		}

	case types.SubscriptionStatusGracePeriod:
		switch kind {
		case types.EventKindPaymentConfirmed:
			// Renewal extends from the original expiry, not from now: a
			// late payer keeps the unused grace days, an early payer gets
			// no bonus overlap.
			if cur.ExpiresAt == nil {
				return noop(cur, "grace period without expiry")
			}
			next := cur
			next.Status = types.SubscriptionStatusActive
			expires := cur.ExpiresAt.Add(r.PlanDuration)
			next.ExpiresAt = &expires
			next.GraceUntil = nil
			return Outcome{Next: next, Notices: []NoticeKind{NoticeRenewed}}
		case types.EventKindExpiryDue:
			if cur.GraceUntil == nil || now.Before(*cur.GraceUntil) {
				return noop(cur, "grace not yet over")
			}
			next := cur
			next.Status = types.SubscriptionStatusExpired
			return Outcome{
				Next:    next,
				Intents: []types.IntentAction{types.IntentActionRevoke},
				Notices: []NoticeKind{NoticeExpired},
			}
		}
	}

	// Cross-state events.
	switch kind {
	case types.EventKindCancellationRequested:
		if cur.Status != types.SubscriptionStatusActive && cur.Status != types.SubscriptionStatusGracePeriod {
			return noop(cur, "cancellation only applies to active or grace")
		}
		next := cur
		next.Status = types.SubscriptionStatusCancelled
		next.ExpiresAt = nil
		next.GraceUntil = nil
		return Outcome{Next: next, Intents: []types.IntentAction{types.IntentActionRevoke}}
	case types.EventKindManualRevoke:
		next := cur
		next.Status = types.SubscriptionStatusRevoked
		next.ExpiresAt = nil
		next.GraceUntil = nil
		return Outcome{Next: next, Intents: []types.IntentAction{types.IntentActionRevoke}}
	}

	return noop(cur, "event not applicable to state")
}
