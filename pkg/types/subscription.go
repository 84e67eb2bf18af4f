package types

type SubscriptionStatus string

const (
	SubscriptionStatusPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusGracePeriod    SubscriptionStatus = "grace_period"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusRevoked        SubscriptionStatus = "revoked"
	SubscriptionStatusCancelled      SubscriptionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
// A lapsed user starts a brand-new subscription instead.
func (s SubscriptionStatus) Terminal() bool {
	switch s {
	case SubscriptionStatusExpired, SubscriptionStatusRevoked, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// WantsMembership reports whether the status entitles the user to
// channel membership. Divergence between this and the recorded
// MembershipState is a reconciliation target.
func (s SubscriptionStatus) WantsMembership() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusGracePeriod
}

// MembershipState tracks the platform side of channel access. It is kept
// separate from SubscriptionStatus because membership sync can lag or fail
// independently of the entitlement.
type MembershipState string

const (
	MembershipStateNotGranted        MembershipState = "not_granted"
	MembershipStateGranted           MembershipState = "granted"
	MembershipStateRevocationPending MembershipState = "revocation_pending"
	MembershipStateRevoked           MembershipState = "revoked"
)

type EventKind string

const (
	EventKindPaymentConfirmed      EventKind = "payment_confirmed"
	EventKindPaymentFailed         EventKind = "payment_failed"
	EventKindReminderDue           EventKind = "reminder_due"
	EventKindExpiryDue             EventKind = "expiry_due"
	EventKindCancellationRequested EventKind = "cancellation_requested"
	EventKindManualRevoke          EventKind = "manual_revoke"
)

// EventSource identifies who produced a subscription event.
type EventSource string

const (
	EventSourceGateway   EventSource = "gateway"
	EventSourceRelay     EventSource = "relay"
	EventSourceScheduler EventSource = "scheduler"
	EventSourceAdmin     EventSource = "admin"
)

type IntentAction string

const (
	IntentActionGrant                IntentAction = "grant"
	IntentActionRevoke               IntentAction = "revoke"
	IntentActionRegenerateInviteLink IntentAction = "regenerate_invite_link"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusInFlight  IntentStatus = "in_flight"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFatal     IntentStatus = "fatal"
)
