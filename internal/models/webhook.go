package models

// EventKind is the provider-agnostic meaning of a payment webhook
type EventKind string

const (
	EventProcessing EventKind = "processing"
	EventSucceeded  EventKind = "succeeded"
	EventCanceled   EventKind = "canceled"
	EventExpired    EventKind = "expired"
)

// TargetState returns the state the event asks the cart to reach
func (k EventKind) TargetState() TransactionState {
	switch k {
	case EventProcessing:
		return StateProcessing
	case EventSucceeded:
		return StatePaid
	case EventCanceled:
		return StateCanceled
	case EventExpired:
		return StateExpired
	default:
		return ""
	}
}

// WebhookEvent is a verified, normalized gateway notification
type WebhookEvent struct {
	Provider      string
	EventID       string
	Kind          EventKind
	TransactionID string
	// Amount is the amount the provider reports as received, when it does
	Amount *int
}
