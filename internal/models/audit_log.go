package models

import (
	"time"
)

// TransitionSource tells what drove a cart state change
type TransitionSource string

const (
	SourceWebhook   TransitionSource = "webhook"
	SourceAdmin     TransitionSource = "admin"
	SourceAssembler TransitionSource = "assembler"
	SourceJanitor   TransitionSource = "janitor"
)

// CartTransition is an audit row written for every cart state change
type CartTransition struct {
	ID        int64            `json:"id" db:"id"`
	CartID    string           `json:"cartId" db:"cart_id"`
	FromState TransactionState `json:"fromState" db:"from_state"`
	ToState   TransactionState `json:"toState" db:"to_state"`
	Source    TransitionSource `json:"source" db:"source"`
	Provider  *string          `json:"provider,omitempty" db:"provider"`
	EventID   *string          `json:"eventId,omitempty" db:"event_id"`
	Actor     *string          `json:"actor,omitempty" db:"actor"`
	Reason    *string          `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
}

// IsOverride returns true for administrative changes
func (t *CartTransition) IsOverride() bool {
	return t.Source == SourceAdmin
}
