package models

import (
	"math"
	"time"
)

const (
	// MaxLineQuantity bounds the units a single cart line may hold
	MaxLineQuantity = 100
	// MaxTotalPrice is the largest total the carts table can store
	MaxTotalPrice = math.MaxInt32
)

// TransactionState represents where a cart is in its payment lifecycle
type TransactionState string

const (
	StatePendingCreation TransactionState = "pending-creation"
	StatePending         TransactionState = "pending"
	StateProcessing      TransactionState = "processing"
	StatePaid            TransactionState = "paid"
	StateCanceled        TransactionState = "canceled"
	StateExpired         TransactionState = "expired"
	StateErrored         TransactionState = "errored"
	StateRefunded        TransactionState = "refunded"
)

// ReservingStates are the states whose lines count against item stock
var ReservingStates = []TransactionState{StatePendingCreation, StatePending, StateProcessing, StatePaid}

// UnpaidStates are the states of carts still waiting for a payment outcome
var UnpaidStates = []TransactionState{StatePendingCreation, StatePending, StateProcessing}

// providerTransitions lists the legal provider-driven moves
var providerTransitions = map[TransactionState][]TransactionState{
	StatePending:    {StateProcessing, StatePaid, StateCanceled, StateExpired, StateErrored},
	StateProcessing: {StatePaid, StateCanceled, StateErrored},
}

// IsTerminal returns true when no provider event is expected anymore
func (s TransactionState) IsTerminal() bool {
	switch s {
	case StatePaid, StateCanceled, StateExpired, StateErrored, StateRefunded:
		return true
	default:
		return false
	}
}

// IsReserving returns true if lines of a cart in this state hold stock
func (s TransactionState) IsReserving() bool {
	for _, r := range ReservingStates {
		if s == r {
			return true
		}
	}
	return false
}

// IsValid returns true for known states
func (s TransactionState) IsValid() bool {
	switch s {
	case StatePendingCreation, StatePending, StateProcessing, StatePaid,
		StateCanceled, StateExpired, StateErrored, StateRefunded:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a webhook may move a cart from s to next
func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	for _, allowed := range providerTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cart is the aggregate of one checkout attempt
type Cart struct {
	ID                  string           `json:"id" db:"id"`
	UserID              string           `json:"userId" db:"user_id"`
	TransactionID       *string          `json:"transactionId,omitempty" db:"transaction_id"`
	TransactionProvider string           `json:"transactionProvider" db:"transaction_provider"`
	TransactionState    TransactionState `json:"transactionState" db:"transaction_state"`
	TotalPrice          int              `json:"totalPrice" db:"total_price"` // in cents
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time        `json:"updatedAt" db:"updated_at"`
	PaidAt              *time.Time       `json:"paidAt,omitempty" db:"paid_at"`

	Lines []CartLine `json:"cartItems"`
}

// CartLine is one (item, beneficiary) row with its price snapshot
type CartLine struct {
	ID           string `json:"id" db:"id"`
	CartID       string `json:"cartId" db:"cart_id"`
	ItemID       string `json:"itemId" db:"item_id"`
	ForUserID    string `json:"forUserId" db:"for_user_id"`
	Quantity     int    `json:"quantity" db:"quantity"`
	Price        int    `json:"price" db:"price"`
	ReducedPrice *int   `json:"reducedPrice,omitempty" db:"reduced_price"`
	Reduced      bool   `json:"reduced" db:"reduced"`
	// IsTicket is copied from the item category at assembly time
	IsTicket bool `json:"-" db:"-"`
}

// UnitPrice returns the captured price that applies to this line
func (l *CartLine) UnitPrice() int {
	if l.Reduced && l.ReducedPrice != nil {
		return *l.ReducedPrice
	}
	return l.Price
}

// Amount returns the captured line total
func (l *CartLine) Amount() int {
	return l.UnitPrice() * l.Quantity
}

// ComputeTotal sums the captured line totals
func (c *Cart) ComputeTotal() int {
	total := 0
	for i := range c.Lines {
		total += c.Lines[i].Amount()
	}
	return total
}

// QuantitiesByItem sums requested quantities per item across all lines
func (c *Cart) QuantitiesByItem() map[string]int {
	quantities := make(map[string]int)
	for _, line := range c.Lines {
		quantities[line.ItemID] += line.Quantity
	}
	return quantities
}

// TicketLines returns the lines that are event tickets
func (c *Cart) TicketLines() []CartLine {
	var tickets []CartLine
	for _, line := range c.Lines {
		if line.IsTicket {
			tickets = append(tickets, line)
		}
	}
	return tickets
}

// ItemIDs returns the distinct item ids referenced by the cart
func (c *Cart) ItemIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, line := range c.Lines {
		if !seen[line.ItemID] {
			seen[line.ItemID] = true
			ids = append(ids, line.ItemID)
		}
	}
	return ids
}

// AttendantID returns the attendant registered by the cart, if any
func (c *Cart) AttendantID() string {
	for _, line := range c.Lines {
		if line.ItemID == ItemTicketAttendant {
			return line.ForUserID
		}
	}
	return ""
}

// IsPaid returns true if the cart is paid
func (c *Cart) IsPaid() bool {
	return c.TransactionState == StatePaid
}

// HasTransaction returns true once the gateway reference is attached
func (c *Cart) HasTransaction() bool {
	return c.TransactionID != nil && *c.TransactionID != ""
}
