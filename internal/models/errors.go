package models

import (
	"errors"
	"fmt"
)

// ErrorKind groups domain errors by how callers should react to them
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindDomain       ErrorKind = "domain"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
	KindGateway      ErrorKind = "gateway"
)

// DomainError is a client reportable error with a stable code.
// Two DomainErrors match with errors.Is when their codes are equal, so
// a detailed copy made with WithDetail still matches its sentinel.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of the error carrying extra context
func (e *DomainError) WithDetail(format string, args ...interface{}) *DomainError {
	return &DomainError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...)),
	}
}

func newError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Common errors used throughout the application
var (
	ErrInvalidInput = newError(KindValidation, "invalid_input", "invalid input")
	ErrUnauthorized = newError(KindUnauthorized, "unauthorized", "unauthorized access")

	ErrUserNotFound = newError(KindNotFound, "user_not_found", "user not found")
	ErrCartNotFound = newError(KindNotFound, "cart_not_found", "cart not found")
	ErrItemNotFound = newError(KindNotFound, "item_not_found", "item not found")
	ErrTeamNotFound = newError(KindNotFound, "team_not_found", "team not found")

	ErrEmptyBasket                = newError(KindDomain, "empty_basket", "the basket is empty")
	ErrBeneficiaryAlreadyPaid     = newError(KindDomain, "already_paid", "the user already has a paid ticket")
	ErrBeneficiaryNotInTeam       = newError(KindDomain, "not_in_team", "the user is not in your team")
	ErrUnsupportedUserType        = newError(KindDomain, "unsupported_user_type", "no ticket exists for this user type")
	ErrDuplicateBeneficiary       = newError(KindDomain, "duplicate_beneficiary", "a user can only receive one ticket per cart")
	ErrBeneficiaryTicketPending   = newError(KindDomain, "ticket_pending", "the user already has a ticket waiting for payment")
	ErrTournamentFull             = newError(KindDomain, "tournament_full", "the tournament is full")
	ErrAttendantNotAllowed        = newError(KindDomain, "attendant_not_allowed", "only minors can register an attendant")
	ErrAttendantAlreadyRegistered = newError(KindDomain, "attendant_already_registered", "an attendant is already registered")
	ErrItemNotAvailable           = newError(KindDomain, "item_not_available", "the item is not available to you")
	ErrDiscountAlreadyHeld        = newError(KindDomain, "discount_already_held", "the discount is already used or awaiting payment")
	ErrDiscountQuantity           = newError(KindDomain, "discount_quantity", "a discount can only be bought once")
	ErrItemOutOfStock             = newError(KindDomain, "out_of_stock", "the item is out of stock")
	ErrItemNotYetAvailable        = newError(KindDomain, "item_not_yet_available", "the item is not available yet")
	ErrItemNoLongerAvailable      = newError(KindDomain, "item_no_longer_available", "the item is no longer available")
	ErrNegativeBasket             = newError(KindDomain, "negative_basket", "the basket total cannot be negative")

	ErrCartAlreadyPaid   = newError(KindConflict, "cart_already_paid", "the cart is already paid")
	ErrInvalidTransition = newError(KindConflict, "invalid_transition", "the cart cannot move to this state")

	ErrInvalidWebhook    = newError(KindValidation, "invalid_webhook", "invalid webhook payload or signature")
	ErrUnsupportedEvent  = newError(KindValidation, "unsupported_event", "unsupported webhook event")
	ErrGatewayFailure    = newError(KindGateway, "gateway_failure", "the payment provider could not open a transaction")
	ErrFulfillmentFailed = newError(KindGateway, "fulfillment_failed", "the tickets could not be delivered")
)

// KindOf returns the kind of the first DomainError in err's chain,
// or an empty kind for infrastructure errors.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the code of the first DomainError in err's chain.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
