package models

import (
	"errors"
	"strings"
	"time"
)

// ItemCategory represents the kind of catalog entry
type ItemCategory string

const (
	ItemCategoryTicket     ItemCategory = "ticket"
	ItemCategorySupplement ItemCategory = "supplement"
	ItemCategoryRent       ItemCategory = "rent"
)

// Well known catalog ids
const (
	ItemTicketPlayer    = "ticket-player"
	ItemTicketCoach     = "ticket-coach"
	ItemTicketSpectator = "ticket-spectator"
	ItemTicketAttendant = "ticket-attendant"

	ItemDiscountSwitchSSBU = "discount-switch-ssbu"
	TournamentSSBU         = "ssbu"
)

// RemainingHeldByUser is reported as Remaining for a single-use item the
// requesting user already holds in another cart.
const RemainingHeldByUser = -1

// Item represents a catalog entry
type Item struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	Category       ItemCategory `json:"category" yaml:"category"`
	Attribute      *string      `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Price          int          `json:"price" yaml:"price"` // in cents
	ReducedPrice   *int         `json:"reducedPrice,omitempty" yaml:"reducedPrice,omitempty"`
	Infos          *string      `json:"infos,omitempty" yaml:"infos,omitempty"`
	Image          *string      `json:"image,omitempty" yaml:"image,omitempty"`
	Stock          *int         `json:"stock,omitempty" yaml:"stock,omitempty"`
	AvailableFrom  *time.Time   `json:"availableFrom,omitempty" yaml:"availableFrom,omitempty"`
	AvailableUntil *time.Time   `json:"availableUntil,omitempty" yaml:"availableUntil,omitempty"`
	Display        bool         `json:"display" yaml:"display"`
	Position       int          `json:"-" yaml:"position"`

	// Remaining is computed from stock and reservations, nil when unbounded
	Remaining *int `json:"left,omitempty" yaml:"-"`
}

// IsTicket returns true if the item is a ticket
func (i *Item) IsTicket() bool {
	return i.Category == ItemCategoryTicket
}

// HasBoundedStock returns true if the item has a finite stock
func (i *Item) HasBoundedStock() bool {
	return i.Stock != nil
}

// IsDiscount returns true for coupon items, which are allowed a negative price
func (i *Item) IsDiscount() bool {
	return strings.HasPrefix(i.ID, "discount-")
}

// ApplyReservations sets Remaining from the number of reserved units.
// The sentinel RemainingHeldByUser is left untouched.
func (i *Item) ApplyReservations(reserved int) {
	if i.Remaining != nil && *i.Remaining == RemainingHeldByUser {
		return
	}
	if i.Stock == nil {
		i.Remaining = nil
		return
	}
	left := *i.Stock - reserved
	if left < 0 {
		left = 0
	}
	i.Remaining = &left
}

// CheckAvailability returns the window error for the given instant
func (i *Item) CheckAvailability(now time.Time) error {
	if i.AvailableFrom != nil && now.Before(*i.AvailableFrom) {
		return ErrItemNotYetAvailable.WithDetail("%s", i.ID)
	}
	if i.AvailableUntil != nil && now.After(*i.AvailableUntil) {
		return ErrItemNoLongerAvailable.WithDetail("%s", i.ID)
	}
	return nil
}

// Validate validates catalog data before it is stored
func (i *Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("item id is required")
	}
	if strings.TrimSpace(i.Name) == "" {
		return errors.New("item name is required")
	}
	switch i.Category {
	case ItemCategoryTicket, ItemCategorySupplement, ItemCategoryRent:
	default:
		return errors.New("invalid item category")
	}
	if i.Price < 0 && !i.IsDiscount() {
		return errors.New("price cannot be negative")
	}
	if i.ReducedPrice != nil && *i.ReducedPrice < 0 {
		return errors.New("reduced price cannot be negative")
	}
	if i.Stock != nil && *i.Stock < 0 {
		return errors.New("stock cannot be negative")
	}
	if i.AvailableFrom != nil && i.AvailableUntil != nil && i.AvailableUntil.Before(*i.AvailableFrom) {
		return errors.New("availability window ends before it starts")
	}
	return nil
}

// TicketItemFor maps a user type to the ticket item it buys
func TicketItemFor(userType UserType) (string, error) {
	switch userType {
	case UserTypePlayer:
		return ItemTicketPlayer, nil
	case UserTypeCoach:
		return ItemTicketCoach, nil
	case UserTypeSpectator:
		return ItemTicketSpectator, nil
	case UserTypeAttendant:
		return ItemTicketAttendant, nil
	case UserTypeOrga:
		return "", ErrUnsupportedUserType.WithDetail("%s", userType)
	default:
		return "", ErrUnsupportedUserType.WithDetail("%q", userType)
	}
}
