package services

import (
	"context"
	"fmt"

	"lan-registration-platform/internal/models"
)

// CatalogService resolves which items a user may buy and how many are left.
// Its answers are advisory; stock is re-checked when a cart is committed.
type CatalogService struct {
	items        ItemStore
	reservations ReservationCounter
	users        UserStore
	carts        CartStore
}

// NewCatalogService creates a new catalog service
func NewCatalogService(items ItemStore, reservations ReservationCounter, users UserStore, carts CartStore) *CatalogService {
	return &CatalogService{
		items:        items,
		reservations: reservations,
		users:        users,
		carts:        carts,
	}
}

// ItemsAvailableTo returns the catalog as seen by user, whose team may be nil
func (s *CatalogService) ItemsAvailableTo(ctx context.Context, team *models.Team, user *models.User) ([]*models.Item, error) {
	all, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	tournamentID := ""
	if team != nil {
		tournamentID = team.TournamentID
	}

	var available []*models.Item
	for _, item := range all {
		ok, err := s.visible(ctx, item, user, tournamentID)
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, item)
		}
	}

	if err := s.applyRemaining(ctx, available); err != nil {
		return nil, err
	}
	return available, nil
}

func (s *CatalogService) visible(ctx context.Context, item *models.Item, user *models.User, tournamentID string) (bool, error) {
	switch {
	case item.IsTicket():
		own, err := models.TicketItemFor(user.Type)
		if err == nil && own == item.ID {
			return true, nil
		}
		return item.ID == models.ItemTicketAttendant && user.IsChild() && !user.HasAttendant(), nil

	case item.ID == models.ItemDiscountSwitchSSBU:
		if user.Type != models.UserTypePlayer || tournamentID != models.TournamentSSBU {
			return false, nil
		}
		held, err := s.carts.UserHoldsItem(ctx, user.ID, item.ID)
		if err != nil {
			return false, err
		}
		if held {
			sentinel := models.RemainingHeldByUser
			item.Remaining = &sentinel
		}
		return true, nil

	case item.IsDiscount():
		// other coupons are handed out by the organizers, never sold
		return false, nil

	default:
		return item.Display, nil
	}
}

func (s *CatalogService) applyRemaining(ctx context.Context, items []*models.Item) error {
	var bounded []string
	for _, item := range items {
		if item.HasBoundedStock() {
			bounded = append(bounded, item.ID)
		}
	}

	reserved := map[string]int{}
	if len(bounded) > 0 {
		var err error
		reserved, err = s.reservations.Reserved(ctx, bounded)
		if err != nil {
			return fmt.Errorf("failed to count reservations: %w", err)
		}
	}

	for _, item := range items {
		item.ApplyReservations(reserved[item.ID])
	}
	return nil
}
