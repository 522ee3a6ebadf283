package handlers

import (
	"context"
	"errors"
	"net/http"

	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/services"

	"github.com/go-chi/chi/v5"
)

// CartAssembler opens carts for a purchasing user
type CartAssembler interface {
	Assemble(ctx context.Context, owner *models.User, req *services.AssembleRequest) (*services.AssembledCart, error)
}

// Catalog lists the items a user may buy
type Catalog interface {
	ItemsAvailableTo(ctx context.Context, team *models.Team, user *models.User) ([]*models.Item, error)
}

// TeamLoader reads teams
type TeamLoader interface {
	GetTeam(ctx context.Context, id string) (*models.Team, error)
}

// CartReader reads carts
type CartReader interface {
	GetByID(ctx context.Context, id string) (*models.Cart, error)
}

// CartHandler handles cart creation and lookup for signed in users
type CartHandler struct {
	assembler CartAssembler
	catalog   Catalog
	teams     TeamLoader
	carts     CartReader
}

// NewCartHandler creates a new cart handler
func NewCartHandler(assembler CartAssembler, catalog Catalog, teams TeamLoader, carts CartReader) *CartHandler {
	return &CartHandler{
		assembler: assembler,
		catalog:   catalog,
		teams:     teams,
		carts:     carts,
	}
}

// CreateCartRequest is the body of POST /carts
type CreateCartRequest struct {
	Tickets struct {
		UserIDs   []string                 `json:"userIds"`
		Attendant *models.AttendantRequest `json:"attendant,omitempty"`
	} `json:"tickets"`
	Supplements []services.SupplementRequest `json:"supplements"`
}

// CreateCartResponse is returned once the payment is open. Free carts
// come back paid with no checkout secret.
type CreateCartResponse struct {
	CartID         string                  `json:"cartId"`
	CheckoutSecret string                  `json:"checkoutSecret"`
	State          models.TransactionState `json:"state"`
}

// CreateCart validates the basket and opens its payment
func (h *CartHandler) CreateCart(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserFromContext(r.Context())
	if owner == nil {
		respondError(w, r, models.ErrUnauthorized)
		return
	}

	var body CreateCartRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, r, err)
		return
	}

	assembled, err := h.assembler.Assemble(r.Context(), owner, &services.AssembleRequest{
		TicketUserIDs: body.Tickets.UserIDs,
		Attendant:     body.Tickets.Attendant,
		Supplements:   body.Supplements,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, CreateCartResponse{
		CartID:         assembled.Cart.ID,
		CheckoutSecret: assembled.CheckoutSecret,
		State:          assembled.Cart.TransactionState,
	})
}

// GetCart returns a cart of the signed in user. Carts of other users are
// reported as not found.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetUserFromContext(r.Context())
	if owner == nil {
		respondError(w, r, models.ErrUnauthorized)
		return
	}

	cart, err := h.carts.GetByID(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if cart.UserID != owner.ID {
		respondError(w, r, models.ErrCartNotFound)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, cart)
}

// ListItems returns the catalog as seen by the signed in user
func (h *CartHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		respondError(w, r, models.ErrUnauthorized)
		return
	}

	var team *models.Team
	if user.TeamID != nil {
		t, err := h.teams.GetTeam(r.Context(), *user.TeamID)
		if err != nil && !errors.Is(err, models.ErrTeamNotFound) {
			respondError(w, r, err)
			return
		}
		team = t
	}

	items, err := h.catalog.ItemsAvailableTo(r.Context(), team, user)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.Item{}
	}
	middleware.WriteJSON(w, http.StatusOK, items)
}
