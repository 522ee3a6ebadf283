package handlers

import (
	"context"
	"net/http"

	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/models"

	"github.com/go-chi/chi/v5"
)

// CartOverrides are the administrative cart operations
type CartOverrides interface {
	ForcePay(ctx context.Context, cartID, actor, reason string) (*models.Cart, error)
	Refund(ctx context.Context, cartID, actor, reason string) (*models.Cart, error)
}

// TicketResender delivers the tickets of a paid cart again
type TicketResender interface {
	Resend(ctx context.Context, cartID string) error
}

// TransitionLog lists the audit trail of a cart
type TransitionLog interface {
	GetByCart(ctx context.Context, cartID string) ([]*models.CartTransition, error)
}

// AdminHandler exposes operator overrides behind the admin key
type AdminHandler struct {
	overrides CartOverrides
	resender  TicketResender
	carts     CartReader
	audit     TransitionLog
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(overrides CartOverrides, resender TicketResender, carts CartReader, audit TransitionLog) *AdminHandler {
	return &AdminHandler{
		overrides: overrides,
		resender:  resender,
		carts:     carts,
		audit:     audit,
	}
}

// OverrideRequest is the optional body of override routes
type OverrideRequest struct {
	Reason string `json:"reason"`
}

// CartDetails is a cart with its audit trail
type CartDetails struct {
	*models.Cart
	Transitions []*models.CartTransition `json:"transitions"`
}

func (h *AdminHandler) reason(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var body OverrideRequest
	if err := decodeJSON(w, r, &body); err != nil {
		return "", err
	}
	return body.Reason, nil
}

// ForcePay marks a cart paid and sends its tickets
func (h *AdminHandler) ForcePay(w http.ResponseWriter, r *http.Request) {
	reason, err := h.reason(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	cart, err := h.overrides.ForcePay(r.Context(), chi.URLParam(r, "cartID"), middleware.GetActorFromContext(r.Context()), reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cart)
}

// Refund refunds a paid cart with its provider
func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	reason, err := h.reason(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	cart, err := h.overrides.Refund(r.Context(), chi.URLParam(r, "cartID"), middleware.GetActorFromContext(r.Context()), reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cart)
}

// Resend mails the tickets of a paid cart again
func (h *AdminHandler) Resend(w http.ResponseWriter, r *http.Request) {
	if err := h.resender.Resend(r.Context(), chi.URLParam(r, "cartID")); err != nil {
		respondError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// GetCart returns any cart with its transitions
func (h *AdminHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cartID := chi.URLParam(r, "cartID")
	cart, err := h.carts.GetByID(r.Context(), cartID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	transitions, err := h.audit.GetByCart(r.Context(), cartID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if transitions == nil {
		transitions = []*models.CartTransition{}
	}
	middleware.WriteJSON(w, http.StatusOK, CartDetails{Cart: cart, Transitions: transitions})
}
