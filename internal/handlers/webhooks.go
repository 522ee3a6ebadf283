package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/services"

	"github.com/go-chi/chi/v5"
)

// ParserRegistry resolves the webhook parser of a provider
type ParserRegistry interface {
	Parser(name string) (services.WebhookParser, bool)
}

// EventHandler applies verified payment events
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.WebhookEvent) (*services.Outcome, error)
}

// WebhookHandler receives payment provider notifications
type WebhookHandler struct {
	parsers ParserRegistry
	machine EventHandler
	metrics *metrics.CartMetrics
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(parsers ParserRegistry, machine EventHandler, m *metrics.CartMetrics) *WebhookHandler {
	return &WebhookHandler{
		parsers: parsers,
		machine: machine,
		metrics: m,
	}
}

// WebhookResponse acknowledges a processed notification
type WebhookResponse struct {
	Result string `json:"result"`
	CartID string `json:"cartId,omitempty"`
}

// Receive authenticates a notification and feeds it to the state machine.
// Nothing is read from storage before the signature is verified.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	parser, ok := h.parsers.Parser(provider)
	if !ok {
		h.count(provider, "unknown_provider")
		middleware.WriteError(w, http.StatusNotFound, "unknown_provider", "no webhook endpoint for "+provider)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.count(provider, "invalid")
		respondError(w, r, models.ErrInvalidWebhook.WithDetail("unreadable body"))
		return
	}

	event, err := parser.ParseWebhook(payload, r.Header)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, models.ErrUnsupportedEvent) {
			outcome = "unsupported"
		}
		h.count(provider, outcome)
		log.Printf("Webhook: rejected %s notification: %v", provider, err)
		respondError(w, r, err)
		return
	}

	outcome, err := h.machine.HandleEvent(r.Context(), event)
	if err != nil {
		if errors.Is(err, models.ErrCartNotFound) {
			log.Printf("Webhook: %s event %s targets unknown transaction %s", provider, event.EventID, event.TransactionID)
		}
		respondError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, WebhookResponse{
		Result: string(outcome.Result),
		CartID: outcome.CartID,
	})
}

func (h *WebhookHandler) count(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(provider, outcome).Inc()
	}
}
