package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway opens PaymentIntents and reads Stripe webhooks
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *StripeGateway) Name() string {
	return ProviderStripe
}

// OpenTransaction creates a PaymentIntent. The cart id doubles as the
// idempotency key, so a cart can never own two intents.
func (g *StripeGateway) OpenTransaction(ctx context.Context, req *TransactionRequest) (*GatewayTransaction, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(req.Amount)),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("cart_id", req.CartID)
	params.SetIdempotencyKey("cart-" + req.CartID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &GatewayTransaction{
		ExternalID:     pi.ID,
		CheckoutSecret: pi.ClientSecret,
	}, nil
}

// Cancel cancels a PaymentIntent. Stripe refuses once the intent succeeded
// or is processing, which leaves the cart to the webhook that follows.
func (g *StripeGateway) Cancel(ctx context.Context, externalID string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Cancel(externalID, params); err != nil {
		return fmt.Errorf("failed to cancel payment intent %s: %w", externalID, err)
	}
	return nil
}

// Refund refunds amount cents of a PaymentIntent
func (g *StripeGateway) Refund(ctx context.Context, externalID string, amount int) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Amount:        stripe.Int64(int64(amount)),
	}
	params.Context = ctx

	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("failed to refund payment intent %s: %w", externalID, err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event
func (g *StripeGateway) ParseWebhook(payload []byte, header http.Header) (*models.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, models.ErrInvalidWebhook.WithDetail("%v", err)
	}
	if event.Data == nil {
		return nil, models.ErrInvalidWebhook.WithDetail("event %s has no data", event.ID)
	}

	normalized := &models.WebhookEvent{
		Provider: ProviderStripe,
		EventID:  event.ID,
	}

	switch string(event.Type) {
	case "payment_intent.processing", "payment_intent.succeeded", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
			return nil, models.ErrInvalidWebhook.WithDetail("malformed payment intent in %s", event.ID)
		}
		normalized.TransactionID = pi.ID

		switch string(event.Type) {
		case "payment_intent.processing":
			normalized.Kind = models.EventProcessing
		case "payment_intent.succeeded":
			normalized.Kind = models.EventSucceeded
			received := int(pi.AmountReceived)
			normalized.Amount = &received
		default:
			normalized.Kind = models.EventCanceled
		}

	default:
		return nil, models.ErrUnsupportedEvent.WithDetail("%s", event.Type)
	}

	return normalized, nil
}
