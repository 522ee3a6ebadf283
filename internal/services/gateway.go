package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/models"
)

// Provider names as stored in carts.transaction_provider
const (
	ProviderStripe   = "stripe"
	ProviderPaystack = "paystack"
	ProviderMock     = "mock"
	ProviderJanitor  = "janitor"
	// ProviderFree marks zero-total carts settled without a provider
	ProviderFree = "free"
)

// ErrCancelUnsupported is returned by gateways that cannot void an open
// transaction. Carts of such providers are left to provider events.
var ErrCancelUnsupported = errors.New("provider cannot cancel open transactions")

// TransactionRequest asks a provider to open a payment for a cart
type TransactionRequest struct {
	CartID      string
	Amount      int // in cents
	Currency    string
	Email       string
	Description string
}

// GatewayTransaction is the provider side handle of an opened payment
type GatewayTransaction struct {
	ExternalID string
	// CheckoutSecret is handed to the client to confirm the payment
	CheckoutSecret string
}

// PaymentGateway opens, cancels and refunds provider transactions. Calls
// are never retried here.
type PaymentGateway interface {
	Name() string
	OpenTransaction(ctx context.Context, req *TransactionRequest) (*GatewayTransaction, error)
	// Cancel voids an unpaid transaction so it can no longer be paid
	Cancel(ctx context.Context, externalID string) error
	Refund(ctx context.Context, externalID string, amount int) error
}

// WebhookParser authenticates a provider notification and normalizes it
type WebhookParser interface {
	ParseWebhook(payload []byte, header http.Header) (*models.WebhookEvent, error)
}

// GatewaySet holds the gateway used for new carts plus every gateway that
// may still own older carts
type GatewaySet struct {
	active   PaymentGateway
	gateways map[string]PaymentGateway
}

// NewGatewaySetOf builds a set around an active gateway
func NewGatewaySetOf(active PaymentGateway, others ...PaymentGateway) *GatewaySet {
	set := &GatewaySet{active: active, gateways: make(map[string]PaymentGateway)}
	set.gateways[active.Name()] = active
	for _, g := range others {
		set.gateways[g.Name()] = g
	}
	return set
}

// NewGatewaySet creates every configured gateway and selects the active one
func NewGatewaySet(cfg *config.Config) (*GatewaySet, error) {
	var others []PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		others = append(others, NewStripeGateway(cfg.Stripe))
	}
	if cfg.Paystack.SecretKey != "" {
		others = append(others, NewPaystackService(PaystackConfig{
			SecretKey:   cfg.Paystack.SecretKey,
			PublicKey:   cfg.Paystack.PublicKey,
			Environment: cfg.Paystack.Environment,
			CallbackURL: cfg.Paystack.CallbackURL,
		}))
	}
	others = append(others, NewMockPaymentService())

	for _, g := range others {
		if g.Name() == cfg.Payment.Provider {
			log.Printf("Payment service: using %s for new carts", g.Name())
			return NewGatewaySetOf(g, others...), nil
		}
	}
	return nil, fmt.Errorf("payment provider %q is not configured", cfg.Payment.Provider)
}

// Active returns the gateway used for new carts
func (s *GatewaySet) Active() PaymentGateway {
	return s.active
}

// Get returns the gateway registered under name
func (s *GatewaySet) Get(name string) (PaymentGateway, bool) {
	g, ok := s.gateways[name]
	return g, ok
}

// Parser returns the webhook parser of a provider
func (s *GatewaySet) Parser(name string) (WebhookParser, bool) {
	g, ok := s.gateways[name]
	if !ok {
		return nil, false
	}
	p, ok := g.(WebhookParser)
	return p, ok
}
