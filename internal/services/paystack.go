package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"lan-registration-platform/internal/models"
)

// PaystackConfig represents Paystack payment service configuration
type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	Environment string // "test" or "live"
	CallbackURL string
}

// PaystackService handles payments via Paystack API
type PaystackService struct {
	config  PaystackConfig
	client  *http.Client
	baseURL string
}

// NewPaystackService creates a new Paystack payment service
func NewPaystackService(config PaystackConfig) *PaystackService {
	return &PaystackService{
		config:  config,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.paystack.co",
	}
}

// paystackInitRequest represents a payment initialization request
type paystackInitRequest struct {
	Email       string            `json:"email"`
	Amount      int               `json:"amount"` // in the currency subunit
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// paystackInitResponse represents the response from transaction initialization
type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type paystackRefundRequest struct {
	Transaction string `json:"transaction"`
	Amount      int    `json:"amount"`
}

// paystackWebhook is the envelope of a Paystack event
type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Amount    int    `json:"amount"`
		Status    string `json:"status"`
	} `json:"data"`
}

// PaystackError represents an error response from Paystack
type PaystackError struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *PaystackError) Error() string {
	return fmt.Sprintf("Paystack Error: %s", e.Message)
}

func (s *PaystackService) Name() string {
	return ProviderPaystack
}

// OpenTransaction initializes a transaction referenced by the cart id
func (s *PaystackService) OpenTransaction(ctx context.Context, req *TransactionRequest) (*GatewayTransaction, error) {
	init := &paystackInitRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Reference:   req.CartID,
		CallbackURL: s.config.CallbackURL,
		Metadata:    map[string]string{"cart_id": req.CartID},
	}

	var resp paystackInitResponse
	if err := s.post(ctx, "/transaction/initialize", init, &resp); err != nil {
		return nil, fmt.Errorf("failed to initialize Paystack transaction: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("transaction initialization failed: %s", resp.Message)
	}

	log.Printf("Paystack: initialized transaction %s (%s)", resp.Data.Reference, s.config.Environment)

	return &GatewayTransaction{
		ExternalID:     resp.Data.Reference,
		CheckoutSecret: resp.Data.AccessCode,
	}, nil
}

// Cancel is not offered by Paystack: an initialized transaction stays
// payable until the provider abandons it and says so in a webhook.
func (s *PaystackService) Cancel(ctx context.Context, externalID string) error {
	return ErrCancelUnsupported
}

// Refund refunds amount subunits of a transaction
func (s *PaystackService) Refund(ctx context.Context, externalID string, amount int) error {
	var resp PaystackError
	if err := s.post(ctx, "/refund", &paystackRefundRequest{Transaction: externalID, Amount: amount}, &resp); err != nil {
		return fmt.Errorf("failed to refund Paystack transaction %s: %w", externalID, err)
	}
	if !resp.Status {
		return fmt.Errorf("refund failed: %s", resp.Message)
	}
	return nil
}

func (s *PaystackService) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return s.handleAPIError(resp.StatusCode, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// handleAPIError handles Paystack API errors
func (s *PaystackService) handleAPIError(statusCode int, body []byte) error {
	var paystackErr PaystackError
	if err := json.Unmarshal(body, &paystackErr); err != nil {
		return fmt.Errorf("API error (status %d): %s", statusCode, string(body))
	}

	switch statusCode {
	case 400:
		return fmt.Errorf("bad request: %s", paystackErr.Message)
	case 401:
		return fmt.Errorf("unauthorized: check API keys - %s", paystackErr.Message)
	case 404:
		return fmt.Errorf("not found: %s", paystackErr.Message)
	case 422:
		return fmt.Errorf("validation error: %s", paystackErr.Message)
	default:
		return &paystackErr
	}
}

// VerifyWebhookSignature verifies Paystack webhook signature
func (s *PaystackService) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha512.New, []byte(s.config.SecretKey))
	mac.Write(payload)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// ParseWebhook verifies x-paystack-signature and maps charge events
func (s *PaystackService) ParseWebhook(payload []byte, header http.Header) (*models.WebhookEvent, error) {
	signature := header.Get("x-paystack-signature")
	if signature == "" || !s.VerifyWebhookSignature(payload, signature) {
		return nil, models.ErrInvalidWebhook.WithDetail("bad paystack signature")
	}

	var hook paystackWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, models.ErrInvalidWebhook.WithDetail("%v", err)
	}
	if hook.Event == "" || hook.Data.Reference == "" {
		return nil, models.ErrInvalidWebhook.WithDetail("missing event or reference")
	}

	event := &models.WebhookEvent{
		Provider:      ProviderPaystack,
		EventID:       fmt.Sprintf("%s:%d", hook.Event, hook.Data.ID),
		TransactionID: hook.Data.Reference,
	}

	switch hook.Event {
	case "charge.success":
		event.Kind = models.EventSucceeded
		amount := hook.Data.Amount
		event.Amount = &amount
	default:
		return nil, models.ErrUnsupportedEvent.WithDetail("%s", hook.Event)
	}

	return event, nil
}
