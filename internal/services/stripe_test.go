package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/models"
)

const stripeTestSecret = "whsec_test"

func stripeSignature(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeHeader(payload []byte) http.Header {
	header := http.Header{}
	header.Set("Stripe-Signature", stripeSignature(payload, stripeTestSecret, time.Now()))
	return header
}

func stripeEvent(id, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, id, eventType, object))
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	gateway := NewStripeGateway(config.StripeConfig{SecretKey: "sk_test", WebhookSecret: stripeTestSecret})
	assert.Equal(t, ProviderStripe, gateway.Name())

	tests := []struct {
		name        string
		payload     []byte
		kind        models.EventKind
		transaction string
		amount      *int
	}{
		{
			name:        "succeeded carries the received amount",
			payload:     stripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","amount":2000,"amount_received":2000}`),
			kind:        models.EventSucceeded,
			transaction: "pi_1",
			amount:      intPtr(2000),
		},
		{
			name:        "processing",
			payload:     stripeEvent("evt_2", "payment_intent.processing", `{"id":"pi_1","object":"payment_intent"}`),
			kind:        models.EventProcessing,
			transaction: "pi_1",
		},
		{
			name:        "canceled",
			payload:     stripeEvent("evt_3", "payment_intent.canceled", `{"id":"pi_1","object":"payment_intent"}`),
			kind:        models.EventCanceled,
			transaction: "pi_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := gateway.ParseWebhook(tt.payload, stripeHeader(tt.payload))
			require.NoError(t, err)

			assert.Equal(t, ProviderStripe, event.Provider)
			assert.Equal(t, tt.kind, event.Kind)
			assert.Equal(t, tt.transaction, event.TransactionID)
			assert.Equal(t, tt.amount, event.Amount)
			assert.NotEmpty(t, event.EventID)
		})
	}
}

func TestStripeGateway_ParseWebhookRejects(t *testing.T) {
	gateway := NewStripeGateway(config.StripeConfig{SecretKey: "sk_test", WebhookSecret: stripeTestSecret})
	payload := stripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent"}`)

	t.Run("missing signature", func(t *testing.T) {
		_, err := gateway.ParseWebhook(payload, http.Header{})
		assert.ErrorIs(t, err, models.ErrInvalidWebhook)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := http.Header{}
		header.Set("Stripe-Signature", stripeSignature(payload, "whsec_other", time.Now()))
		_, err := gateway.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, models.ErrInvalidWebhook)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := http.Header{}
		header.Set("Stripe-Signature", stripeSignature(payload, stripeTestSecret, time.Now().Add(-time.Hour)))
		_, err := gateway.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, models.ErrInvalidWebhook)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := stripeHeader(payload)
		tampered := stripeEvent("evt_1", "payment_intent.succeeded", `{"id":"pi_2","object":"payment_intent"}`)
		_, err := gateway.ParseWebhook(tampered, header)
		assert.ErrorIs(t, err, models.ErrInvalidWebhook)
	})

	t.Run("unsupported type", func(t *testing.T) {
		other := stripeEvent("evt_5", "customer.created", `{"id":"cus_1","object":"customer"}`)
		_, err := gateway.ParseWebhook(other, stripeHeader(other))
		assert.ErrorIs(t, err, models.ErrUnsupportedEvent)
	})

	t.Run("checkout sessions are not ours", func(t *testing.T) {
		session := stripeEvent("evt_4", "checkout.session.expired", `{"id":"cs_1","object":"checkout.session","payment_intent":null}`)
		_, err := gateway.ParseWebhook(session, stripeHeader(session))
		assert.ErrorIs(t, err, models.ErrUnsupportedEvent)
	})

	t.Run("intent without id", func(t *testing.T) {
		broken := stripeEvent("evt_6", "payment_intent.succeeded", `{"object":"payment_intent"}`)
		_, err := gateway.ParseWebhook(broken, stripeHeader(broken))
		assert.ErrorIs(t, err, models.ErrInvalidWebhook)
	})
}

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &StripeGateway{
		api:           client.New("sk_test", &stripe.Backends{API: backend}),
		webhookSecret: stripeTestSecret,
	}
}

func TestStripeGateway_Cancel(t *testing.T) {
	gateway := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_1/cancel", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abandoned", r.PostForm.Get("cancellation_reason"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"canceled"}`))
	})

	assert.NoError(t, gateway.Cancel(context.Background(), "pi_1"))
}

func TestStripeGateway_CancelRefused(t *testing.T) {
	gateway := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state","message":"This PaymentIntent's status is succeeded"}}`))
	})

	err := gateway.Cancel(context.Background(), "pi_1")
	assert.ErrorContains(t, err, "failed to cancel payment intent pi_1")
}
