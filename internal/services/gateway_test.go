package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lan-registration-platform/internal/config"
)

func TestNewGatewaySet(t *testing.T) {
	t.Run("mock is always available", func(t *testing.T) {
		set, err := NewGatewaySet(&config.Config{Payment: config.PaymentConfig{Provider: ProviderMock}})
		require.NoError(t, err)
		assert.Equal(t, ProviderMock, set.Active().Name())

		_, ok := set.Get(ProviderStripe)
		assert.False(t, ok)
		_, ok = set.Parser(ProviderMock)
		assert.False(t, ok, "the mock gateway has no webhooks")
	})

	t.Run("configured providers stay reachable", func(t *testing.T) {
		set, err := NewGatewaySet(&config.Config{
			Payment:  config.PaymentConfig{Provider: ProviderStripe},
			Stripe:   config.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec"},
			Paystack: config.PaystackConfig{SecretKey: "sk_paystack"},
		})
		require.NoError(t, err)
		assert.Equal(t, ProviderStripe, set.Active().Name())

		for _, name := range []string{ProviderStripe, ProviderPaystack, ProviderMock} {
			_, ok := set.Get(name)
			assert.True(t, ok, name)
		}
		_, ok := set.Parser(ProviderPaystack)
		assert.True(t, ok)
		_, ok = set.Parser("unknown")
		assert.False(t, ok)
	})

	t.Run("unconfigured active provider", func(t *testing.T) {
		_, err := NewGatewaySet(&config.Config{Payment: config.PaymentConfig{Provider: ProviderStripe}})
		assert.Error(t, err)
	})
}

func TestMockPaymentService(t *testing.T) {
	service := NewMockPaymentService()

	tx, err := service.OpenTransaction(context.Background(), &TransactionRequest{CartID: "c1", Amount: 1000, Currency: "eur"})
	require.NoError(t, err)
	assert.Equal(t, "mock_pay_c1", tx.ExternalID)
	assert.Equal(t, "mock_secret_c1", tx.CheckoutSecret)
	assert.NoError(t, service.Refund(context.Background(), tx.ExternalID, 1000))
	assert.NoError(t, service.Cancel(context.Background(), tx.ExternalID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = service.OpenTransaction(ctx, &TransactionRequest{CartID: "c2"})
	assert.ErrorIs(t, err, context.Canceled)
}
