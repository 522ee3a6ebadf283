package services

import (
	"context"
	"fmt"
	"log"
)

// MockPaymentService accepts every transaction without contacting a
// provider. Carts it opens are settled with the admin force-pay route.
type MockPaymentService struct{}

// NewMockPaymentService creates a new mock payment service
func NewMockPaymentService() *MockPaymentService {
	return &MockPaymentService{}
}

func (s *MockPaymentService) Name() string {
	return ProviderMock
}

// OpenTransaction simulates a successful transaction creation
func (s *MockPaymentService) OpenTransaction(ctx context.Context, req *TransactionRequest) (*GatewayTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Printf("Mock Payment: opening transaction of %.2f %s for cart %s", float64(req.Amount)/100, req.Currency, req.CartID)

	return &GatewayTransaction{
		ExternalID:     fmt.Sprintf("mock_pay_%s", req.CartID),
		CheckoutSecret: fmt.Sprintf("mock_secret_%s", req.CartID),
	}, nil
}

// Cancel simulates a successful cancellation
func (s *MockPaymentService) Cancel(ctx context.Context, externalID string) error {
	log.Printf("Mock Payment: canceling payment %s", externalID)
	return nil
}

// Refund simulates a successful refund
func (s *MockPaymentService) Refund(ctx context.Context, externalID string, amount int) error {
	log.Printf("Mock Payment: refunding %.2f for payment %s", float64(amount)/100, externalID)
	return nil
}
