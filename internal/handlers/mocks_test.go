package handlers

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/services"
)

type MockAssembler struct{ mock.Mock }

func (m *MockAssembler) Assemble(ctx context.Context, owner *models.User, req *services.AssembleRequest) (*services.AssembledCart, error) {
	args := m.Called(ctx, owner, req)
	if v := args.Get(0); v != nil {
		return v.(*services.AssembledCart), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockCatalog struct{ mock.Mock }

func (m *MockCatalog) ItemsAvailableTo(ctx context.Context, team *models.Team, user *models.User) ([]*models.Item, error) {
	args := m.Called(ctx, team, user)
	items, _ := args.Get(0).([]*models.Item)
	return items, args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	args := m.Called(ctx, id)
	team, _ := args.Get(0).(*models.Team)
	return team, args.Error(1)
}

func (m *MockStore) GetByID(ctx context.Context, id string) (*models.Cart, error) {
	args := m.Called(ctx, id)
	cart, _ := args.Get(0).(*models.Cart)
	return cart, args.Error(1)
}

func (m *MockStore) GetByCart(ctx context.Context, cartID string) ([]*models.CartTransition, error) {
	args := m.Called(ctx, cartID)
	transitions, _ := args.Get(0).([]*models.CartTransition)
	return transitions, args.Error(1)
}

type MockMachine struct{ mock.Mock }

func (m *MockMachine) HandleEvent(ctx context.Context, event *models.WebhookEvent) (*services.Outcome, error) {
	args := m.Called(ctx, event)
	outcome, _ := args.Get(0).(*services.Outcome)
	return outcome, args.Error(1)
}

func (m *MockMachine) ForcePay(ctx context.Context, cartID, actor, reason string) (*models.Cart, error) {
	args := m.Called(ctx, cartID, actor, reason)
	cart, _ := args.Get(0).(*models.Cart)
	return cart, args.Error(1)
}

func (m *MockMachine) Refund(ctx context.Context, cartID, actor, reason string) (*models.Cart, error) {
	args := m.Called(ctx, cartID, actor, reason)
	cart, _ := args.Get(0).(*models.Cart)
	return cart, args.Error(1)
}

func (m *MockMachine) Resend(ctx context.Context, cartID string) error {
	return m.Called(ctx, cartID).Error(0)
}

// stubParser returns a fixed event or error for every payload
type stubParser struct {
	event *models.WebhookEvent
	err   error
}

func (p stubParser) ParseWebhook(payload []byte, header http.Header) (*models.WebhookEvent, error) {
	return p.event, p.err
}

type stubParsers map[string]services.WebhookParser

func (s stubParsers) Parser(name string) (services.WebhookParser, bool) {
	p, ok := s[name]
	return p, ok
}

func withUser(r *http.Request, user *models.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserContextKey, user))
}

func strPtr(s string) *string { return &s }
