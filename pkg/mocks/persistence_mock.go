package mocks

import (
	"context"

	"github.com/gymops/automation/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEventRepository is a mock implementation of persistence.EventRepository interface.
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Insert(ctx context.Context, event *models.InboundEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockEventRepository) Get(ctx context.Context, tenantID, id string) (*models.InboundEvent, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.InboundEvent), args.Error(1)
}

func (m *MockEventRepository) FindByDeliveryID(
	ctx context.Context,
	tenantID, source, deliveryID string,
) (*models.InboundEvent, error) {
	args := m.Called(ctx, tenantID, source, deliveryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.InboundEvent), args.Error(1)
}

// MockLeadRepository is a mock implementation of persistence.LeadRepository interface.
type MockLeadRepository struct {
	mock.Mock
}

func (m *MockLeadRepository) Upsert(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Lead), args.Error(1)
}

func (m *MockLeadRepository) GetByEmail(ctx context.Context, tenantID, email string) (*models.Lead, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Lead), args.Error(1)
}
