package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockTx simula uma transação
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

// MockRepository para testes que não precisam de banco real
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) BeginTx(ctx context.Context) (Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tx), args.Error(1)
}

func (m *MockRepository) CreateProduct(ctx context.Context, tx Tx, product *Product) error {
	args := m.Called(ctx, tx, product)
	return args.Error(0)
}

func (m *MockRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Product), args.Error(1)
}

func (m *MockRepository) GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) ([]*Product, error) {
	args := m.Called(ctx, tx, productIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Product), args.Error(1)
}

func (m *MockRepository) UpdateProduct(ctx context.Context, tx Tx, product *Product) error {
	args := m.Called(ctx, tx, product)
	return args.Error(0)
}

func (m *MockRepository) ListProducts(ctx context.Context, pageSize int, offset *time.Time) ([]*Product, int, error) {
	args := m.Called(ctx, pageSize, offset)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*Product), args.Int(1), args.Error(2)
}

func (m *MockRepository) GetProductStock(ctx context.Context, productID string) ([]*ProductStock, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ProductStock), args.Error(1)
}

func (m *MockRepository) ReplaceProductStock(ctx context.Context, tx Tx, productID string, stock map[string]int) error {
	args := m.Called(ctx, tx, productID, stock)
	return args.Error(0)
}

func (m *MockRepository) GetStockForUpdate(ctx context.Context, tx Tx, keys []StockKey) ([]*ProductStock, error) {
	args := m.Called(ctx, tx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ProductStock), args.Error(1)
}

func (m *MockRepository) UpdateStockLevels(ctx context.Context, tx Tx, stocks []*ProductStock) error {
	args := m.Called(ctx, tx, stocks)
	return args.Error(0)
}

func (m *MockRepository) PurgeProductStock(ctx context.Context, tx Tx, productID string) error {
	args := m.Called(ctx, tx, productID)
	return args.Error(0)
}

func (m *MockRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockRepository) CreateOrderLineItems(ctx context.Context, tx Tx, items []OrderLineItem) error {
	args := m.Called(ctx, tx, items)
	return args.Error(0)
}

func (m *MockRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error) {
	args := m.Called(ctx, tx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) UpdateOrderState(ctx context.Context, tx Tx, orderID string, state string) error {
	args := m.Called(ctx, tx, orderID, state)
	return args.Error(0)
}

func (m *MockRepository) ListElapsedPendingOrders(ctx context.Context, tx Tx, cutoff time.Time) ([]*Order, error) {
	args := m.Called(ctx, tx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Order), args.Error(1)
}

func TestNewPostgresRepository(t *testing.T) {
	// Arrange
	var db *pgxpool.Pool // Mock pool

	// Act
	repo := NewPostgresRepository(db)

	// Assert
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgresRepository{}, repo)
}

func TestMockRepository_GetOrder(t *testing.T) {
	// Arrange
	mockRepo := new(MockRepository)
	ctx := context.Background()
	orderID := "order-123"
	expectedOrder := NewOrder(orderID, "customer-456")

	mockRepo.On("GetOrder", ctx, orderID).Return(expectedOrder, nil)

	// Act
	order, err := mockRepo.GetOrder(ctx, orderID)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, expectedOrder, order)
	mockRepo.AssertExpectations(t)
}
