package services

import (
	"context"
	"net/http"
	"testing"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOrderFixture(t *testing.T) (*OrderService, *memDB, *recordingPublisher) {
	t.Helper()
	db := newMemDB(testProducts()...)
	events := &recordingPublisher{}
	return NewOrderService(newMemStore(db), catalogPrices{db}, events, zap.NewNop()), db, events
}

func TestCreateOrder_ComputesTotalFromItems(t *testing.T) {
	svc, _, events := newOrderFixture(t)

	order, err := svc.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)

	assert.Equal(t, "25.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 2)
	require.NotNil(t, order.Items[0].Product)
	assert.Equal(t, "Soul Lantern", order.Items[0].Product.Name)
	assert.Len(t, events.ofType(models.EventOrderCreated), 1)
}

func TestCreateOrder_DefaultsAndCatalogPrice(t *testing.T) {
	svc, _, _ := newOrderFixture(t)

	order, err := svc.CreateOrder(context.Background(), 7, []CartItemInput{{ProductID: 2}})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, "5.00", order.Items[0].UnitPrice.StringFixed(2))
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		userID  uint
		items   []CartItemInput
		message string
	}{
		{"no items", 7, nil, "items is required and must be a non-empty array"},
		{"no user", 0, scenarioCart(), "userId is required"},
		{"zero quantity", 7, []CartItemInput{{ProductID: 1, Quantity: intPtr(0)}}, "quantity must be a positive integer"},
		{"negative price", 7, []CartItemInput{{ProductID: 1, Price: decPtr("-1")}}, "price must be a non-negative amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, _ := newOrderFixture(t)
			_, err := svc.CreateOrder(context.Background(), tt.userID, tt.items)

			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.Code)
			assert.Equal(t, tt.message, appErr.Message)
			assert.Zero(t, db.orderCount())
		})
	}
}

func TestCreateOrder_UnknownProductWritesNothing(t *testing.T) {
	svc, db, _ := newOrderFixture(t)

	_, err := svc.CreateOrder(context.Background(), 7, []CartItemInput{
		{ProductID: 1, Price: decPtr("10.00")},
		{ProductID: 42, Price: decPtr("1.00")},
	})

	assert.Equal(t, apperrors.KindConstraintViolation, apperrors.KindOf(err))
	assert.Zero(t, db.orderCount())
}

func TestUpdateOrder_ReplacesItemsWhilePending(t *testing.T) {
	svc, _, _ := newOrderFixture(t)
	order, err := svc.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)

	newUser := uint(9)
	items := []CartItemInput{{ProductID: 2, Quantity: intPtr(3), Price: decPtr("4.50")}}
	updated, err := svc.UpdateOrder(context.Background(), order.ID, OrderPatch{
		UserID: &newUser,
		Total:  decPtr("999"),
		Items:  &items,
	})
	require.NoError(t, err)

	assert.Equal(t, uint(9), updated.UserID)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "13.50", updated.TotalPrice.StringFixed(2))
}

func TestUpdateOrder_ConfirmedItemsAreImmutable(t *testing.T) {
	svc, db, _ := newOrderFixture(t)
	order, err := svc.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)
	_, err = newMemStore(db).Orders().MarkConfirmed(context.Background(), order.ID)
	require.NoError(t, err)

	items := []CartItemInput{{ProductID: 2}}
	_, err = svc.UpdateOrder(context.Background(), order.ID, OrderPatch{Items: &items})

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, "25.00", db.order(order.ID).TotalPrice.StringFixed(2))
}

// confirmingStore confirms an order right after its first read, standing in
// for a webhook that commits between UpdateOrder's check and its write.
type confirmingStore struct {
	*memStore
	fired bool
}

func (s *confirmingStore) Orders() repository.OrderRepository {
	return confirmingOrders{OrderRepository: s.memStore.Orders(), store: s}
}

type confirmingOrders struct {
	repository.OrderRepository
	store *confirmingStore
}

func (r confirmingOrders) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	order, err := r.OrderRepository.FindByID(ctx, id)
	if err == nil && !r.store.fired {
		r.store.fired = true
		if _, err := r.OrderRepository.MarkConfirmed(ctx, id); err != nil {
			return nil, err
		}
	}
	return order, err
}

func TestUpdateOrder_ConfirmationDuringUpdateWins(t *testing.T) {
	db := newMemDB(testProducts()...)
	setup := NewOrderService(newMemStore(db), catalogPrices{db}, nil, zap.NewNop())
	order, err := setup.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)

	svc := NewOrderService(&confirmingStore{memStore: newMemStore(db)}, catalogPrices{db}, nil, zap.NewNop())
	items := []CartItemInput{{ProductID: 2, Quantity: intPtr(1), Price: decPtr("1.00")}}
	_, err = svc.UpdateOrder(context.Background(), order.ID, OrderPatch{Items: &items})

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, "Order items cannot be replaced once the order is confirmed", appErr.Message)

	stored := db.order(order.ID)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, "25.00", stored.TotalPrice.StringFixed(2))
	assert.Len(t, stored.Items, 2)
}

func TestUpdateOrder_OpenCheckoutSessionBlocksItems(t *testing.T) {
	f := newCheckoutFixture(t)
	res := hostedSession(t, f)
	svc := NewOrderService(newMemStore(f.db), catalogPrices{f.db}, nil, zap.NewNop())

	items := []CartItemInput{{ProductID: 2, Quantity: intPtr(1)}}
	_, err := svc.UpdateOrder(context.Background(), res.OrderID, OrderPatch{Items: &items})

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, "Order items cannot be replaced while a checkout session is open", appErr.Message)
	assert.Equal(t, "25.00", f.db.order(res.OrderID).TotalPrice.StringFixed(2))
	assert.Len(t, f.db.order(res.OrderID).Items, 2)
}

func TestUpdateOrder_RejectsEmptyItems(t *testing.T) {
	svc, db, _ := newOrderFixture(t)
	order, err := svc.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)

	empty := []CartItemInput{}
	_, err = svc.UpdateOrder(context.Background(), order.ID, OrderPatch{Items: &empty})

	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Len(t, db.order(order.ID).Items, 2)
}

func TestDeleteOrder(t *testing.T) {
	svc, db, _ := newOrderFixture(t)
	order, err := svc.CreateOrder(context.Background(), 7, scenarioCart())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOrder(context.Background(), order.ID))
	assert.Zero(t, db.orderCount())

	err = svc.DeleteOrder(context.Background(), order.ID)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, appErr.Code)
	assert.Equal(t, "Order not found", appErr.Message)
}

func TestListOrders_Pagination(t *testing.T) {
	svc, _, _ := newOrderFixture(t)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateOrder(context.Background(), uint(7+i%2), scenarioCart())
		require.NoError(t, err)
	}

	resp, err := svc.ListOrders(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, resp.Orders, 2)
	assert.Equal(t, MetaData{Page: 1, Limit: 2, TotalOrders: 3, TotalPages: 2, HasMore: true}, resp.Meta)

	mine, err := svc.ListUserOrders(context.Background(), 8, 1, 10)
	require.NoError(t, err)
	assert.Len(t, mine.Orders, 1)
	assert.False(t, mine.Meta.HasMore)

	none, err := svc.ListUserOrders(context.Background(), 99, 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, none.Orders)
	assert.Empty(t, none.Orders)
}
