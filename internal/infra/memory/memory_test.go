package memory

import (
	"context"
	"testing"
	"time"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func TestOrderStore_ListNewestFirstWithFilters(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		o := model.Order{ID: id, SessionID: "s1", Status: model.OrderStatusPending, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		if id == "b" {
			o.SessionID = "s2"
		}
		require.NoError(t, s.Create(ctx, o))
	}

	all, err := s.List(ctx, repo.OrderListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	mine, err := s.List(ctx, repo.OrderListFilter{SessionID: "s1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].ID)

	cutoff := t0.Add(30 * time.Second)
	old, err := s.List(ctx, repo.OrderListFilter{To: &cutoff})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "a", old[0].ID)
}

func TestOrderStore_UpdateKeepsItemsAndAppendsHistory(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, model.Order{
		ID:      "o-1",
		Items:   []model.OrderItem{{ProductID: "p1", Quantity: 1}},
		History: []model.OrderHistory{{Status: model.OrderStatusPending}},
		Total:   decimal.NewFromInt(10),
	}))

	o, err := s.FindByID(ctx, "o-1")
	require.NoError(t, err)
	o.Status = model.OrderStatusConfirmed
	o.Items = nil
	require.NoError(t, s.Update(ctx, o, []model.OrderHistory{{Status: model.OrderStatusConfirmed}}))

	got, err := s.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.Len(t, got.Items, 1)
	assert.Len(t, got.History, 2)

	assert.ErrorIs(t, s.Update(ctx, model.Order{ID: "missing"}, nil), repo.ErrNotFound)
}

func TestPaymentStore_InsertionOrderAndRefunds(t *testing.T) {
	s := NewPaymentStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, model.Payment{ID: "z", OrderID: "o-1", Amount: decimal.NewFromInt(10), CreatedAt: t0}))
	require.NoError(t, s.Create(ctx, model.Payment{ID: "a", OrderID: "o-1", Amount: decimal.NewFromInt(10), CreatedAt: t0}))

	list, err := s.List(ctx, repo.PaymentListFilter{OrderID: "o-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "z", list[0].ID)

	p, err := s.FindByID(ctx, "z")
	require.NoError(t, err)
	p.Status = model.PaymentStatusPartiallyRefunded
	require.NoError(t, s.Update(ctx, p, []model.PaymentRefund{{ID: "r1", Amount: decimal.NewFromInt(3)}}))

	p, err = s.FindByID(ctx, "z")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(p.RefundedTotal()))
}

func TestProductStore_ListActiveOnly(t *testing.T) {
	s := NewProductStore(
		model.Product{ID: "p1", Name: "B", SellerID: "s1", IsActive: true},
		model.Product{ID: "p2", Name: "A", SellerID: "s1", IsActive: true},
		model.Product{ID: "p3", Name: "C", SellerID: "s1", IsActive: false},
	)
	list, err := s.List(context.Background(), repo.ProductListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].ID)

	assert.ErrorIs(t, s.SetStock(context.Background(), "missing", 1), repo.ErrNotFound)
}

func TestEventStore(t *testing.T) {
	s := NewEventStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, model.DomainEvent{ID: "e1", Name: model.EventOrderCreated}))
	require.NoError(t, s.Create(ctx, model.DomainEvent{ID: "e2", Name: model.EventPaymentCompleted}))

	require.NoError(t, s.MarkPublished(ctx, "e1", t0))
	assert.ErrorIs(t, s.MarkPublished(ctx, "e1", t0), repo.ErrNotFound)

	pending, err := s.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].ID)
	assert.Equal(t, []model.EventName{model.EventOrderCreated, model.EventPaymentCompleted}, s.Names())
}

func TestKVStore(t *testing.T) {
	s := NewKVStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	v := []byte("v1")
	require.NoError(t, s.Set(ctx, "k", v))
	v[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
