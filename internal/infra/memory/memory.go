// Package memory は Postgres / Redis を使わずに動かすためのインメモリ実装。
// ローカル起動（STORAGE=memory）とハンドラのテストで使う
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"
)

func page[T any](rows []T, limit, offset, def, max int) []T {
	if limit <= 0 || limit > max {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []T{}
	}
	end := min(offset+limit, len(rows))
	return rows[offset:end]
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

// ===== 商品 =====

type ProductStore struct {
	mu   sync.RWMutex
	rows map[string]model.Product
}

func NewProductStore(seed ...model.Product) *ProductStore {
	s := &ProductStore{rows: map[string]model.Product{}}
	for _, p := range seed {
		s.rows[p.ID] = p
	}
	return s
}

func (s *ProductStore) GetProduct(_ context.Context, id string) (model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *ProductStore) List(_ context.Context, q repo.ProductListQuery) ([]model.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Product{}
	seller := strings.TrimSpace(q.SellerID)
	for _, p := range s.rows {
		if !p.IsActive || (seller != "" && p.SellerID != seller) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return page(out, q.Limit, q.Offset, 20, 100), nil
}

func (s *ProductStore) Upsert(_ context.Context, p model.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.rows[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	s.rows[p.ID] = p
	return nil
}

func (s *ProductStore) SetStock(_ context.Context, id string, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock = stock
	s.rows[id] = p
	return nil
}

// ===== 注文 =====

type OrderStore struct {
	mu   sync.RWMutex
	rows map[string]model.Order
}

func NewOrderStore() *OrderStore {
	return &OrderStore{rows: map[string]model.Order{}}
}

func (s *OrderStore) FindByID(_ context.Context, orderID string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.rows[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o.Clone(), nil
}

// 新しい順
func (s *OrderStore) List(_ context.Context, f repo.OrderListFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Order{}
	for _, o := range s.rows {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.SessionID != "" && o.SessionID != f.SessionID {
			continue
		}
		if !inRange(o.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, f.Offset, 50, 200), nil
}

func (s *OrderStore) Create(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[order.ID] = order.Clone()
	return nil
}

func (s *OrderStore) Update(_ context.Context, order model.Order, appended []model.OrderHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[order.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Status = order.Status
	cur.PaymentStatus = order.PaymentStatus
	cur.RefundedAmount = order.RefundedAmount
	cur.TrackingNumber = order.TrackingNumber
	cur.Carrier = order.Carrier
	cur.UpdatedAt = order.UpdatedAt
	cur.History = append(cur.History, appended...)
	s.rows[order.ID] = cur.Clone()
	return nil
}

// ===== 決済 =====

type PaymentStore struct {
	mu   sync.RWMutex
	rows map[string]model.Payment
	seq  map[string]int
	next int
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{rows: map[string]model.Payment{}, seq: map[string]int{}}
}

func (s *PaymentStore) FindByID(_ context.Context, paymentID string) (model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[paymentID]
	if !ok {
		return model.Payment{}, repo.ErrNotFound
	}
	return p.Clone(), nil
}

// 作成順
func (s *PaymentStore) List(_ context.Context, f repo.PaymentListFilter) ([]model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Payment{}
	for _, p := range s.rows {
		if f.OrderID != "" && p.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		if !inRange(p.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return page(out, f.Limit, f.Offset, 50, 200), nil
}

func (s *PaymentStore) Create(_ context.Context, p model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.seq[p.ID] = s.next
	s.rows[p.ID] = p.Clone()
	return nil
}

func (s *PaymentStore) Update(_ context.Context, p model.Payment, appended []model.PaymentRefund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[p.ID]
	if !ok {
		return repo.ErrNotFound
	}
	refunds := append(cur.Refunds, appended...)
	next := p.Clone()
	next.Refunds = refunds
	next.Amount = cur.Amount
	next.CreatedAt = cur.CreatedAt
	s.rows[p.ID] = next.Clone()
	return nil
}

// ===== アウトボックス =====

type EventStore struct {
	mu   sync.Mutex
	rows []model.DomainEvent
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Create(_ context.Context, ev model.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, ev)
	return nil
}

func (s *EventStore) ListUnpublished(_ context.Context, limit int) ([]model.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := []model.DomainEvent{}
	for _, ev := range s.rows {
		if ev.PublishedAt == nil {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *EventStore) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id && s.rows[i].PublishedAt == nil {
			s.rows[i].PublishedAt = &at
			return nil
		}
	}
	return repo.ErrNotFound
}

// 記録済みのイベント名（古い順）
func (s *EventStore) Names() []model.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventName, len(s.rows))
	for i, ev := range s.rows {
		out[i] = ev.Name
	}
	return out
}

// ===== カート =====

type KVStore struct {
	mu   sync.RWMutex
	rows map[string][]byte
}

func NewKVStore() *KVStore {
	return &KVStore{rows: map[string][]byte{}}
}

func (s *KVStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *KVStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key] = append([]byte(nil), value...)
	return nil
}

func (s *KVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}
