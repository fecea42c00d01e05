package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"commerce/internal/cache"
	"commerce/internal/domain/model"
	"commerce/internal/lock"
	repo "commerce/internal/repository"
	"commerce/internal/retry"

	"github.com/shopspring/decimal"
)

const (
	DefaultOrderCacheTTL     = 24 * time.Hour
	DefaultEstimatedDelivery = 7 * 24 * time.Hour

	orderNumberPrefix  = "SM"
	orderNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	orderKeyPrefix     = "order:"
	orderListKeyPrefix = "orders:list:"
)

type OrderDeps struct {
	Orders    repo.OrderRepository
	Cache     *cache.LookupCache[model.Order]
	ListCache *cache.LookupCache[[]model.Order]
	Events    EventSink
	IDs       IDGenerator
	Clock     Clock
	Retry     retry.Policy

	CacheTTL          time.Duration
	EstimatedDelivery time.Duration
}

// OrderUsecase は注文のライフサイクル。同じ注文への変更は1件ずつ処理する
type OrderUsecase struct {
	orders    repo.OrderRepository
	cache     *cache.LookupCache[model.Order]
	listCache *cache.LookupCache[[]model.Order]
	events    EventSink
	ids       IDGenerator
	clock     Clock
	policy    retry.Policy

	cacheTTL time.Duration
	delivery time.Duration

	locks *lock.Keyed
}

func NewOrderUsecase(d OrderDeps) *OrderUsecase {
	if d.CacheTTL <= 0 {
		d.CacheTTL = DefaultOrderCacheTTL
	}
	if d.EstimatedDelivery <= 0 {
		d.EstimatedDelivery = DefaultEstimatedDelivery
	}
	if d.Events == nil {
		d.Events = NopSink()
	}
	return &OrderUsecase{
		orders:    d.Orders,
		cache:     d.Cache,
		listCache: d.ListCache,
		events:    d.Events,
		ids:       d.IDs,
		clock:     d.Clock,
		policy:    d.Retry,
		cacheTTL:  d.CacheTTL,
		delivery:  d.EstimatedDelivery,
		locks:     lock.NewKeyed(),
	}
}

// 注文作成の入力（カートから組み立てる）
type OrderDraft struct {
	SessionID       string
	Customer        model.Customer
	ShippingAddress model.Address
	BillingAddress  model.Address
	Lines           []model.CartLine
	Amounts         Amounts
	Currency        string
	PaymentMethod   model.PaymentMethod
}

// Create は PENDING の注文を作り、最初の履歴を積む
func (u *OrderUsecase) Create(ctx context.Context, d OrderDraft) (model.Order, error) {
	if len(d.Lines) == 0 {
		return model.Order{}, NewAppError(KindEmptyCart, "order has no items")
	}

	now := u.clock.Now()
	id := u.ids.NewID()

	items := make([]model.OrderItem, 0, len(d.Lines))
	for _, l := range d.Lines {
		name := ""
		image := ""
		if l.Product != nil {
			name = l.Product.Name
			image = l.Product.Image
		}
		items = append(items, model.OrderItem{
			OrderID:           id,
			ProductID:         l.ProductID,
			ProductName:       name,
			Image:             image,
			Options:           l.OptionsKey,
			Quantity:          l.Quantity,
			UnitPrice:         l.UnitPrice,
			OriginalUnitPrice: l.OriginalUnitPrice,
			SellerID:          l.SellerID,
			SellerName:        l.SellerName,
		})
	}

	billing := d.BillingAddress
	if billing.IsZero() {
		billing = d.ShippingAddress
	}

	o := model.Order{
		ID:                id,
		OrderNumber:       newOrderNumber(now),
		SessionID:         d.SessionID,
		Customer:          d.Customer,
		ShippingAddress:   d.ShippingAddress,
		BillingAddress:    billing,
		Items:             items,
		Subtotal:          d.Amounts.Subtotal,
		Tax:               d.Amounts.Tax,
		Shipping:          d.Amounts.Shipping,
		Discount:          d.Amounts.Discount,
		Total:             d.Amounts.Total,
		RefundedAmount:    decimal.Zero,
		Currency:          d.Currency,
		Status:            model.OrderStatusPending,
		PaymentStatus:     model.OrderPaymentPending,
		PaymentMethod:     d.PaymentMethod,
		EstimatedDelivery: now.Add(u.delivery),
		History: []model.OrderHistory{{
			OrderID:   id,
			Status:    model.OrderStatusPending,
			Note:      "Order created",
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.orders.Create(ctx, o)
	})
	if err != nil {
		return model.Order{}, wrapError(KindInternal, "create order", err)
	}

	u.remember(o)
	u.events.Record(ctx, model.EventOrderCreated, model.EventResourceOrder, o.ID, map[string]any{
		"order_number": o.OrderNumber,
		"total":        o.Total.StringFixed(2),
		"currency":     o.Currency,
		"item_count":   len(o.Items),
	})
	return o.Clone(), nil
}

// Get はキャッシュ経由で注文を返す
func (u *OrderUsecase) Get(ctx context.Context, orderID string) (model.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, NewAppError(KindValidation, "invalid id")
	}

	o, err := u.cache.GetOrLoad(ctx, orderKeyPrefix+orderID, u.cacheTTL, func(ctx context.Context) (model.Order, error) {
		return u.find(ctx, orderID)
	})
	if err != nil {
		return model.Order{}, err
	}
	return o.Clone(), nil
}

func (u *OrderUsecase) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, NewAppError(KindValidation, "invalid status")
	}
	if f.Limit < 0 || f.Limit > 200 {
		return nil, NewAppError(KindValidation, "invalid limit")
	}
	if f.Offset < 0 {
		return nil, NewAppError(KindValidation, "invalid offset")
	}

	orders, err := u.listCache.GetOrLoad(ctx, orderListKey(f), u.cacheTTL, func(ctx context.Context) ([]model.Order, error) {
		return u.listFresh(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out, nil
}

// Transition はステータスを変更し履歴を追記する。終端状態からは変更できない
func (u *OrderUsecase) Transition(ctx context.Context, orderID string, next model.OrderStatus, note string) (model.Order, error) {
	if !next.Valid() {
		return model.Order{}, NewAppError(KindValidation, "invalid status")
	}
	// REFUNDED は返金処理で残額を全額返す
	if next == model.OrderStatusRefunded {
		return u.refund(ctx, orderID, nil, note, true)
	}
	return u.transition(ctx, orderID, next, note, nil)
}

func (u *OrderUsecase) transition(ctx context.Context, orderID string, next model.OrderStatus, note string, payment *model.OrderPaymentStatus) (model.Order, error) {
	var prev model.OrderStatus
	o, err := u.mutate(ctx, orderID, func(o *model.Order, now time.Time) ([]model.OrderHistory, error) {
		if o.Status.IsTerminal() {
			return nil, NewAppError(KindState, fmt.Sprintf("order is %s and can no longer change", o.Status))
		}
		if !o.Status.CanTransitionTo(next) {
			return nil, NewAppError(KindState, fmt.Sprintf("cannot change order from %s to %s", o.Status, next))
		}

		prev = o.Status
		o.Status = next
		if payment != nil {
			o.PaymentStatus = *payment
		}
		if strings.TrimSpace(note) == "" {
			note = fmt.Sprintf("Status updated to %s", next)
		}
		return []model.OrderHistory{{OrderID: o.ID, Status: next, Note: note, CreatedAt: now}}, nil
	})
	if err != nil {
		return model.Order{}, err
	}

	u.events.Record(ctx, model.EventOrderStatusUpdated, model.EventResourceOrder, o.ID, map[string]any{
		"from":           prev,
		"to":             o.Status,
		"payment_status": o.PaymentStatus,
		"note":           note,
	})
	return o, nil
}

// Refund は amount が nil なら残額を全額返す。合計は書き換えず RefundedAmount に積む
func (u *OrderUsecase) Refund(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (model.Order, error) {
	return u.refund(ctx, orderID, amount, reason, false)
}

func (u *OrderUsecase) refund(ctx context.Context, orderID string, amount *decimal.Decimal, reason string, viaTransition bool) (model.Order, error) {
	var refunded decimal.Decimal
	o, err := u.mutate(ctx, orderID, func(o *model.Order, now time.Time) ([]model.OrderHistory, error) {
		if viaTransition && !o.Status.CanTransitionTo(model.OrderStatusRefunded) {
			return nil, NewAppError(KindState, fmt.Sprintf("cannot change order from %s to %s", o.Status, model.OrderStatusRefunded))
		}

		remaining := o.Refundable()
		if !remaining.IsPositive() {
			return nil, NewAppError(KindState, "order has already been fully refunded")
		}

		amt := remaining
		if amount != nil {
			amt = amount.Round(2)
		}
		if !amt.IsPositive() {
			return nil, NewAppError(KindValidation, "refund amount must be positive")
		}
		if amt.GreaterThan(remaining) {
			return nil, NewAppError(KindValidation, fmt.Sprintf("refund amount exceeds refundable balance %s", remaining.StringFixed(2)))
		}

		o.RefundedAmount = o.RefundedAmount.Add(amt)
		if o.RefundedAmount.Equal(o.Total) {
			o.PaymentStatus = model.OrderPaymentRefunded
			if o.Status.RefundMovesTo() {
				o.Status = model.OrderStatusRefunded
			}
		} else {
			o.PaymentStatus = model.OrderPaymentPartiallyRefunded
		}
		refunded = amt

		note := fmt.Sprintf("Refunded %s %s", amt.StringFixed(2), o.Currency)
		if strings.TrimSpace(reason) != "" {
			note += ": " + strings.TrimSpace(reason)
		}
		return []model.OrderHistory{{OrderID: o.ID, Status: o.Status, Note: note, CreatedAt: now}}, nil
	})
	if err != nil {
		return model.Order{}, err
	}

	u.events.Record(ctx, model.EventOrderRefunded, model.EventResourceOrder, o.ID, map[string]any{
		"amount":          refunded.StringFixed(2),
		"refunded_amount": o.RefundedAmount.StringFixed(2),
		"payment_status":  o.PaymentStatus,
		"reason":          reason,
	})
	return o, nil
}

// AddTracking は CONFIRMED 以降の注文にだけ追跡番号を付ける
func (u *OrderUsecase) AddTracking(ctx context.Context, orderID string, trackingNumber string, carrier string) (model.Order, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	carrier = strings.TrimSpace(carrier)
	if trackingNumber == "" {
		return model.Order{}, NewAppError(KindValidation, "tracking number is required")
	}

	o, err := u.mutate(ctx, orderID, func(o *model.Order, now time.Time) ([]model.OrderHistory, error) {
		if !o.Status.AtLeastConfirmed() {
			return nil, NewAppError(KindState, fmt.Sprintf("cannot add tracking to a %s order", o.Status))
		}

		o.TrackingNumber = &trackingNumber
		o.Carrier = nil
		note := "Tracking number added: " + trackingNumber
		if carrier != "" {
			o.Carrier = &carrier
			note += " (" + carrier + ")"
		}
		return []model.OrderHistory{{OrderID: o.ID, Status: o.Status, Note: note, CreatedAt: now}}, nil
	})
	if err != nil {
		return model.Order{}, err
	}

	u.events.Record(ctx, model.EventTrackingAdded, model.EventResourceOrder, o.ID, map[string]any{
		"tracking_number": trackingNumber,
		"carrier":         carrier,
	})
	return o, nil
}

// ===== 集計 =====

type ProductSales struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type SellerSales struct {
	Name    string          `json:"name"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

type OrderStats struct {
	TotalOrders       int                       `json:"total_orders"`
	TotalRevenue      decimal.Decimal           `json:"total_revenue"`
	AverageOrderValue decimal.Decimal           `json:"average_order_value"`
	ByStatus          map[model.OrderStatus]int `json:"by_status"`
	ByMonth           map[string]int            `json:"by_month"`
	TopProducts       map[string]ProductSales   `json:"top_products"`
	TopSellers        map[string]SellerSales    `json:"top_sellers"`
}

// Stats は条件に合う注文を全件走査して集計する
func (u *OrderUsecase) Stats(ctx context.Context, f repo.OrderListFilter) (OrderStats, error) {
	const page = 200

	stats := OrderStats{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		ByStatus:          map[model.OrderStatus]int{},
		ByMonth:           map[string]int{},
		TopProducts:       map[string]ProductSales{},
		TopSellers:        map[string]SellerSales{},
	}

	f.Limit = page
	f.Offset = 0
	for {
		orders, err := u.listFresh(ctx, f)
		if err != nil {
			return OrderStats{}, err
		}

		for _, o := range orders {
			stats.TotalOrders++
			stats.TotalRevenue = stats.TotalRevenue.Add(o.Total)
			stats.ByStatus[o.Status]++
			stats.ByMonth[o.CreatedAt.UTC().Format("2006-01")]++

			sellers := map[string]bool{}
			for _, it := range o.Items {
				ps := stats.TopProducts[it.ProductID]
				ps.Name = it.ProductName
				ps.Quantity += it.Quantity
				ps.Revenue = ps.Revenue.Add(it.LineTotal())
				stats.TopProducts[it.ProductID] = ps

				ss := stats.TopSellers[it.SellerID]
				ss.Name = it.SellerName
				if !sellers[it.SellerID] {
					ss.Orders++
					sellers[it.SellerID] = true
				}
				ss.Revenue = ss.Revenue.Add(it.LineTotal())
				stats.TopSellers[it.SellerID] = ss
			}
		}

		if len(orders) < page {
			break
		}
		f.Offset += page
	}

	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue.Div(decimal.NewFromInt(int64(stats.TotalOrders))).Round(2)
	}
	return stats, nil
}

// ===== 内部処理 =====

// listFresh はキャッシュを通さずに一覧を取る
func (u *OrderUsecase) listFresh(ctx context.Context, f repo.OrderListFilter) ([]model.Order, error) {
	out, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) ([]model.Order, error) {
		return u.orders.List(ctx, f)
	})
	if err != nil {
		return nil, wrapError(KindInternal, "list orders", err)
	}
	return out, nil
}

// mutate は注文ロックを取り、最新を読み、fn の変更と履歴を保存してキャッシュを更新する
func (u *OrderUsecase) mutate(ctx context.Context, orderID string, fn func(o *model.Order, now time.Time) ([]model.OrderHistory, error)) (model.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return model.Order{}, NewAppError(KindValidation, "invalid id")
	}

	unlock := u.locks.Lock(orderID)
	defer unlock()

	o, err := u.find(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}

	now := u.clock.Now()
	appended, err := fn(&o, now)
	if err != nil {
		return model.Order{}, err
	}
	o.UpdatedAt = now
	o.History = append(o.History, appended...)

	err = retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.orders.Update(ctx, o, appended)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NewAppError(KindNotFound, "order not found")
	}
	if err != nil {
		// 書き込み結果が不明なのでキャッシュは捨てる
		u.cache.Delete(orderKeyPrefix + orderID)
		u.listCache.Purge()
		return model.Order{}, wrapError(KindInternal, "update order", err)
	}

	u.remember(o)
	return o.Clone(), nil
}

func (u *OrderUsecase) find(ctx context.Context, orderID string) (model.Order, error) {
	o, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) (model.Order, error) {
		return u.orders.FindByID(ctx, orderID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, NewAppError(KindNotFound, "order not found")
	}
	if err != nil {
		return model.Order{}, wrapError(KindInternal, "find order", err)
	}
	return o, nil
}

// remember は単票キャッシュを差し替え、一覧キャッシュを捨てる
func (u *OrderUsecase) remember(o model.Order) {
	u.cache.SetWithTTL(orderKeyPrefix+o.ID, o.Clone(), u.cacheTTL)
	u.listCache.Purge()
}

func orderListKey(f repo.OrderListFilter) string {
	var b strings.Builder
	b.WriteString(orderListKeyPrefix)
	fmt.Fprintf(&b, "%s|%s|%s|", f.Status, f.PaymentStatus, f.SessionID)
	if f.From != nil {
		b.WriteString(f.From.UTC().Format(time.RFC3339Nano))
	}
	b.WriteString("|")
	if f.To != nil {
		b.WriteString(f.To.UTC().Format(time.RFC3339Nano))
	}
	fmt.Fprintf(&b, "|%d|%d", f.Limit, f.Offset)
	return b.String()
}

// SM + YYMMDD + 4文字。表示用で、主キーは ID
func newOrderNumber(now time.Time) string {
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = orderNumberCharset[rand.IntN(len(orderNumberCharset))]
	}
	return orderNumberPrefix + now.Format("060102") + string(suffix)
}

// 売上の多い順の商品ID。n<=0 なら全件（opsctl stats --top）
func (s OrderStats) TopProductIDs(n int) []string {
	ids := make([]string, 0, len(s.TopProducts))
	for id := range s.TopProducts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.TopProducts[ids[i]].Revenue.GreaterThan(s.TopProducts[ids[j]].Revenue)
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
