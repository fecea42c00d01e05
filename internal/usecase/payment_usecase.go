package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	DefaultPaymentCacheTTL = time.Hour

	paymentKeyPrefix = "payment:"
)

// 決済の返金を注文側にも反映する
type OrderRefunder interface {
	Refund(ctx context.Context, orderID string, amount *decimal.Decimal, reason string) (model.Order, error)
}

type PaymentDeps struct {
	Payments      repo.PaymentRepository
	Cache         *cache.LookupCache[model.Payment]
	Gateway       Gateway
	CardValidator CardValidator
	Orders        OrderRefunder
	Events        EventSink
	IDs           IDGenerator
	Clock         Clock
	Retry         retry.Policy
	Logger        *log.Logger

	CacheTTL time.Duration
}

// 決済の入力
type PaymentInput struct {
	OrderID  string
	Amount   decimal.Decimal
	Currency string
	Method   model.PaymentMethod
	Card     *model.CardDetails
	Details  map[string]string
}

// PaymentUsecase は1注文に対する1回の決済試行を実行する
type PaymentUsecase struct {
	payments   repo.PaymentRepository
	cache      *cache.LookupCache[model.Payment]
	orders     OrderRefunder
	events     EventSink
	ids        IDGenerator
	clock      Clock
	policy     retry.Policy
	logger     *log.Logger
	cacheTTL   time.Duration
	strategies map[model.PaymentMethod]paymentStrategy

	locks *lock.Keyed
}

func NewPaymentUsecase(d PaymentDeps) *PaymentUsecase {
	if d.CacheTTL <= 0 {
		d.CacheTTL = DefaultPaymentCacheTTL
	}
	if d.Events == nil {
		d.Events = NopSink()
	}
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	return &PaymentUsecase{
		payments:   d.Payments,
		cache:      d.Cache,
		orders:     d.Orders,
		events:     d.Events,
		ids:        d.IDs,
		clock:      d.Clock,
		policy:     d.Retry,
		logger:     d.Logger,
		cacheTTL:   d.CacheTTL,
		strategies: newPaymentStrategies(d.Gateway, d.CardValidator, d.IDs, d.Retry),
		locks:      lock.NewKeyed(),
	}
}

// Process は PENDING → PROCESSING → COMPLETED/FAILED まで進めた Payment を返す。
// error を返すのは入力不正と永続化の失敗だけで、拒否は FAILED の Payment として返す
func (u *PaymentUsecase) Process(ctx context.Context, in PaymentInput) (model.Payment, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return model.Payment{}, NewAppError(KindValidation, "order id is required")
	}
	if !in.Amount.IsPositive() {
		return model.Payment{}, NewAppError(KindValidation, "amount must be positive")
	}
	strategy, ok := u.strategies[in.Method]
	if !ok {
		return model.Payment{}, NewAppError(KindValidation, fmt.Sprintf("unsupported payment method %q", in.Method))
	}

	now := u.clock.Now()
	p := model.Payment{
		ID:              u.ids.NewID(),
		OrderID:         in.OrderID,
		Amount:          in.Amount.Round(2),
		Currency:        in.Currency,
		Method:          in.Method,
		Status:          model.PaymentStatusPending,
		GatewayResponse: model.GatewayResponse{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	unlock := u.locks.Lock(p.ID)
	defer unlock()

	if err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.payments.Create(ctx, p)
	}); err != nil {
		return model.Payment{}, wrapError(KindInternal, "create payment", err)
	}

	p.Status = model.PaymentStatusProcessing
	p.UpdatedAt = u.clock.Now()
	if err := u.persist(ctx, p, nil); err != nil {
		return model.Payment{}, err
	}

	res, err := strategy.attempt(ctx, GatewayRequest{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Method:    p.Method,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Card:      in.Card,
		Details:   in.Details,
	})
	if err != nil && ctx.Err() != nil {
		// 呼び出し側が離脱した。PROCESSING のまま残し、照合処理に任せる
		return p.Clone(), wrapError(KindInternal, "payment attempt abandoned", err)
	}
	if err != nil {
		u.logger.Printf("gateway error: payment_id=%s order_id=%s err=%v", p.ID, p.OrderID, err)
		res = attemptResult{
			Reason: FailureGatewayUnavailable,
			Raw: map[string]any{
				"status": "error",
				"error":  err.Error(),
			},
		}
	}

	processedAt := u.clock.Now()
	p.ProcessedAt = &processedAt
	p.UpdatedAt = processedAt
	p.GatewayResponse = model.GatewayResponse(res.Raw)
	if res.Approved {
		p.Status = model.PaymentStatusCompleted
		ref := res.Reference
		p.TransactionID = &ref
	} else {
		p.Status = model.PaymentStatusFailed
		reason := res.Reason
		p.FailureReason = &reason
	}

	// 離脱済みでも終端状態は書き切る
	if err := u.persist(context.WithoutCancel(ctx), p, nil); err != nil {
		return model.Payment{}, err
	}

	if p.Status == model.PaymentStatusCompleted {
		u.events.Record(ctx, model.EventPaymentCompleted, model.EventResourcePayment, p.ID, paymentPayload(p))
	} else {
		u.events.Record(ctx, model.EventPaymentFailed, model.EventResourcePayment, p.ID, paymentPayload(p))
	}
	return p.Clone(), nil
}

// Refund は amount が nil なら残額を全額返す。返金合計は元の金額を超えない
func (u *PaymentUsecase) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal, reason string) (model.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return model.Payment{}, NewAppError(KindValidation, "invalid id")
	}

	unlock := u.locks.Lock(paymentID)
	defer unlock()

	p, err := u.find(ctx, paymentID)
	if err != nil {
		return model.Payment{}, err
	}
	if p.Status != model.PaymentStatusCompleted && p.Status != model.PaymentStatusPartiallyRefunded {
		return model.Payment{}, NewAppError(KindState, fmt.Sprintf("cannot refund a %s payment", p.Status))
	}

	remaining := p.Amount.Sub(p.RefundedTotal())
	amt := remaining
	if amount != nil {
		amt = amount.Round(2)
	}
	if !amt.IsPositive() {
		return model.Payment{}, NewAppError(KindValidation, "refund amount must be positive")
	}
	if amt.GreaterThan(remaining) {
		return model.Payment{}, NewAppError(KindValidation, fmt.Sprintf("refund amount exceeds refundable balance %s", remaining.StringFixed(2)))
	}

	next := model.PaymentStatusPartiallyRefunded
	if amt.Equal(remaining) {
		next = model.PaymentStatusRefunded
	}
	if !p.Status.CanTransitionTo(next) {
		return model.Payment{}, NewAppError(KindState, fmt.Sprintf("cannot change payment from %s to %s", p.Status, next))
	}

	now := u.clock.Now()
	refund := model.PaymentRefund{
		ID:        u.ids.NewID(),
		PaymentID: p.ID,
		Amount:    amt,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now,
	}
	p.Refunds = append(p.Refunds, refund)
	p.Status = next
	p.UpdatedAt = now

	if err := u.persist(ctx, p, []model.PaymentRefund{refund}); err != nil {
		return model.Payment{}, err
	}

	u.events.Record(ctx, model.EventPaymentRefunded, model.EventResourcePayment, p.ID, map[string]any{
		"order_id":       p.OrderID,
		"amount":         amt.StringFixed(2),
		"refunded_total": p.RefundedTotal().StringFixed(2),
		"status":         p.Status,
		"reason":         refund.Reason,
	})

	if u.orders != nil {
		// 決済側の返金は確定済み。注文側だけ失敗したらずれを記録する
		if _, err := u.orders.Refund(ctx, p.OrderID, &amt, refund.Reason); err != nil {
			u.logger.Printf("order refund failed: payment_id=%s order_id=%s err=%v", p.ID, p.OrderID, err)
			u.events.Record(ctx, model.EventRefundOutOfSync, model.EventResourcePayment, p.ID, map[string]any{
				"order_id":  p.OrderID,
				"refund_id": refund.ID,
				"amount":    amt.StringFixed(2),
				"kind":      KindOf(err),
				"error":     err.Error(),
			})
		}
	}
	return p.Clone(), nil
}

func (u *PaymentUsecase) Get(ctx context.Context, paymentID string) (model.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return model.Payment{}, NewAppError(KindValidation, "invalid id")
	}

	p, err := u.cache.GetOrLoad(ctx, paymentKeyPrefix+paymentID, u.cacheTTL, func(ctx context.Context) (model.Payment, error) {
		return u.find(ctx, paymentID)
	})
	if err != nil {
		return model.Payment{}, err
	}
	return p.Clone(), nil
}

func (u *PaymentUsecase) List(ctx context.Context, f repo.PaymentListFilter) ([]model.Payment, error) {
	if f.Method != "" && !f.Method.Valid() {
		return nil, NewAppError(KindValidation, "invalid method")
	}
	if f.Limit < 0 || f.Limit > 200 {
		return nil, NewAppError(KindValidation, "invalid limit")
	}
	if f.Offset < 0 {
		return nil, NewAppError(KindValidation, "invalid offset")
	}

	out, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) ([]model.Payment, error) {
		return u.payments.List(ctx, f)
	})
	if err != nil {
		return nil, wrapError(KindInternal, "list payments", err)
	}
	return out, nil
}

// 注文に紐づく試行を作成順に返す
func (u *PaymentUsecase) ListByOrder(ctx context.Context, orderID string) ([]model.Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, NewAppError(KindValidation, "invalid id")
	}
	return u.List(ctx, repo.PaymentListFilter{OrderID: orderID})
}

type PaymentStats struct {
	TotalPayments  int                                     `json:"total_payments"`
	TotalAmount    decimal.Decimal                         `json:"total_amount"`
	AverageAmount  decimal.Decimal                         `json:"average_amount"`
	ByMethod       map[model.PaymentMethod]int             `json:"by_method"`
	ByStatus       map[model.PaymentStatus]int             `json:"by_status"`
	AmountByMethod map[model.PaymentMethod]decimal.Decimal `json:"amount_by_method"`
	SuccessRate    float64                                 `json:"success_rate"`
	RefundRate     float64                                 `json:"refund_rate"`
}

// Stats は条件に合う決済を全件走査して集計する。率は % で小数2桁
func (u *PaymentUsecase) Stats(ctx context.Context, f repo.PaymentListFilter) (PaymentStats, error) {
	const page = 200

	stats := PaymentStats{
		TotalAmount:    decimal.Zero,
		AverageAmount:  decimal.Zero,
		ByMethod:       map[model.PaymentMethod]int{},
		ByStatus:       map[model.PaymentStatus]int{},
		AmountByMethod: map[model.PaymentMethod]decimal.Decimal{},
	}

	f.Limit = page
	f.Offset = 0
	completed, refunded := 0, 0
	for {
		payments, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) ([]model.Payment, error) {
			return u.payments.List(ctx, f)
		})
		if err != nil {
			return PaymentStats{}, wrapError(KindInternal, "list payments", err)
		}

		for _, p := range payments {
			stats.TotalPayments++
			stats.TotalAmount = stats.TotalAmount.Add(p.Amount)
			stats.ByMethod[p.Method]++
			stats.ByStatus[p.Status]++
			stats.AmountByMethod[p.Method] = stats.AmountByMethod[p.Method].Add(p.Amount)

			switch p.Status {
			case model.PaymentStatusCompleted:
				completed++
			case model.PaymentStatusRefunded, model.PaymentStatusPartiallyRefunded:
				completed++
				refunded++
			}
		}

		if len(payments) < page {
			break
		}
		f.Offset += page
	}

	if stats.TotalPayments > 0 {
		n := decimal.NewFromInt(int64(stats.TotalPayments))
		stats.AverageAmount = stats.TotalAmount.Div(n).Round(2)
		stats.SuccessRate = percent(completed, stats.TotalPayments)
		stats.RefundRate = percent(refunded, stats.TotalPayments)
	}
	return stats, nil
}

// ===== 内部処理 =====

func (u *PaymentUsecase) persist(ctx context.Context, p model.Payment, appended []model.PaymentRefund) error {
	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.payments.Update(ctx, p, appended)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return NewAppError(KindNotFound, "payment not found")
	}
	if err != nil {
		u.cache.Delete(paymentKeyPrefix + p.ID)
		return wrapError(KindInternal, "update payment", err)
	}
	u.cache.SetWithTTL(paymentKeyPrefix+p.ID, p.Clone(), u.cacheTTL)
	return nil
}

func (u *PaymentUsecase) find(ctx context.Context, paymentID string) (model.Payment, error) {
	p, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) (model.Payment, error) {
		return u.payments.FindByID(ctx, paymentID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, NewAppError(KindNotFound, "payment not found")
	}
	if err != nil {
		return model.Payment{}, wrapError(KindInternal, "find payment", err)
	}
	return p, nil
}

func paymentPayload(p model.Payment) map[string]any {
	payload := map[string]any{
		"order_id": p.OrderID,
		"amount":   p.Amount.StringFixed(2),
		"currency": p.Currency,
		"method":   p.Method,
		"status":   p.Status,
	}
	if p.TransactionID != nil {
		payload["transaction_id"] = *p.TransactionID
	}
	if p.FailureReason != nil {
		payload["failure_reason"] = *p.FailureReason
	}
	return payload
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	v, _ := decimal.NewFromInt(int64(n)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).Round(2).Float64()
	return v
}

// cancelStale は決着しないまま残った PENDING/PROCESSING の試行を CANCELLED にする
func (u *PaymentUsecase) cancelStale(ctx context.Context, paymentID string, note string) (model.Payment, error) {
	unlock := u.locks.Lock(paymentID)
	defer unlock()

	p, err := u.find(ctx, paymentID)
	if err != nil {
		return model.Payment{}, err
	}
	if !p.Status.CanTransitionTo(model.PaymentStatusCancelled) {
		return model.Payment{}, NewAppError(KindState, fmt.Sprintf("cannot change payment from %s to %s", p.Status, model.PaymentStatusCancelled))
	}

	p.Status = model.PaymentStatusCancelled
	p.FailureReason = &note
	p.UpdatedAt = u.clock.Now()
	if err := u.persist(ctx, p, nil); err != nil {
		return model.Payment{}, err
	}
	return p.Clone(), nil
}
