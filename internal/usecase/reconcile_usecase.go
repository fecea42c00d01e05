package usecase

import (
	"context"
	"log"
	"time"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"
)

const (
	DefaultPendingAge     = 30 * time.Minute
	DefaultReconcileBatch = 100
)

type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Confirmed int `json:"confirmed"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// ReconcileUsecase は決済結果が反映されずに残った PENDING 注文を決着させる
type ReconcileUsecase struct {
	orders     *OrderUsecase
	payments   *PaymentUsecase
	events     EventSink
	clock      Clock
	logger     *log.Logger
	pendingAge time.Duration
	batch      int
}

func NewReconcileUsecase(
	orders *OrderUsecase,
	payments *PaymentUsecase,
	events EventSink,
	clock Clock,
	logger *log.Logger,
	pendingAge time.Duration,
) *ReconcileUsecase {
	if events == nil {
		events = NopSink()
	}
	if logger == nil {
		logger = log.Default()
	}
	if pendingAge <= 0 {
		pendingAge = DefaultPendingAge
	}
	return &ReconcileUsecase{
		orders:     orders,
		payments:   payments,
		events:     events,
		clock:      clock,
		logger:     logger,
		pendingAge: pendingAge,
		batch:      DefaultReconcileBatch,
	}
}

// SweepStalePending は pendingAge より古い PENDING 注文を1バッチ処理する。
// 完了済みの決済があれば CONFIRMED、無ければ決着していない試行を取り消して CANCELLED
func (u *ReconcileUsecase) SweepStalePending(ctx context.Context) (ReconcileReport, error) {
	cutoff := u.clock.Now().Add(-u.pendingAge)

	orders, err := u.orders.listFresh(ctx, repo.OrderListFilter{
		Status: model.OrderStatusPending,
		To:     &cutoff,
		Limit:  u.batch,
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for _, o := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++

		outcome, err := u.settle(ctx, o)
		if err != nil {
			report.Failed++
			u.logger.Printf("reconcile failed: order_id=%s err=%v", o.ID, err)
			continue
		}
		switch outcome {
		case model.OrderStatusConfirmed:
			report.Confirmed++
		case model.OrderStatusCancelled:
			report.Cancelled++
		}
	}
	return report, nil
}

func (u *ReconcileUsecase) settle(ctx context.Context, o model.Order) (model.OrderStatus, error) {
	payments, err := u.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}

	var completed *model.Payment
	for i := range payments {
		if payments[i].Status == model.PaymentStatusCompleted {
			completed = &payments[i]
			break
		}
	}

	if completed != nil {
		paid := model.OrderPaymentPaid
		if completed.Method.SettlesOutOfBand() {
			paid = model.OrderPaymentPending
		}
		if _, err := u.orders.transition(ctx, o.ID, model.OrderStatusConfirmed, "Confirmed by reconciliation: payment "+completed.ID+" completed", &paid); err != nil {
			return "", err
		}
		u.events.Record(ctx, model.EventOrderReconciled, model.EventResourceOrder, o.ID, map[string]any{
			"status":     model.OrderStatusConfirmed,
			"payment_id": completed.ID,
		})
		return model.OrderStatusConfirmed, nil
	}

	for _, p := range payments {
		if p.Status == model.PaymentStatusPending || p.Status == model.PaymentStatusProcessing {
			if _, err := u.payments.cancelStale(ctx, p.ID, "AbandonedCheckout"); err != nil {
				u.logger.Printf("cancel stale payment failed: payment_id=%s err=%v", p.ID, err)
			}
		}
	}

	failed := model.OrderPaymentFailed
	if _, err := u.orders.transition(ctx, o.ID, model.OrderStatusCancelled, "Cancelled by reconciliation: no completed payment", &failed); err != nil {
		return "", err
	}
	u.events.Record(ctx, model.EventOrderReconciled, model.EventResourceOrder, o.ID, map[string]any{
		"status":   model.OrderStatusCancelled,
		"payments": len(payments),
	})
	return model.OrderStatusCancelled, nil
}

// Run は interval ごとに SweepStalePending を呼ぶ。ctx が終わるまで戻らない
func (u *ReconcileUsecase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := u.SweepStalePending(ctx)
			if err != nil {
				u.logger.Printf("reconcile sweep error: %v", err)
				continue
			}
			if report.Scanned > 0 {
				u.logger.Printf("reconciled pending orders: scanned=%d confirmed=%d cancelled=%d failed=%d",
					report.Scanned, report.Confirmed, report.Cancelled, report.Failed)
			}
		}
	}
}
