package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"

	"commerce/internal/domain/model"
)

type CheckoutPayment struct {
	Method  model.PaymentMethod
	Card    *model.CardDetails
	Details map[string]string
}

type CheckoutInput struct {
	Customer        model.Customer
	ShippingAddress model.Address
	BillingAddress  model.Address // 空なら配送先と同じ
	Payment         CheckoutPayment
}

type CheckoutResult struct {
	Order   model.Order   `json:"order"`
	Payment model.Payment `json:"payment"`
}

// CheckoutUsecase はカート → 注文作成 → 決済 → 注文確定/取消 を順に実行する
type CheckoutUsecase struct {
	carts     *CartUsecase
	orders    *OrderUsecase
	payments  *PaymentUsecase
	validator CheckoutValidator
	pricing   PricingPolicy
	events    EventSink
	logger    *log.Logger
}

func NewCheckoutUsecase(
	carts *CartUsecase,
	orders *OrderUsecase,
	payments *PaymentUsecase,
	validator CheckoutValidator,
	pricing PricingPolicy,
	events EventSink,
	logger *log.Logger,
) *CheckoutUsecase {
	if events == nil {
		events = NopSink()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CheckoutUsecase{
		carts:     carts,
		orders:    orders,
		payments:  payments,
		validator: validator,
		pricing:   pricing,
		events:    events,
		logger:    logger,
	}
}

// Run はセッションのカートを注文にする。
// 決済失敗時は注文を CANCELLED にしてカートを残し、PAYMENT_FAILED と一緒に結果を返す。
// 注文作成後に決済結果が確定しなかった場合、注文は PENDING のまま照合処理に任せる
func (u *CheckoutUsecase) Run(ctx context.Context, sessionID string, in CheckoutInput) (CheckoutResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return CheckoutResult{}, NewAppError(KindValidation, "session is required")
	}
	if err := u.validateInput(in); err != nil {
		return CheckoutResult{}, err
	}

	// 同じカートでの同時チェックアウトは受け付けない
	unlock, ok := u.carts.locks.TryLock(sessionID)
	if !ok {
		return CheckoutResult{}, NewAppError(KindCheckoutInProgress, "checkout already in progress for this cart")
	}
	defer unlock()

	summary, cart, err := u.carts.summaryLocked(ctx, sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if summary.LineCount == 0 {
		return CheckoutResult{}, NewAppError(KindEmptyCart, "cart is empty")
	}
	if !summary.Validation.Valid {
		msgs := make([]string, 0, len(summary.Validation.Errors))
		for _, e := range summary.Validation.Errors {
			msgs = append(msgs, e.Message)
		}
		return CheckoutResult{}, NewAppError(KindCartInvalid, strings.Join(msgs, "; "))
	}
	for _, w := range summary.Validation.Warnings {
		u.logger.Printf("cart adjusted before checkout: session=%s product_id=%s %s", sessionID, w.ProductID, w.Message)
	}

	amounts := u.pricing.Compute(summary.Total, len(summary.Sellers))

	order, err := u.orders.Create(ctx, OrderDraft{
		SessionID:       sessionID,
		Customer:        in.Customer,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Lines:           cart.Lines,
		Amounts:         amounts,
		Currency:        u.pricing.Currency,
		PaymentMethod:   in.Payment.Method,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	payment, err := u.payments.Process(ctx, PaymentInput{
		OrderID:  order.ID,
		Amount:   order.Total,
		Currency: order.Currency,
		Method:   in.Payment.Method,
		Card:     in.Payment.Card,
		Details:  in.Payment.Details,
	})
	if err != nil {
		u.logger.Printf("payment unresolved, order left pending: order_id=%s err=%v", order.ID, err)
		u.events.Record(ctx, model.EventCheckoutFailed, model.EventResourceCart, sessionID, map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return CheckoutResult{Order: order}, err
	}

	// 決済が終端に達した後の確定・取消は離脱されても書き切る
	ctx = context.WithoutCancel(ctx)

	if payment.Status != model.PaymentStatusCompleted {
		reason := FailureDeclined
		if payment.FailureReason != nil {
			reason = *payment.FailureReason
		}

		failed := model.OrderPaymentFailed
		cancelled, err := u.orders.transition(ctx, order.ID, model.OrderStatusCancelled, "Payment failed: "+reason, &failed)
		if err != nil {
			u.logger.Printf("cancel order failed: order_id=%s err=%v", order.ID, err)
		} else {
			order = cancelled
		}

		u.events.Record(ctx, model.EventCheckoutFailed, model.EventResourceCart, sessionID, map[string]any{
			"order_id":   order.ID,
			"payment_id": payment.ID,
			"reason":     reason,
		})
		return CheckoutResult{Order: order, Payment: payment}, NewAppError(KindPaymentFailed, reason)
	}

	paid := model.OrderPaymentPaid
	if payment.Method.SettlesOutOfBand() {
		paid = model.OrderPaymentPending
	}
	confirmed, err := u.orders.transition(ctx, order.ID, model.OrderStatusConfirmed, "Payment completed successfully", &paid)
	if err != nil {
		return CheckoutResult{Order: order, Payment: payment}, err
	}
	order = confirmed

	if err := u.carts.clearLocked(ctx, sessionID); err != nil {
		u.logger.Printf("clear cart failed: session=%s order_id=%s err=%v", sessionID, order.ID, err)
	}

	u.events.Record(ctx, model.EventCheckoutCompleted, model.EventResourceCart, sessionID, map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"payment_id":   payment.ID,
		"total":        order.Total.StringFixed(2),
	})
	return CheckoutResult{Order: order, Payment: payment}, nil
}

func (u *CheckoutUsecase) validateInput(in CheckoutInput) error {
	if err := u.validator.ValidateCustomer(in.Customer); err != nil {
		return wrapError(KindValidation, fmt.Sprintf("customer: %v", err), err)
	}
	if err := u.validator.ValidateAddress(in.ShippingAddress); err != nil {
		return wrapError(KindValidation, fmt.Sprintf("shipping address: %v", err), err)
	}
	if !in.BillingAddress.IsZero() {
		if err := u.validator.ValidateAddress(in.BillingAddress); err != nil {
			return wrapError(KindValidation, fmt.Sprintf("billing address: %v", err), err)
		}
	}
	if !in.Payment.Method.Valid() {
		return NewAppError(KindValidation, fmt.Sprintf("unsupported payment method %q", in.Payment.Method))
	}
	return nil
}
