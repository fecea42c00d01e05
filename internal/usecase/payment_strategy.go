package usecase

import (
	"context"
	"strings"

	"commerce/internal/domain/model"
	"commerce/internal/retry"
)

// 失敗理由（Payment.FailureReason にそのまま入る）
const (
	FailureInvalidCardDetails = "InvalidCardDetails"
	FailureGatewayUnavailable = "GatewayUnavailable"
	FailureDeclined           = "Declined"
)

// 1回の試行の結果。Approved=false なら Reason に理由が入る
type attemptResult struct {
	Approved  bool
	Reference string
	Reason    string
	Raw       map[string]any
}

// 決済方式ごとの試行手順
type paymentStrategy interface {
	attempt(ctx context.Context, req GatewayRequest) (attemptResult, error)
}

// ===== カード（credit / debit） =====

type cardStrategy struct {
	validator CardValidator
	remote    *remoteStrategy
}

// 検証に落ちたらゲートウェイに触れずに失敗させる
func (s cardStrategy) attempt(ctx context.Context, req GatewayRequest) (attemptResult, error) {
	if req.Card == nil {
		return attemptResult{Reason: FailureInvalidCardDetails, Raw: map[string]any{
			"status": "rejected",
			"error":  "card details are required",
		}}, nil
	}
	if err := s.validator.ValidateCard(*req.Card); err != nil {
		return attemptResult{Reason: FailureInvalidCardDetails, Raw: map[string]any{
			"status": "rejected",
			"error":  err.Error(),
		}}, nil
	}
	return s.remote.attempt(ctx, req)
}

// ===== ウォレット（paypal）/ ホスト型（stripe） =====

type remoteStrategy struct {
	gateway Gateway
	policy  retry.Policy
}

// ネットワーク系の失敗だけ同じ PaymentID で再送する
func (s *remoteStrategy) attempt(ctx context.Context, req GatewayRequest) (attemptResult, error) {
	res, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (GatewayResult, error) {
		return s.gateway.Authorize(ctx, req)
	})
	if err != nil {
		return attemptResult{}, err
	}

	if !res.Approved {
		reason := res.DeclineReason
		if reason == "" {
			reason = FailureDeclined
		}
		return attemptResult{Reason: reason, Raw: res.Raw}, nil
	}
	return attemptResult{Approved: true, Reference: res.Reference, Raw: res.Raw}, nil
}

// ===== 代引き / 銀行振込 =====

// 精算は外部で後から行うので常に成功扱い（応答は pending）
type offlineStrategy struct {
	method model.PaymentMethod
	note   string
	ids    IDGenerator
}

func (s offlineStrategy) attempt(_ context.Context, req GatewayRequest) (attemptResult, error) {
	ref := strings.ToUpper(strings.ReplaceAll(s.ids.NewID(), "-", ""))
	if len(ref) > 16 {
		ref = ref[:16]
	}
	ref = "TXN_" + ref
	return attemptResult{
		Approved:  true,
		Reference: ref,
		Raw: map[string]any{
			"status":         "pending",
			"payment_method": string(s.method),
			"note":           s.note,
			"amount":         req.Amount.StringFixed(2),
		},
	}, nil
}

func newPaymentStrategies(gw Gateway, cv CardValidator, ids IDGenerator, policy retry.Policy) map[model.PaymentMethod]paymentStrategy {
	remote := &remoteStrategy{gateway: gw, policy: policy}
	card := cardStrategy{validator: cv, remote: remote}

	return map[model.PaymentMethod]paymentStrategy{
		model.PaymentMethodCreditCard: card,
		model.PaymentMethodDebitCard:  card,
		model.PaymentMethodPayPal:     remote,
		model.PaymentMethodStripe:     remote,
		model.PaymentMethodCashOnDelivery: offlineStrategy{
			method: model.PaymentMethodCashOnDelivery,
			note:   "Payment to be collected on delivery",
			ids:    ids,
		},
		model.PaymentMethodBankTransfer: offlineStrategy{
			method: model.PaymentMethodBankTransfer,
			note:   "Payment pending bank transfer confirmation",
			ids:    ids,
		},
	}
}
