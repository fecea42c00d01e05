// Package gateway はカード・ウォレット決済のゲートウェイ実装。
package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"commerce/internal/domain/model"
	"commerce/internal/retry"
	"commerce/internal/usecase"
	"commerce/internal/validator"
)

// 方式ごとの承認率（デモ用）
var defaultApprovalRates = map[model.PaymentMethod]float64{
	model.PaymentMethodCreditCard: 0.90,
	model.PaymentMethodDebitCard:  0.90,
	model.PaymentMethodPayPal:     0.95,
	model.PaymentMethodStripe:     0.92,
}

// 承認するかを決める。テストで結果を固定するのに使う
type Approver func(req usecase.GatewayRequest) bool

type SimulatedOptions struct {
	// 1回のオーソリにかかる時間
	Latency time.Duration

	// nil なら方式ごとの承認率で乱数判定
	Approver Approver

	// 0〜1。この確率で接続エラーを返す
	NetworkFailureRate float64

	// nil なら時刻から作る
	Rand *rand.Rand
}

// SimulatedGateway は外部ゲートウェイの代わりに承認・拒否を返す。
// 同じ PaymentID の再送には最初の結果を返す
type SimulatedGateway struct {
	opts SimulatedOptions

	mu      sync.Mutex
	rnd     *rand.Rand
	results map[string]usecase.GatewayResult
}

func NewSimulatedGateway(opts SimulatedOptions) *SimulatedGateway {
	rnd := opts.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &SimulatedGateway{
		opts:    opts,
		rnd:     rnd,
		results: map[string]usecase.GatewayResult{},
	}
}

func (g *SimulatedGateway) Authorize(ctx context.Context, req usecase.GatewayRequest) (usecase.GatewayResult, error) {
	if g.opts.Latency > 0 {
		t := time.NewTimer(g.opts.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return usecase.GatewayResult{}, ctx.Err()
		case <-t.C:
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.results[req.PaymentID]; ok {
		return res, nil
	}

	if g.opts.NetworkFailureRate > 0 && g.rnd.Float64() < g.opts.NetworkFailureRate {
		return usecase.GatewayResult{}, fmt.Errorf("simulated gateway: connection reset: %w", retry.ErrTransient)
	}

	rate, ok := defaultApprovalRates[req.Method]
	if !ok {
		return usecase.GatewayResult{}, fmt.Errorf("simulated gateway: unsupported method %q", req.Method)
	}

	var approved bool
	if g.opts.Approver != nil {
		approved = g.opts.Approver(req)
	} else {
		approved = g.rnd.Float64() < rate
	}

	var res usecase.GatewayResult
	if approved {
		res = g.approve(req)
	} else {
		res = decline(req)
	}
	if req.PaymentID != "" {
		g.results[req.PaymentID] = res
	}
	return res, nil
}

// g.mu を持った状態で呼ぶ
func (g *SimulatedGateway) approve(req usecase.GatewayRequest) usecase.GatewayResult {
	ref := "txn_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + g.token(9, false)
	raw := map[string]any{"amount": req.Amount.StringFixed(2), "currency": req.Currency}

	switch req.Method {
	case model.PaymentMethodPayPal:
		raw["status"] = "approved"
		raw["paypalTransactionId"] = "PP_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + g.token(6, true)
		raw["payerId"] = "PAYER_" + g.token(10, true)
	case model.PaymentMethodStripe:
		raw["status"] = "succeeded"
		raw["stripeChargeId"] = "ch_" + g.token(24, false)
		raw["balanceTransaction"] = "txn_" + g.token(24, false)
	default:
		raw["status"] = "approved"
		raw["authorizationCode"] = g.token(8, true)
		raw["processorResponse"] = "00"
		if req.Card != nil {
			last4, brand := validator.MaskCard(req.Card.Number)
			raw["card_last4"] = last4
			raw["card_brand"] = string(brand)
		}
	}

	return usecase.GatewayResult{Approved: true, Reference: ref, Raw: raw}
}

func decline(req usecase.GatewayRequest) usecase.GatewayResult {
	reason := "Card declined by issuer"
	switch req.Method {
	case model.PaymentMethodPayPal:
		reason = "PayPal payment failed"
	case model.PaymentMethodStripe:
		reason = "Stripe payment failed"
	}
	return usecase.GatewayResult{
		DeclineReason: reason,
		Raw:           map[string]any{"status": "declined", "reason": reason},
	}
}

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (g *SimulatedGateway) token(n int, upper bool) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(tokenAlphabet[g.rnd.IntN(len(tokenAlphabet))])
	}
	if upper {
		return strings.ToUpper(b.String())
	}
	return b.String()
}
