package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"commerce/internal/retry"
	"commerce/internal/usecase"

	"github.com/sony/gobreaker/v2"
)

const DefaultCallTimeout = 10 * time.Second

// 開いている間はゲートウェイを呼ばずにこのエラーを返す
var ErrCircuitOpen = errors.New("payment gateway circuit open")

type BreakerOptions struct {
	Name string

	// 1回のオーソリの上限時間
	CallTimeout time.Duration

	// 連続でこの回数ネットワーク失敗したら開く
	ConsecutiveFailures uint32

	// 開いてから半開にするまで
	OpenTimeout time.Duration

	Logger *log.Logger
}

// BreakerGateway は Gateway をサーキットブレーカーで包む。
// 拒否（Approved=false）は成功として数える
type BreakerGateway struct {
	next    usecase.Gateway
	cb      *gobreaker.CircuitBreaker[usecase.GatewayResult]
	timeout time.Duration
}

func NewBreakerGateway(next usecase.Gateway, opts BreakerOptions) *BreakerGateway {
	if opts.Name == "" {
		opts.Name = "payment-gateway"
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	threshold := opts.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[usecase.GatewayResult](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Printf("circuit %s: %s -> %s", name, from, to)
		},
		// 呼び出し側のキャンセルは失敗に数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerGateway{next: next, cb: cb, timeout: opts.CallTimeout}
}

func (g *BreakerGateway) Authorize(ctx context.Context, req usecase.GatewayRequest) (usecase.GatewayResult, error) {
	res, err := g.cb.Execute(func() (usecase.GatewayResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.Authorize(callCtx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return usecase.GatewayResult{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return usecase.GatewayResult{}, fmt.Errorf("gateway call timed out after %s: %w", g.timeout, retry.ErrTransient)
	}
	return res, err
}

func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
