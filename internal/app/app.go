package app

import (
	"context"
	"log"
	"os"

	"commerce/internal/cache"
	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/handler"
	"commerce/internal/infra/events"
	"commerce/internal/infra/gateway"
	"commerce/internal/infra/ids"
	"commerce/internal/server"
	"commerce/internal/usecase"
	"commerce/internal/validator"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// nil なら模擬ゲートウェイをサーキットブレーカーで包んで使う
	Gateway usecase.Gateway
	Clock   usecase.Clock
	IDs     usecase.IDGenerator
	Logger  *log.Logger
}

// App はユースケース・ハンドラ・サーバーの組み立て結果
type App struct {
	Config config.Config
	Stores *Stores

	Carts     *usecase.CartUsecase
	Orders    *usecase.OrderUsecase
	Payments  *usecase.PaymentUsecase
	Checkout  *usecase.CheckoutUsecase
	Products  *usecase.ProductUsecase
	Reconcile *usecase.ReconcileUsecase

	Server *server.Server

	clock  usecase.Clock
	logger *log.Logger
	closes []func()
}

func New(cfg config.Config, stores *Stores, opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[commerce] ", log.LstdFlags|log.Lshortfile)
	}
	if opts.Clock == nil {
		opts.Clock = usecase.SystemClock()
	}
	if opts.IDs == nil {
		opts.IDs = ids.UUID{}
	}
	if opts.Gateway == nil {
		opts.Gateway = gateway.NewBreakerGateway(
			gateway.NewSimulatedGateway(gateway.SimulatedOptions{Latency: cfg.GatewayLatency}),
			gateway.BreakerOptions{Name: "payment-gateway", CallTimeout: cfg.GatewayTimeout, Logger: opts.Logger},
		)
	}

	a := &App{Config: cfg, Stores: stores, clock: opts.Clock, logger: opts.Logger}

	cacheOpts := cache.Options{
		MaxEntries:    cfg.CacheMaxEntries,
		DefaultTTL:    cfg.CacheDefaultTTL,
		SweepInterval: cfg.CacheSweepInterval,
		Now:           opts.Clock.Now,
	}
	orderCache := cache.New[model.Order](cacheOpts)
	listCache := cache.New[[]model.Order](cacheOpts)
	paymentCache := cache.New[model.Payment](cacheOpts)
	a.closes = append(a.closes, orderCache.Close, listCache.Close, paymentCache.Close)

	sink := events.NewOutboxSink(stores.Events, opts.IDs, opts.Clock, opts.Logger)
	policy := cfg.RetryPolicy()

	a.Carts = usecase.NewCartUsecase(stores.Carts, stores.Products, opts.IDs, opts.Clock, policy, cfg.CartMaxLines)
	a.Orders = usecase.NewOrderUsecase(usecase.OrderDeps{
		Orders:            stores.Orders,
		Cache:             orderCache,
		ListCache:         listCache,
		Events:            sink,
		IDs:               opts.IDs,
		Clock:             opts.Clock,
		Retry:             policy,
		CacheTTL:          cfg.OrderCacheTTL,
		EstimatedDelivery: cfg.EstimatedDelivery,
	})
	a.Payments = usecase.NewPaymentUsecase(usecase.PaymentDeps{
		Payments:      stores.Payments,
		Cache:         paymentCache,
		Gateway:       opts.Gateway,
		CardValidator: validator.NewCardValidator(opts.Clock),
		Orders:        a.Orders,
		Events:        sink,
		IDs:           opts.IDs,
		Clock:         opts.Clock,
		Retry:         policy,
		Logger:        opts.Logger,
		CacheTTL:      cfg.PaymentCacheTTL,
	})
	a.Checkout = usecase.NewCheckoutUsecase(a.Carts, a.Orders, a.Payments, validator.NewCheckoutValidator(), cfg.Pricing(), sink, opts.Logger)
	a.Products = usecase.NewProductUsecase(stores.Products, opts.Clock, policy)
	a.Reconcile = usecase.NewReconcileUsecase(a.Orders, a.Payments, sink, opts.Clock, opts.Logger, cfg.ReconcilePendingAge)

	cartH := handler.NewCartHandler(a.Carts)
	checkoutH := handler.NewCheckoutHandler(a.Checkout)
	orderH := handler.NewOrderHandler(a.Orders, a.Payments)
	productH := handler.NewProductHandler(a.Products)
	adminOrderH := handler.NewAdminOrderHandler(a.Orders, a.Reconcile)
	adminPaymentH := handler.NewAdminPaymentHandler(a.Payments)
	adminProductH := handler.NewAdminProductHandler(a.Products)

	a.Server = server.New(cfg, opts.Logger,
		func(e *echo.Echo, _ config.Config) { productH.RegisterRoutes(e) },
		cartH.RegisterRoutes,
		checkoutH.RegisterRoutes,
		orderH.RegisterRoutes,
		adminOrderH.RegisterRoutes,
		adminPaymentH.RegisterRoutes,
		adminProductH.RegisterRoutes,
	)
	return a
}

// Run は HTTP サーバー・アウトボックスの送信・照合ループを動かす。
// どれかがエラーで止まると残りも止める
func (a *App) Run(ctx context.Context, publisher events.Publisher) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Server.Run(ctx) })

	if publisher != nil {
		relay := events.NewRelay(a.Stores.Events, publisher, a.clock, a.logger)
		g.Go(func() error {
			relay.Run(ctx, events.DefaultRelayInterval)
			return nil
		})
	}

	if a.Config.ReconcileInterval > 0 {
		g.Go(func() error {
			a.Reconcile.Run(ctx, a.Config.ReconcileInterval)
			return nil
		})
	}

	return g.Wait()
}

// Close はキャッシュの掃除ループと保存先を閉じる
func (a *App) Close() error {
	for _, c := range a.closes {
		c()
	}
	return a.Stores.Close()
}
