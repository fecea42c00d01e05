package handler

import (
	"net/http"

	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/middleware"
	"commerce/internal/repository"
	"commerce/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type AdminOrderHandler struct {
	orders    *usecase.OrderUsecase
	reconcile *usecase.ReconcileUsecase
}

func NewAdminOrderHandler(orders *usecase.OrderUsecase, reconcile *usecase.ReconcileUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{orders: orders, reconcile: reconcile}
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// amount を省略すると残額を全額返金
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

type TrackingRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("/orders", h.list)
	admin.GET("/orders/stats", h.stats)
	admin.GET("/orders/:id", h.detail)
	admin.PUT("/orders/:id/status", h.updateStatus)
	admin.POST("/orders/:id/refund", h.refund)
	admin.POST("/orders/:id/tracking", h.tracking)
	admin.POST("/reconcile", h.runReconcile)
}

func (h *AdminOrderHandler) filter(c echo.Context) (repository.OrderListFilter, error) {
	limit, offset, err := pageParams(c, 50)
	if err != nil {
		return repository.OrderListFilter{}, err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return repository.OrderListFilter{}, err
	}
	return repository.OrderListFilter{
		Status:        model.OrderStatus(c.QueryParam("status")),
		PaymentStatus: model.OrderPaymentStatus(c.QueryParam("payment_status")),
		SessionID:     c.QueryParam("session_id"),
		From:          from,
		To:            to,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid query")
	}

	out, err := h.orders.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) stats(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid query")
	}

	out, err := h.orders.Stats(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) detail(c echo.Context) error {
	out, err := h.orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.orders.Transition(c.Request().Context(), c.Param("id"), model.OrderStatus(req.Status), req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) refund(c echo.Context) error {
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.orders.Refund(c.Request().Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) tracking(c echo.Context) error {
	var req TrackingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.orders.AddTracking(c.Request().Context(), c.Param("id"), req.TrackingNumber, req.Carrier)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) runReconcile(c echo.Context) error {
	out, err := h.reconcile.SweepStalePending(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
