package handler

import (
	"net/http"

	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/middleware"
	"commerce/internal/repository"
	"commerce/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 購入者向けの注文・決済参照
type OrderHandler struct {
	orders   *usecase.OrderUsecase
	payments *usecase.PaymentUsecase
}

func NewOrderHandler(orders *usecase.OrderUsecase, payments *usecase.PaymentUsecase) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments}
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))

	g.GET("", h.list)
	g.GET("/:id", h.detail)
	g.GET("/:id/payments", h.listPayments)
}

func (h *OrderHandler) list(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	limit, offset, err := pageParams(c, 50)
	if err != nil {
		return badRequest(c, "invalid limit/offset")
	}

	out, err := h.orders.List(c.Request().Context(), repository.OrderListFilter{
		Status:    model.OrderStatus(c.QueryParam("status")),
		SessionID: sessionID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	o, err := h.ownOrder(c)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *OrderHandler) listPayments(c echo.Context) error {
	o, err := h.ownOrder(c)
	if err != nil {
		return writeError(c, err)
	}

	out, err := h.payments.ListByOrder(c.Request().Context(), o.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 他人の注文は存在しないものとして扱う
func (h *OrderHandler) ownOrder(c echo.Context) (model.Order, error) {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return model.Order{}, errUnauthorized
	}

	o, err := h.orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return model.Order{}, err
	}
	if o.SessionID != sessionID {
		return model.Order{}, usecase.NewAppError(usecase.KindNotFound, "order not found")
	}
	return o, nil
}
