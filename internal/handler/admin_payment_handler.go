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

type AdminPaymentHandler struct {
	uc *usecase.PaymentUsecase
}

func NewAdminPaymentHandler(uc *usecase.PaymentUsecase) *AdminPaymentHandler {
	return &AdminPaymentHandler{uc: uc}
}

func (h *AdminPaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	admin := e.Group("/admin/payments")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("", h.list)
	admin.GET("/stats", h.stats)
	admin.GET("/:id", h.detail)
	admin.POST("/:id/refund", h.refund)
}

func (h *AdminPaymentHandler) filter(c echo.Context) (repository.PaymentListFilter, error) {
	limit, offset, err := pageParams(c, 50)
	if err != nil {
		return repository.PaymentListFilter{}, err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return repository.PaymentListFilter{}, err
	}
	return repository.PaymentListFilter{
		OrderID: c.QueryParam("order_id"),
		Status:  model.PaymentStatus(c.QueryParam("status")),
		Method:  model.PaymentMethod(c.QueryParam("method")),
		From:    from,
		To:      to,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

func (h *AdminPaymentHandler) list(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid query")
	}

	out, err := h.uc.List(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminPaymentHandler) stats(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return badRequest(c, "invalid query")
	}

	out, err := h.uc.Stats(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminPaymentHandler) detail(c echo.Context) error {
	out, err := h.uc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 注文側の返金にも反映される
func (h *AdminPaymentHandler) refund(c echo.Context) error {
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Refund(c.Request().Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
