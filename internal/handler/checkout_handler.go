package handler

import (
	"net/http"

	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/middleware"
	"commerce/internal/usecase"

	"github.com/labstack/echo/v4"
)

type CheckoutHandler struct {
	uc *usecase.CheckoutUsecase
}

func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc}
}

type CheckoutPaymentRequest struct {
	Method  model.PaymentMethod `json:"method"`
	Card    *model.CardDetails  `json:"card"`
	Details map[string]string   `json:"details"`
}

type CheckoutRequest struct {
	Customer        model.Customer         `json:"customer"`
	ShippingAddress model.Address          `json:"shipping_address"`
	BillingAddress  model.Address          `json:"billing_address"`
	Payment         CheckoutPaymentRequest `json:"payment"`
}

// 決済失敗でも注文は残るので、結果も一緒に返す
type CheckoutFailedResponse struct {
	ErrorResponse
	Order   model.Order   `json:"order"`
	Payment model.Payment `json:"payment"`
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/checkout")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.checkout)
}

func (h *CheckoutHandler) checkout(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Run(c.Request().Context(), sessionID, usecase.CheckoutInput{
		Customer:        req.Customer,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Payment: usecase.CheckoutPayment{
			Method:  req.Payment.Method,
			Card:    req.Payment.Card,
			Details: req.Payment.Details,
		},
	})
	if err != nil {
		if ae, ok := usecase.AsAppError(err); ok && ae.Kind == usecase.KindPaymentFailed && out.Order.ID != "" {
			return c.JSON(http.StatusPaymentRequired, CheckoutFailedResponse{
				ErrorResponse: ErrorResponse{Error: ae.Message, Kind: ae.Kind},
				Order:         out.Order,
				Payment:       out.Payment,
			})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}
