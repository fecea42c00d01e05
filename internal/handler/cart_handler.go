package handler

import (
	"io"
	"net/http"
	"strings"

	"commerce/internal/config"
	"commerce/internal/middleware"
	"commerce/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /cartのHTTP
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type AddCartRequest struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartCountResponse struct {
	ItemCount int `json:"item_count"`
}

type CartContainsResponse struct {
	InCart   bool `json:"in_cart"`
	Quantity int  `json:"quantity"`
}

// /cart, /cart/items/{id} を登録
func (h *CartHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/cart")
	g.Use(middleware.AuthJWT(cfg))

	g.GET("", h.getCart)
	g.DELETE("", h.clear)
	g.GET("/count", h.count)
	g.GET("/contains", h.contains)
	g.GET("/validate", h.validate)
	g.GET("/export", h.export)
	g.POST("/import", h.importCart)
	g.POST("/items", h.addItem)
	g.PATCH("/items/:id", h.patchItem)
	g.DELETE("/items/:id", h.deleteItem)
}

func (h *CartHandler) getCart(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.Summary(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) addItem(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req AddCartRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx := c.Request().Context()
	if _, err := h.uc.AddItem(ctx, sessionID, strings.TrimSpace(req.ProductID), req.Quantity, req.Options); err != nil {
		return writeError(c, err)
	}

	out, err := h.uc.Summary(ctx, sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) patchItem(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	var req UpdateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	//0以下なら削除
	out, err := h.uc.UpdateQuantity(c.Request().Context(), sessionID, c.Param("id"), req.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) deleteItem(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.RemoveItem(c.Request().Context(), sessionID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) clear(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	if err := h.uc.Clear(c.Request().Context(), sessionID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cleared"})
}

func (h *CartHandler) count(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	n, err := h.uc.ItemCount(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, CartCountResponse{ItemCount: n})
}

// ?product_id=...&opt.size=M のように opt. 付きでオプションを渡す
func (h *CartHandler) contains(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	productID := c.QueryParam("product_id")
	if productID == "" {
		return badRequest(c, "product_id is required")
	}
	var options map[string]string
	for k, v := range c.QueryParams() {
		if name, ok := strings.CutPrefix(k, "opt."); ok && len(v) > 0 {
			if options == nil {
				options = map[string]string{}
			}
			options[name] = v[0]
		}
	}

	q, err := h.uc.ItemQuantity(c.Request().Context(), sessionID, productID, options)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, CartContainsResponse{InCart: q > 0, Quantity: q})
}

func (h *CartHandler) validate(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.uc.Validate(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) export(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	b, err := h.uc.Export(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSONBlob(http.StatusOK, b)
}

func (h *CartHandler) importCart(c echo.Context) error {
	sessionID, ok := sessionFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return badRequest(c, "invalid body")
	}

	out, err := h.uc.Import(c.Request().Context(), sessionID, body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
