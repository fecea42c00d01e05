package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"commerce/internal/middleware"
	"commerce/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string            `json:"error"`
	Kind  usecase.ErrorKind `json:"kind,omitempty"`
}

// SuccessResponse は { message: string } の形
type SuccessResponse struct {
	Message string `json:"message"`
}

// 種別ごとのHTTPステータス
var kindStatus = map[usecase.ErrorKind]int{
	usecase.KindValidation:         http.StatusBadRequest,
	usecase.KindEmptyCart:          http.StatusBadRequest,
	usecase.KindCartInvalid:        http.StatusBadRequest,
	usecase.KindCartFull:           http.StatusBadRequest,
	usecase.KindPaymentFailed:      http.StatusPaymentRequired,
	usecase.KindNotFound:           http.StatusNotFound,
	usecase.KindState:              http.StatusConflict,
	usecase.KindStockConflict:      http.StatusConflict,
	usecase.KindCheckoutInProgress: http.StatusConflict,
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errUnauthorized) {
		return unauthorized(c)
	}
	if ae, ok := usecase.AsAppError(err); ok {
		if status, ok := kindStatus[ae.Kind]; ok {
			return c.JSON(status, ErrorResponse{Error: ae.Message, Kind: ae.Kind})
		}
	}

	c.Logger().Error(err)

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Kind: usecase.KindInternal})
}

//middleware.AuthJWT が c.Set("session_id", string) した値を取り出す

func sessionFromContext(c echo.Context) (string, bool) {
	return middleware.SessionID(c)
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Kind: usecase.KindValidation})
}

var (
	errUnauthorized = errors.New("unauthorized")
	errInvalidQuery = errors.New("invalid query")
)

// limit / offset（未指定なら def, 0）
func pageParams(c echo.Context, def int) (int, int, error) {
	limit := def
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errInvalidQuery
		}
		limit = l
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, errInvalidQuery
		}
		offset = o
	}
	return limit, offset, nil
}

// from / to（RFC3339）
func timeRange(c echo.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, errInvalidQuery
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, errInvalidQuery
		}
		to = &t
	}
	return from, to, nil
}
