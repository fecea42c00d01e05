package usecase

import (
	"errors"
	"fmt"
)

// 呼び出し側が分岐に使うエラー種別
type ErrorKind string

const (
	KindValidation         ErrorKind = "VALIDATION"
	KindStockConflict      ErrorKind = "STOCK_CONFLICT"
	KindPaymentFailed      ErrorKind = "PAYMENT_FAILED"
	KindState              ErrorKind = "STATE"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindEmptyCart          ErrorKind = "EMPTY_CART"
	KindCartInvalid        ErrorKind = "CART_INVALID"
	KindCartFull           ErrorKind = "CART_FULL"
	KindCheckoutInProgress ErrorKind = "CHECKOUT_IN_PROGRESS"
	KindInternal           ErrorKind = "INTERNAL"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(kind ErrorKind, message string) error {
	return &AppError{
		Kind:    kind,
		Message: message,
	}
}

func wrapError(kind ErrorKind, message string, err error) error {
	return &AppError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

// AppError 以外は INTERNAL
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ae, ok := AsAppError(err); ok {
		return ae.Kind
	}
	return KindInternal
}
