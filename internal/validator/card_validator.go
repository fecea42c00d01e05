package validator

import (
	"errors"
	"strings"
	"time"

	"commerce/internal/domain/model"
	"commerce/internal/usecase"
)

var (
	// カード番号が不正（桁数・Luhn）
	ErrInvalidCardNumber = errors.New("invalid card number")

	// 有効期限切れ・月が不正
	ErrCardExpired = errors.New("card expired")

	// CVV の桁数がブランドと合わない
	ErrInvalidCVV = errors.New("invalid cvv")

	// 名義が短すぎる
	ErrInvalidCardholder = errors.New("invalid cardholder name")
)

type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandDiscover   Brand = "discover"
	BrandUnknown    Brand = "unknown"
)

// ASCII の 0-9 以外（空白・ハイフン・全角数字など）を取り除く
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Luhn チェックサム。13〜19桁のみ有効
func Luhn(number string) bool {
	digits := Digits(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// 先頭の数字でブランド判定
func DetectBrand(number string) Brand {
	digits := Digits(number)
	if digits == "" {
		return BrandUnknown
	}
	switch digits[0] {
	case '4':
		return BrandVisa
	case '5', '2':
		return BrandMastercard
	case '3':
		return BrandAmex
	case '6':
		return BrandDiscover
	}
	return BrandUnknown
}

// 年が未来、または今年で月が今月以降
func ValidExpiry(month int, year int, now time.Time) bool {
	if month < 1 || month > 12 {
		return false
	}
	if year < 100 {
		year += 2000
	}
	curYear, curMonth := now.Year(), int(now.Month())
	if year > curYear {
		return true
	}
	return year == curYear && month >= curMonth
}

// amex は4桁、それ以外は3桁
func ValidCVV(cvv string, brand Brand) bool {
	want := 3
	if brand == BrandAmex {
		want = 4
	}
	if len(cvv) != want {
		return false
	}
	return Digits(cvv) == cvv
}

func ValidateCard(card model.CardDetails, now time.Time) error {
	if !Luhn(card.Number) {
		return ErrInvalidCardNumber
	}
	if !ValidExpiry(card.ExpiryMonth, card.ExpiryYear, now) {
		return ErrCardExpired
	}
	if !ValidCVV(strings.TrimSpace(card.CVV), DetectBrand(card.Number)) {
		return ErrInvalidCVV
	}
	if len(strings.TrimSpace(card.CardholderName)) < 2 {
		return ErrInvalidCardholder
	}
	return nil
}

type cardValidator struct {
	clock usecase.Clock
}

// Usecaseは interface を依存注入
func NewCardValidator(clock usecase.Clock) usecase.CardValidator {
	return &cardValidator{clock: clock}
}

func (v *cardValidator) ValidateCard(card model.CardDetails) error {
	return ValidateCard(card, v.clock.Now())
}

// 下4桁とブランドだけを返す（ゲートウェイ応答に残す用）
func MaskCard(number string) (last4 string, brand Brand) {
	digits := Digits(number)
	if len(digits) >= 4 {
		last4 = digits[len(digits)-4:]
	}
	return last4, DetectBrand(digits)
}
