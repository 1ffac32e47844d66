package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes a rounded percentage of the subtotal.
	DiscountPercent DiscountType = "PERCENT"
	// DiscountFlat takes a fixed amount capped at the subtotal.
	DiscountFlat DiscountType = "FLAT"
)

// Rejection reasons, checked in this order.
var (
	ErrNotFound  = errors.New("coupon not found")
	ErrInactive  = errors.New("coupon inactive")
	ErrExpired   = errors.New("coupon expired")
	ErrExhausted = errors.New("coupon usage limit reached")
	// ErrMinimumOrderNotMet matches any *MinimumOrderError.
	ErrMinimumOrderNotMet = errors.New("minimum order value not met")
)

// MinimumOrderError reports the minimum subtotal a coupon requires.
type MinimumOrderError struct {
	Code    string
	Minimum decimal.Decimal
}

func (e *MinimumOrderError) Error() string {
	return fmt.Sprintf("coupon %s requires a minimum order value of %s", e.Code, e.Minimum.String())
}

// Is makes errors.Is(err, ErrMinimumOrderNotMet) hold.
func (e *MinimumOrderError) Is(target error) bool {
	return target == ErrMinimumOrderNotMet
}

// Coupon is a stored coupon definition.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	// MaxUses is nil for unlimited coupons.
	MaxUses   *int
	UsedCount int
	ExpiresAt *time.Time
	Active    bool
}

// Discount is the outcome of a successful validation.
type Discount struct {
	Code   string
	Amount decimal.Decimal
}

// Repository provides coupon lookups.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon has the normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Redeemer records that a settled order used a coupon. Redeem reports
// whether this call counted the usage; repeated calls for the same order
// are no-ops.
type Redeemer interface {
	Redeem(ctx context.Context, code, orderID string) (bool, error)
}

// NormalizeCode trims and upper-cases a customer supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
