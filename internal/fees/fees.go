// Package fees computes rental charges and overdue fines.
//
// All functions work on calendar dates: the time of day is discarded and
// day differences are whole days. Amounts are exact decimals rounded to
// two places.
package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"LIBRA-backend/internal/platform/clock"
)

var ErrNotOverdue = errors.New("fees: fine requires a positive number of overdue days")

var hundred = decimal.NewFromInt(100)

// Days returns the whole-day difference to − from.
func Days(from, to time.Time) int {
	return int(clock.DateOf(to).Sub(clock.DateOf(from)).Hours() / 24)
}

func BorrowDays(borrow, expected time.Time) int { return Days(borrow, expected) }

func OverdueDays(expected, actual time.Time) int { return Days(expected, actual) }

// IsOverdue reports whether the expected date lies before asOf (the actual return date, or today).
func IsOverdue(expected, asOf time.Time) bool {
	return clock.DateOf(expected).Before(clock.DateOf(asOf))
}

// StandardCharge is the running charge: the borrow day itself counts.
func StandardCharge(borrow, asOf time.Time, dailyFee decimal.Decimal) decimal.Decimal {
	days := Days(borrow, asOf) + 1
	return decimal.NewFromInt(int64(days)).Mul(dailyFee).Round(2)
}

// FineAmount covers the overdue period plus the agreed borrow period.
// (overdueDays + borrowDays + 1) × dailyFee × coefficient
func FineAmount(borrow, expected, actual time.Time, dailyFee, coefficient decimal.Decimal) (decimal.Decimal, error) {
	overdue := OverdueDays(expected, actual)
	if overdue <= 0 {
		return decimal.Zero, ErrNotOverdue
	}
	days := int64(overdue + BorrowDays(borrow, expected) + 1)
	return decimal.NewFromInt(days).Mul(dailyFee).Mul(coefficient).Round(2), nil
}

// MinorUnits converts an amount to the provider's smallest currency unit (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

type Quote struct {
	Fine   bool
	Amount decimal.Decimal
}

type Calculator struct {
	coefficient decimal.Decimal
}

func NewCalculator(fineCoefficient decimal.Decimal) (*Calculator, error) {
	if !fineCoefficient.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fees: fine coefficient must be > 1, got %s", fineCoefficient)
	}
	return &Calculator{coefficient: fineCoefficient}, nil
}

// Charge decides what a borrowing owes when returned on returnDate:
// a fine when the expected date has passed, otherwise the standard charge.
func (c *Calculator) Charge(borrow, expected, returnDate time.Time, dailyFee decimal.Decimal) Quote {
	if IsOverdue(expected, returnDate) {
		amount, err := FineAmount(borrow, expected, returnDate, dailyFee, c.coefficient)
		if err == nil {
			return Quote{Fine: true, Amount: amount}
		}
	}
	return Quote{Amount: StandardCharge(borrow, returnDate, dailyFee)}
}
