package payments

import "github.com/shopspring/decimal"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
)

type Type string

const (
	TypePayment Type = "PAYMENT"
	TypeFine    Type = "FINE"
)

type Payment struct {
	PaymentID   uint64          `json:"payment_id"`
	BorrowingID uint64          `json:"borrowing_id"`
	Status      Status          `json:"status"`
	Type        Type            `json:"type"`
	MoneyToPay  decimal.Decimal `json:"money_to_pay"`
	SessionID   *string         `json:"session_id,omitempty"`
	SessionURL  *string         `json:"session_url,omitempty"`
}

// Detail is a payment joined with the borrower and the book it charges for.
type Detail struct {
	Payment
	UserID    uint64 `json:"user_id"`
	UserEmail string `json:"user_email"`
	BookTitle string `json:"book_title"`
}

type ListFilter struct {
	UserID *uint64
	Limit  int
	Offset int
}

// ConfirmOutcome is the result of a success-redirect confirmation.
type ConfirmOutcome int

const (
	Confirmed ConfirmOutcome = iota
	AlreadyPaid
	NotCompleted
)

func (o ConfirmOutcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case AlreadyPaid:
		return "already_paid"
	default:
		return "not_completed"
	}
}

type Cancellation struct {
	PaymentID  uint64  `json:"payment_id"`
	SessionURL *string `json:"session_url,omitempty"`
	Detail     string  `json:"detail"`
}
