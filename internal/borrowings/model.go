package borrowings

import (
	"time"

	"github.com/shopspring/decimal"

	"LIBRA-backend/internal/books"
	"LIBRA-backend/internal/payments"
)

// Borrowing は borrowings テーブルの1行。日付はすべて UTC の暦日。
type Borrowing struct {
	BorrowingID        uint64
	ULID               string
	BorrowDate         time.Time
	ExpectedReturnDate time.Time
	ActualReturnDate   *time.Time // nil = ACTIVE
	BookID             uint64
	UserID             uint64
}

func (b *Borrowing) IsActive() bool { return b.ActualReturnDate == nil }

type BookSummary struct {
	BookID   uint64          `json:"id"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Cover    books.Cover     `json:"cover"`
	DailyFee decimal.Decimal `json:"daily_fee"`
}

// Row is a borrowing with its book, borrower and payment (if any).
type Row struct {
	Borrowing
	Book      BookSummary
	UserEmail string
	Payment   *payments.Payment
}

type ListFilter struct {
	IsActive *bool
	UserID   *uint64
	Limit    int
	Offset   int
}

type BorrowInput struct {
	BookID             uint64
	ExpectedReturnDate time.Time
}

// ReturnResult carries the committed return and its payment. CheckoutURL is
// empty when the checkout session could not be created.
type ReturnResult struct {
	Borrowing   Borrowing
	Payment     *payments.Payment
	CheckoutURL string
}
