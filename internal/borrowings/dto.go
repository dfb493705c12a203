package borrowings

import (
	"time"

	"LIBRA-backend/internal/payments"
	"LIBRA-backend/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

type CreateBorrowingRequest struct {
	BookID             uint64 `json:"book_id" binding:"required"`
	ExpectedReturnDate string `json:"expected_return_date" binding:"required"`
}

type BorrowingResponse struct {
	ID                 uint64            `json:"id"`
	ULID               string            `json:"ulid"`
	BorrowDate         string            `json:"borrow_date"`
	ExpectedReturnDate string            `json:"expected_return_date"`
	ActualReturnDate   *string           `json:"actual_return_date"`
	IsActive           bool              `json:"is_active"`
	BookID             uint64            `json:"book_id"`
	UserID             uint64            `json:"user_id"`
	Book               *BookSummary      `json:"book,omitempty"`
	UserEmail          string            `json:"user_email,omitempty"`
	Payment            *payments.Payment `json:"payment,omitempty"`
}

type ReturnResponse struct {
	Borrowing   BorrowingResponse `json:"borrowing"`
	Payment     *payments.Payment `json:"payment"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
}

// returnErrorDTO keeps the payment in the body when the return committed but
// checkout failed, so the client can retry via /payments/:id/checkout.
type returnErrorDTO struct {
	apperr.ErrorDTO
	Payment *payments.Payment `json:"payment,omitempty"`
}

func toResponse(b Borrowing) BorrowingResponse {
	res := BorrowingResponse{
		ID:                 b.BorrowingID,
		ULID:               b.ULID,
		BorrowDate:         b.BorrowDate.Format(dateLayout),
		ExpectedReturnDate: b.ExpectedReturnDate.Format(dateLayout),
		IsActive:           b.IsActive(),
		BookID:             b.BookID,
		UserID:             b.UserID,
	}
	if b.ActualReturnDate != nil {
		s := b.ActualReturnDate.Format(dateLayout)
		res.ActualReturnDate = &s
	}
	return res
}

func toRowResponse(r Row) BorrowingResponse {
	res := toResponse(r.Borrowing)
	book := r.Book
	res.Book = &book
	res.UserEmail = r.UserEmail
	res.Payment = r.Payment
	return res
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
