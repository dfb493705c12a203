package borrowings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/payments"
	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/db"
)

const borrowingColumns = `borrowing_id, borrowing_ulid, borrow_date, expected_return_date, actual_return_date, book_id, user_id`

const rowSelect = `
	SELECT b.borrowing_id, b.borrowing_ulid, b.borrow_date, b.expected_return_date, b.actual_return_date, b.book_id, b.user_id,
	       bk.title, bk.author, bk.cover, bk.daily_fee, u.email
	FROM borrowings b
	JOIN books bk ON bk.book_id = b.book_id
	JOIN users u  ON u.user_id = b.user_id`

type rowScanner interface{ Scan(...any) error }

func scanBorrowing(row rowScanner, b *Borrowing) error {
	return row.Scan(&b.BorrowingID, &b.ULID, &b.BorrowDate, &b.ExpectedReturnDate, &b.ActualReturnDate, &b.BookID, &b.UserID)
}

func scanRow(row rowScanner, r *Row) error {
	err := row.Scan(&r.BorrowingID, &r.ULID, &r.BorrowDate, &r.ExpectedReturnDate, &r.ActualReturnDate, &r.BookID, &r.UserID,
		&r.Book.Title, &r.Book.Author, &r.Book.Cover, &r.Book.DailyFee, &r.UserEmail)
	r.Book.BookID = r.BookID
	return err
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// ---- Tx上で使うもの ----

func (s *Store) UserEmail(ctx context.Context, tx db.DBTX, userID uint64) (string, error) {
	var email string
	if err := tx.QueryRowContext(ctx, `SELECT email FROM users WHERE user_id = ?`, userID).Scan(&email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.ErrNotFound("user not found")
		}
		return "", err
	}
	return email, nil
}

func (s *Store) Insert(ctx context.Context, tx db.DBTX, b *Borrowing) error {
	const q = `
		INSERT INTO borrowings (borrowing_ulid, borrow_date, expected_return_date, book_id, user_id)
		VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.ULID, b.BorrowDate, b.ExpectedReturnDate, b.BookID, b.UserID)
	if err != nil {
		if db.IsDuplicate(err) {
			return apperr.ErrStorageConflict(err)
		}
		return fmt.Errorf("insert borrowing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert borrowing: %w", err)
	}
	b.BorrowingID = uint64(id)
	return nil
}

// LockByID reads the borrowing with a row lock held until the Tx ends.
func (s *Store) LockByID(ctx context.Context, tx db.DBTX, id uint64) (*Borrowing, error) {
	var b Borrowing
	err := scanBorrowing(tx.QueryRowContext(ctx,
		`SELECT `+borrowingColumns+` FROM borrowings WHERE borrowing_id = ? FOR UPDATE`, id), &b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound("borrowing not found")
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) DailyFee(ctx context.Context, tx db.DBTX, bookID uint64) (decimal.Decimal, error) {
	var fee decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT daily_fee FROM books WHERE book_id = ?`, bookID).Scan(&fee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, apperr.ErrNotFound("book not found")
		}
		return decimal.Zero, err
	}
	return fee, nil
}

// MarkReturned sets actual_return_date once. A second call fails with ALREADY_RETURNED.
func (s *Store) MarkReturned(ctx context.Context, tx db.DBTX, id uint64, on time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE borrowings SET actual_return_date = ? WHERE borrowing_id = ? AND actual_return_date IS NULL`, on, id)
	if err != nil {
		return fmt.Errorf("mark returned: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return apperr.ErrAlreadyReturned()
	}
	return nil
}

// ---- 参照系 ----

func (s *Store) GetRow(ctx context.Context, id uint64) (*Row, error) {
	var r Row
	if err := scanRow(s.db.QueryRowContext(ctx, rowSelect+` WHERE b.borrowing_id = ?`, id), &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound("borrowing not found")
		}
		return nil, err
	}
	if err := s.attachPayments(ctx, []*Row{&r}); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.IsActive != nil {
		if *f.IsActive {
			where = append(where, "b.actual_return_date IS NULL")
		} else {
			where = append(where, "b.actual_return_date IS NOT NULL")
		}
	}
	if f.UserID != nil {
		where = append(where, "b.user_id = ?")
		args = append(args, *f.UserID)
	}

	q := rowSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY b.borrowing_id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		if err := scanRow(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Row, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.attachPayments(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachPayments(ctx context.Context, rows []*Row) error {
	ids := make([]uint64, len(rows))
	for i, r := range rows {
		ids[i] = r.BorrowingID
	}
	byID, err := payments.ByBorrowing(ctx, s.db, ids)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if p, ok := byID[r.BorrowingID]; ok {
			r.Payment = &p
		}
	}
	return nil
}

// ListDue implements notify.DueLister: active borrowings due on or before through.
func (s *Store) ListDue(ctx context.Context, through time.Time) ([]notify.DueBorrowing, error) {
	const q = `
		SELECT u.email, bk.title, b.expected_return_date
		FROM borrowings b
		JOIN books bk ON bk.book_id = b.book_id
		JOIN users u  ON u.user_id = b.user_id
		WHERE b.actual_return_date IS NULL AND b.expected_return_date <= ?
		ORDER BY b.expected_return_date, b.borrowing_id`
	rows, err := s.db.QueryContext(ctx, q, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []notify.DueBorrowing{}
	for rows.Next() {
		var d notify.DueBorrowing
		if err := rows.Scan(&d.UserEmail, &d.BookTitle, &d.ExpectedReturnDate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
