package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/db"
)

const paymentColumns = `payment_id, borrowing_id, status, type, money_to_pay, session_id, session_url`

const detailSelect = `
	SELECT p.payment_id, p.borrowing_id, p.status, p.type, p.money_to_pay, p.session_id, p.session_url,
	       b.user_id, u.email, bk.title
	FROM payments p
	JOIN borrowings b ON b.borrowing_id = p.borrowing_id
	JOIN users u      ON u.user_id = b.user_id
	JOIN books bk     ON bk.book_id = b.book_id`

type rowScanner interface{ Scan(...any) error }

func scanPayment(row rowScanner, p *Payment) error {
	return row.Scan(&p.PaymentID, &p.BorrowingID, &p.Status, &p.Type, &p.MoneyToPay, &p.SessionID, &p.SessionURL)
}

func scanDetail(row rowScanner, d *Detail) error {
	return row.Scan(&d.PaymentID, &d.BorrowingID, &d.Status, &d.Type, &d.MoneyToPay, &d.SessionID, &d.SessionURL,
		&d.UserID, &d.UserEmail, &d.BookTitle)
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) GetDetail(ctx context.Context, id uint64) (*Detail, error) {
	var d Detail
	if err := scanDetail(s.db.QueryRowContext(ctx, detailSelect+` WHERE p.payment_id = ?`, id), &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound("payment not found")
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]Detail, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		where = append(where, "b.user_id = ?")
		args = append(args, *f.UserID)
	}

	q := detailSelect
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY p.payment_id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Detail{}
	for rows.Next() {
		var d Detail
		if err := scanDetail(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetSession stores the checkout session of a still pending payment.
// Returns false when the payment is no longer PENDING.
func (s *Store) SetSession(ctx context.Context, id uint64, sessionID, sessionURL string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET session_id = ?, session_url = ? WHERE payment_id = ? AND status = 'PENDING'`,
		sessionID, sessionURL, id)
	if err != nil {
		return false, fmt.Errorf("set session: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff == 1, nil
}

// MarkPaid flips PENDING to PAID. Returns false when another request already did it.
func (s *Store) MarkPaid(ctx context.Context, id uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = 'PAID' WHERE payment_id = ? AND status = 'PENDING'`, id)
	if err != nil {
		return false, fmt.Errorf("mark paid: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff == 1, nil
}

// ---- Tx helpers (borrowings から呼ばれる) ----

// GetOrCreateTx returns the payment of a borrowing, creating a PENDING one with
// the given type and amount if none exists. The row stays locked until the Tx ends.
func GetOrCreateTx(ctx context.Context, tx db.DBTX, borrowingID uint64, typ Type, amount decimal.Decimal) (*Payment, bool, error) {
	// 既存行があれば何も変えない（UNIQUE(borrowing_id)）
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (borrowing_id, status, type, money_to_pay) VALUES (?, 'PENDING', ?, ?)
		 ON DUPLICATE KEY UPDATE payment_id = payment_id`,
		borrowingID, typ, amount)
	if err != nil {
		return nil, false, fmt.Errorf("insert payment: %w", err)
	}
	aff, _ := res.RowsAffected()

	var p Payment
	err = scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE borrowing_id = ? FOR UPDATE`, borrowingID), &p)
	if err != nil {
		return nil, false, fmt.Errorf("select payment: %w", err)
	}
	return &p, aff == 1, nil
}

// HasPendingForUser reports whether the user owes any unsettled payment.
func HasPendingForUser(ctx context.Context, tx db.DBTX, userID uint64) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments p
			JOIN borrowings b ON b.borrowing_id = p.borrowing_id
			WHERE b.user_id = ? AND p.status = 'PENDING'
		)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending payments: %w", err)
	}
	return exists, nil
}

// ByBorrowing loads the payments of the given borrowings, keyed by borrowing id.
func ByBorrowing(ctx context.Context, q db.DBTX, borrowingIDs []uint64) (map[uint64]Payment, error) {
	out := make(map[uint64]Payment, len(borrowingIDs))
	if len(borrowingIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(borrowingIDs))
	for i, id := range borrowingIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(borrowingIDs)), ",")

	rows, err := q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE borrowing_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, err
		}
		out[p.BorrowingID] = p
	}
	return out, rows.Err()
}
