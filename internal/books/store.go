package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/db"
)

const bookColumns = `book_id, title, author, cover, inventory, daily_fee`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func scanBook(row interface{ Scan(...any) error }, b *Book) error {
	return row.Scan(&b.BookID, &b.Title, &b.Author, &b.Cover, &b.Inventory, &b.DailyFee)
}

func (s *Store) GetByID(ctx context.Context, id uint64) (*Book, error) {
	return getBook(ctx, s.db, `SELECT `+bookColumns+` FROM books WHERE book_id = ?`, id)
}

func (s *Store) List(ctx context.Context) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		var b Book
		if err := scanBook(rows, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func getBook(ctx context.Context, q db.DBTX, query string, id uint64) (*Book, error) {
	var b Book
	if err := scanBook(q.QueryRowContext(ctx, query, id), &b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound("book not found")
		}
		return nil, err
	}
	return &b, nil
}

// ---- Inventory ledger ----
// 在庫数の更新はこの2関数のみ。呼び出し側のTx上で実行すること。

// DecrementOnBorrow locks the book row and takes one copy out of inventory.
// Fails with OUT_OF_STOCK when no copy is left.
func DecrementOnBorrow(ctx context.Context, tx db.DBTX, bookID uint64) (*Book, error) {
	b, err := getBook(ctx, tx, `SELECT `+bookColumns+` FROM books WHERE book_id = ? FOR UPDATE`, bookID)
	if err != nil {
		return nil, err
	}
	if b.Inventory == 0 {
		return nil, apperr.ErrOutOfStock()
	}

	// 行ロック済みだが、念のため条件付きUPDATEで負数を防ぐ
	res, err := tx.ExecContext(ctx,
		`UPDATE books SET inventory = inventory - 1 WHERE book_id = ? AND inventory > 0`, bookID)
	if err != nil {
		return nil, fmt.Errorf("decrement inventory: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return nil, apperr.ErrOutOfStock()
	}
	b.Inventory--
	return b, nil
}

// IncrementOnReturn puts a returned copy back. There is no upper bound.
func IncrementOnReturn(ctx context.Context, tx db.DBTX, bookID uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE books SET inventory = inventory + 1 WHERE book_id = ?`, bookID)
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return apperr.ErrNotFound("book not found")
	}
	return nil
}
