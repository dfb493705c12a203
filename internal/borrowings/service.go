package borrowings

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"LIBRA-backend/internal/books"
	"LIBRA-backend/internal/fees"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/payments"
	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/auth"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/db"
	"LIBRA-backend/internal/platform/middleware"
)

// CatalogCache is invalidated after inventory changes.
type CatalogCache interface {
	Invalidate(ctx context.Context, bookID uint64)
}

type Checkout interface {
	CreateCheckoutSession(ctx context.Context, paymentID uint64) (*payments.Detail, error)
}

type Deps struct {
	Calculator *fees.Calculator
	Catalog    CatalogCache
	Checkout   Checkout
	Notifier   notify.Notifier
	Clock      clock.Clock
	IDs        clock.IDGen
}

type Service struct {
	db       *sql.DB
	store    *Store
	calc     *fees.Calculator
	catalog  CatalogCache
	checkout Checkout
	notifier notify.Notifier
	clock    clock.Clock
	ids      clock.IDGen
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewService(db *sql.DB, d Deps, logger *zap.Logger) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.IDs == nil {
		d.IDs = clock.ULIDGen{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	return &Service{
		db:       db,
		store:    NewStore(db),
		calc:     d.Calculator,
		catalog:  d.Catalog,
		checkout: d.Checkout,
		notifier: d.Notifier,
		clock:    d.Clock,
		ids:      d.IDs,
		logger:   logger,
		tracer:   otel.Tracer("LIBRA-backend/internal/borrowings"),
	}
}

// Store exposes the store for the overdue sweep.
func (s *Service) Store() *Store { return s.store }

// Borrow takes one copy of the book for the viewer until in.ExpectedReturnDate.
func (s *Service) Borrow(ctx context.Context, in BorrowInput, viewer auth.Viewer) (*Row, error) {
	ctx, span := s.tracer.Start(ctx, "borrowings.Borrow",
		trace.WithAttributes(attribute.Int64("book.id", int64(in.BookID))))
	defer span.End()

	today := clock.Today(s.clock)
	expected := clock.DateOf(in.ExpectedReturnDate)
	if expected.Before(today) {
		middleware.RecordBorrow(string(apperr.CodeInvalidDate))
		return nil, apperr.ErrInvalidDate("expected return date must not be earlier than today")
	}

	var row Row
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		email, err := s.store.UserEmail(ctx, tx, viewer.UserID)
		if err != nil {
			return err
		}

		pending, err := payments.HasPendingForUser(ctx, tx, viewer.UserID)
		if err != nil {
			return err
		}
		if pending {
			return apperr.ErrPaymentPending()
		}

		book, err := books.DecrementOnBorrow(ctx, tx, in.BookID)
		if err != nil {
			return err
		}

		b := Borrowing{
			ULID:               s.ids.NewULID(s.clock.Now()),
			BorrowDate:         today,
			ExpectedReturnDate: expected,
			BookID:             book.BookID,
			UserID:             viewer.UserID,
		}
		if err := s.store.Insert(ctx, tx, &b); err != nil {
			return err
		}

		row = Row{
			Borrowing: b,
			Book: BookSummary{
				BookID: book.BookID, Title: book.Title, Author: book.Author,
				Cover: book.Cover, DailyFee: book.DailyFee,
			},
			UserEmail: email,
		}
		return nil
	})
	if err != nil {
		middleware.RecordBorrow(string(apperr.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		return nil, err
	}

	s.invalidate(ctx, in.BookID)
	middleware.RecordBorrow("ok")
	s.logger.Info("Book borrowed",
		zap.Uint64("borrowing_id", row.BorrowingID),
		zap.String("ulid", row.ULID),
		zap.Uint64("book_id", row.BookID),
		zap.Uint64("user_id", row.UserID),
	)
	s.notifier.Send(ctx, notify.BorrowedMessage(row.UserEmail, row.Book.Title, row.BorrowDate, row.ExpectedReturnDate))
	return &row, nil
}

// Return closes an active borrowing and opens a checkout session for what it owes.
//
// The return, the inventory increment and the payment are committed together
// before the provider is called. When the provider fails the result is still
// returned alongside the error so the caller can retry the checkout.
func (s *Service) Return(ctx context.Context, id uint64, viewer auth.Viewer) (*ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "borrowings.Return",
		trace.WithAttributes(attribute.Int64("borrowing.id", int64(id))))
	defer span.End()

	today := clock.Today(s.clock)

	var (
		b     *Borrowing
		pay   *payments.Payment
		quote fees.Quote
	)
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var err error
		b, err = s.store.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !viewer.CanSee(b.UserID) {
			return apperr.ErrNotFound("borrowing not found")
		}
		if !b.IsActive() {
			return apperr.ErrAlreadyReturned()
		}

		fee, err := s.store.DailyFee(ctx, tx, b.BookID)
		if err != nil {
			return err
		}
		quote = s.calc.Charge(b.BorrowDate, b.ExpectedReturnDate, today, fee)

		if err := s.store.MarkReturned(ctx, tx, id, today); err != nil {
			return err
		}
		if err := books.IncrementOnReturn(ctx, tx, b.BookID); err != nil {
			return err
		}

		pay, _, err = payments.GetOrCreateTx(ctx, tx, id, chargeType(quote), quote.Amount)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		return nil, err
	}

	b.ActualReturnDate = &today
	s.invalidate(ctx, b.BookID)
	middleware.RecordReturn(string(chargeType(quote)))
	s.logger.Info("Book returned",
		zap.Uint64("borrowing_id", id),
		zap.Uint64("payment_id", pay.PaymentID),
		zap.String("type", string(pay.Type)),
		zap.String("money_to_pay", pay.MoneyToPay.StringFixed(2)),
	)

	res := &ReturnResult{Borrowing: *b, Payment: pay}
	if pay.Status == payments.StatusPaid {
		return res, apperr.ErrPaymentAlreadyProcessed()
	}

	d, err := s.checkout.CreateCheckoutSession(ctx, pay.PaymentID)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Payment = &d.Payment
	if d.SessionURL != nil {
		res.CheckoutURL = *d.SessionURL
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, id uint64, viewer auth.Viewer) (*Row, error) {
	r, err := s.store.GetRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.CanSee(r.UserID) {
		return nil, apperr.ErrNotFound("borrowing not found")
	}
	return r, nil
}

// List scopes non-staff viewers to their own borrowings; user_id is honoured for staff only.
func (s *Service) List(ctx context.Context, f ListFilter, viewer auth.Viewer) ([]Row, error) {
	if !viewer.IsStaff() {
		uid := viewer.UserID
		f.UserID = &uid
	}
	return s.store.List(ctx, f)
}

func (s *Service) invalidate(ctx context.Context, bookID uint64) {
	if s.catalog != nil {
		s.catalog.Invalidate(ctx, bookID)
	}
}

func chargeType(q fees.Quote) payments.Type {
	if q.Fine {
		return payments.TypeFine
	}
	return payments.TypePayment
}
