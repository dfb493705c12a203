package borrowings

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"LIBRA-backend/internal/fees"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/payments"
	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/auth"
	"LIBRA-backend/internal/platform/clock"
)

var (
	day0   = time.Date(2024, 6, 18, 0, 0, 0, 0, time.UTC)
	reader = auth.Viewer{UserID: 42}

	bookCols      = []string{"book_id", "title", "author", "cover", "inventory", "daily_fee"}
	borrowingCols = []string{"borrowing_id", "borrowing_ulid", "borrow_date", "expected_return_date", "actual_return_date", "book_id", "user_id"}
	paymentCols   = []string{"payment_id", "borrowing_id", "status", "type", "money_to_pay", "session_id", "session_url"}
)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

// decArg matches a decimal argument by value, ignoring its scale.
type decArg struct{ want string }

func (a decArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	got, err := decimal.NewFromString(s)
	return err == nil && got.Equal(decimal.RequireFromString(a.want))
}

type fixedIDs struct{}

func (fixedIDs) NewULID(time.Time) string { return "01J0AAAAAAAAAAAAAAAAAAAAAA" }

type fakeCatalog struct{ invalidated []uint64 }

func (f *fakeCatalog) Invalidate(_ context.Context, id uint64) {
	f.invalidated = append(f.invalidated, id)
}

type fakeCheckout struct {
	calls int
	err   error
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, id uint64) (*payments.Detail, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sid, url := "cs_test", "https://checkout.stripe.com/c/cs_test"
	return &payments.Detail{Payment: payments.Payment{
		PaymentID: id, BorrowingID: 100, Status: payments.StatusPending, Type: payments.TypePayment,
		MoneyToPay: decimal.RequireFromString("8.00"), SessionID: &sid, SessionURL: &url,
	}}, nil
}

type recordingNotifier struct{ msgs []notify.Message }

func (r *recordingNotifier) Send(_ context.Context, m notify.Message) { r.msgs = append(r.msgs, m) }

type fixture struct {
	conn     *sql.DB
	mock     sqlmock.Sqlmock
	catalog  *fakeCatalog
	checkout *fakeCheckout
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, today time.Time) *fixture {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	calc, err := fees.NewCalculator(decimal.NewFromInt(2))
	require.NoError(t, err)

	f := &fixture{conn: conn, mock: mock, catalog: &fakeCatalog{}, checkout: &fakeCheckout{}, notifier: &recordingNotifier{}}
	f.svc = NewService(conn, Deps{
		Calculator: calc,
		Catalog:    f.catalog,
		Checkout:   f.checkout,
		Notifier:   f.notifier,
		Clock:      clock.Fixed{T: today.Add(10 * time.Hour)},
		IDs:        fixedIDs{},
	}, zaptest.NewLogger(t))
	return f
}

// ---- Borrow ----

func (f *fixture) expectBorrowPrelude(pending bool) {
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`SELECT email FROM users WHERE user_id = \?`).WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("reader@example.com"))
	f.mock.ExpectQuery(`SELECT EXISTS`).WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(pending))
}

func TestBorrow_TakesCopyAndNotifies(t *testing.T) {
	f := newFixture(t, day0)

	f.expectBorrowPrelude(false)
	f.mock.ExpectQuery(`SELECT .* FROM books WHERE book_id = \? FOR UPDATE`).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(1, "Kobzar", "Taras Shevchenko", "HARD", 10, "1.00"))
	f.mock.ExpectExec(`UPDATE books SET inventory = inventory - 1`).WithArgs(uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO borrowings`).
		WithArgs("01J0AAAAAAAAAAAAAAAAAAAAAA", day0, day(7), uint64(1), uint64(42)).
		WillReturnResult(sqlmock.NewResult(100, 1))
	f.mock.ExpectCommit()

	row, err := f.svc.Borrow(context.Background(), BorrowInput{BookID: 1, ExpectedReturnDate: day(7)}, reader)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), row.BorrowingID)
	assert.True(t, row.IsActive())
	assert.Equal(t, day0, row.BorrowDate)
	assert.Equal(t, "Kobzar", row.Book.Title)
	assert.Equal(t, []uint64{1}, f.catalog.invalidated)
	require.Len(t, f.notifier.msgs, 1)
	assert.Contains(t, f.notifier.msgs[0].Text, "*Borrowed book*: Kobzar")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBorrow_ExpectedDateInThePast(t *testing.T) {
	f := newFixture(t, day(5))

	_, err := f.svc.Borrow(context.Background(), BorrowInput{BookID: 1, ExpectedReturnDate: day(4)}, reader)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidDate))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBorrow_ExpectedDateTodayIsAllowed(t *testing.T) {
	f := newFixture(t, day0)

	f.expectBorrowPrelude(false)
	f.mock.ExpectQuery(`FOR UPDATE`).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(1, "Kobzar", "Taras Shevchenko", "HARD", 1, "1.00"))
	f.mock.ExpectExec(`UPDATE books`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO borrowings`).WillReturnResult(sqlmock.NewResult(101, 1))
	f.mock.ExpectCommit()

	_, err := f.svc.Borrow(context.Background(), BorrowInput{BookID: 1, ExpectedReturnDate: day0}, reader)
	assert.NoError(t, err)
}

func TestBorrow_BlockedByPendingPayment(t *testing.T) {
	f := newFixture(t, day0)

	f.expectBorrowPrelude(true)
	f.mock.ExpectRollback()

	_, err := f.svc.Borrow(context.Background(), BorrowInput{BookID: 1, ExpectedReturnDate: day(7)}, reader)
	assert.True(t, apperr.Is(err, apperr.CodePaymentPending))
	assert.Empty(t, f.catalog.invalidated)
	assert.Empty(t, f.notifier.msgs)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBorrow_OutOfStock(t *testing.T) {
	f := newFixture(t, day0)

	f.expectBorrowPrelude(false)
	f.mock.ExpectQuery(`FOR UPDATE`).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(bookCols).AddRow(1, "Kobzar", "Taras Shevchenko", "HARD", 0, "1.00"))
	f.mock.ExpectRollback()

	_, err := f.svc.Borrow(context.Background(), BorrowInput{BookID: 1, ExpectedReturnDate: day(7)}, reader)
	assert.True(t, apperr.Is(err, apperr.CodeOutOfStock))
	assert.Empty(t, f.notifier.msgs)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ---- Return ----

func (f *fixture) expectLock(borrow, expected time.Time, actual any) {
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`FROM borrowings WHERE borrowing_id = \? FOR UPDATE`).WithArgs(uint64(100)).
		WillReturnRows(sqlmock.NewRows(borrowingCols).
			AddRow(100, "01J0AAAAAAAAAAAAAAAAAAAAAA", borrow, expected, actual, 1, 42))
}

func (f *fixture) expectReturnWrites(today time.Time, typ payments.Type, amount string, paymentRow []driver.Value) {
	f.mock.ExpectQuery(`SELECT daily_fee FROM books WHERE book_id = \?`).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_fee"}).AddRow("1.00"))
	f.mock.ExpectExec(`UPDATE borrowings SET actual_return_date = \? WHERE borrowing_id = \? AND actual_return_date IS NULL`).
		WithArgs(today, uint64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE books SET inventory = inventory \+ 1 WHERE book_id = \?`).WithArgs(uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`INSERT INTO payments`).WithArgs(uint64(100), typ, decArg{amount}).
		WillReturnResult(sqlmock.NewResult(5, 1))
	f.mock.ExpectQuery(`SELECT .* FROM payments WHERE borrowing_id = \? FOR UPDATE`).WithArgs(uint64(100)).
		WillReturnRows(sqlmock.NewRows(paymentCols).AddRow(paymentRow...))
	f.mock.ExpectCommit()
}

// Borrowed Day0 for Day7, returned on Day7: 8 days at 1.00.
func TestReturn_OnTimeChargesStandardAmount(t *testing.T) {
	f := newFixture(t, day(7))

	f.expectLock(day0, day(7), nil)
	f.expectReturnWrites(day(7), payments.TypePayment, "8.00",
		[]driver.Value{5, 100, "PENDING", "PAYMENT", "8.00", nil, nil})

	res, err := f.svc.Return(context.Background(), 100, reader)
	require.NoError(t, err)

	assert.Equal(t, "https://checkout.stripe.com/c/cs_test", res.CheckoutURL)
	assert.Equal(t, payments.TypePayment, res.Payment.Type)
	assert.True(t, decimal.RequireFromString("8").Equal(res.Payment.MoneyToPay))
	require.NotNil(t, res.Borrowing.ActualReturnDate)
	assert.Equal(t, day(7), *res.Borrowing.ActualReturnDate)
	assert.Equal(t, []uint64{1}, f.catalog.invalidated)
	assert.Equal(t, 1, f.checkout.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReturn_EarlyChargesDaysKept(t *testing.T) {
	f := newFixture(t, day(5))

	f.expectLock(day0, day(7), nil)
	f.expectReturnWrites(day(5), payments.TypePayment, "6.00",
		[]driver.Value{5, 100, "PENDING", "PAYMENT", "6.00", nil, nil})

	_, err := f.svc.Return(context.Background(), 100, reader)
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// Expected Day2, returned Day5: (3 + 2 + 1) × 1.00 × 2.
func TestReturn_OverdueCreatesFine(t *testing.T) {
	f := newFixture(t, day(5))

	f.expectLock(day0, day(2), nil)
	f.expectReturnWrites(day(5), payments.TypeFine, "12.00",
		[]driver.Value{5, 100, "PENDING", "FINE", "12.00", nil, nil})

	res, err := f.svc.Return(context.Background(), 100, reader)
	require.NoError(t, err)
	assert.NotNil(t, res.Payment)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReturn_AlreadyReturned(t *testing.T) {
	f := newFixture(t, day(9))

	f.expectLock(day0, day(7), day(8))
	f.mock.ExpectRollback()

	_, err := f.svc.Return(context.Background(), 100, reader)
	assert.True(t, apperr.Is(err, apperr.CodeAlreadyReturned))
	assert.Zero(t, f.checkout.calls)
	assert.Empty(t, f.catalog.invalidated)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReturn_OtherUsersBorrowingIsHidden(t *testing.T) {
	f := newFixture(t, day(7))

	f.expectLock(day0, day(7), nil)
	f.mock.ExpectRollback()

	_, err := f.svc.Return(context.Background(), 100, auth.Viewer{UserID: 7})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReturn_ProviderFailureKeepsReturnCommitted(t *testing.T) {
	f := newFixture(t, day(7))
	f.checkout.err = apperr.ErrProviderUnavailable(errors.New("stripe down"))

	f.expectLock(day0, day(7), nil)
	f.expectReturnWrites(day(7), payments.TypePayment, "8.00",
		[]driver.Value{5, 100, "PENDING", "PAYMENT", "8.00", nil, nil})

	res, err := f.svc.Return(context.Background(), 100, reader)
	assert.True(t, apperr.Is(err, apperr.CodeProviderUnavailable))
	require.NotNil(t, res)
	assert.Equal(t, uint64(5), res.Payment.PaymentID)
	assert.Empty(t, res.CheckoutURL)
	assert.Equal(t, []uint64{1}, f.catalog.invalidated)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReturn_PaidPaymentIsNotChargedAgain(t *testing.T) {
	f := newFixture(t, day(7))

	f.expectLock(day0, day(7), nil)
	f.expectReturnWrites(day(7), payments.TypePayment, "8.00",
		[]driver.Value{5, 100, "PAID", "PAYMENT", "8.00", "cs_old", "https://checkout.stripe.com/c/cs_old"})

	_, err := f.svc.Return(context.Background(), 100, reader)
	assert.True(t, apperr.Is(err, apperr.CodePaymentAlreadyProcessed))
	assert.Zero(t, f.checkout.calls)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ---- List ----

func TestList_ActiveFilterScopedToViewer(t *testing.T) {
	f := newFixture(t, day0)

	rowCols := append(append([]string{}, borrowingCols...), "title", "author", "cover", "daily_fee", "email")
	f.mock.ExpectQuery(`WHERE b.actual_return_date IS NULL AND b.user_id = \? ORDER BY b.borrowing_id DESC LIMIT \? OFFSET \?`).
		WithArgs(uint64(42), 50, 0).
		WillReturnRows(sqlmock.NewRows(rowCols).
			AddRow(100, "01J0AAAAAAAAAAAAAAAAAAAAAA", day0, day(7), nil, 1, 42, "Kobzar", "Taras Shevchenko", "HARD", "1.00", "reader@example.com"))
	f.mock.ExpectQuery(`FROM payments WHERE borrowing_id IN \(\?\)`).WithArgs(uint64(100)).
		WillReturnRows(sqlmock.NewRows(paymentCols))

	active := true
	other := uint64(7)
	rows, err := f.svc.List(context.Background(), ListFilter{IsActive: &active, UserID: &other, Limit: 50}, reader)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kobzar", rows[0].Book.Title)
	assert.Nil(t, rows[0].Payment)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestListDue(t *testing.T) {
	f := newFixture(t, day0)

	f.mock.ExpectQuery(`WHERE b.actual_return_date IS NULL AND b.expected_return_date <= \?`).
		WithArgs(day(1)).
		WillReturnRows(sqlmock.NewRows([]string{"email", "title", "expected_return_date"}).
			AddRow("reader@example.com", "Kobzar", day0))

	due, err := f.svc.Store().ListDue(context.Background(), day(1))
	require.NoError(t, err)
	assert.Equal(t, []notify.DueBorrowing{{UserEmail: "reader@example.com", BookTitle: "Kobzar", ExpectedReturnDate: day0}}, due)
}

// ---- Handler ----

func newRouter(svc *Service, viewer auth.Viewer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1", func(c *gin.Context) { c.Set(auth.CtxViewerKey, viewer) })
	RegisterRoutes(g, svc)
	return r
}

func TestHandler_ReturnProviderFailureKeepsPaymentInBody(t *testing.T) {
	f := newFixture(t, day(7))
	f.checkout.err = apperr.ErrProviderUnavailable(errors.New("stripe down"))

	f.expectLock(day0, day(7), nil)
	f.expectReturnWrites(day(7), payments.TypePayment, "8.00",
		[]driver.Value{5, 100, "PENDING", "PAYMENT", "8.00", nil, nil})

	w := httptest.NewRecorder()
	newRouter(f.svc, reader).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/borrowings/100/return", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Payment struct {
			PaymentID uint64 `json:"payment_id"`
		} `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "PROVIDER_UNAVAILABLE", body.Error.Code)
	assert.Equal(t, uint64(5), body.Payment.PaymentID)
}

func TestHandler_CreateRejectsBadDate(t *testing.T) {
	f := newFixture(t, day0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/borrowings",
		strings.NewReader(`{"book_id":1,"expected_return_date":"18/06/2024"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(f.svc, reader).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_DATE"`)
}

func TestHandler_ListRejectsBadIsActive(t *testing.T) {
	f := newFixture(t, day0)

	w := httptest.NewRecorder()
	newRouter(f.svc, reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/borrowings?is_active=maybe", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_ARGUMENT"`)
}
