package payments

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"LIBRA-backend/internal/fees"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/platform/apperr"
	"LIBRA-backend/internal/platform/auth"
	"LIBRA-backend/internal/platform/circuitbreaker"
	"LIBRA-backend/internal/platform/middleware"
)

type Options struct {
	PublicBaseURL string
	Currency      string
}

type Service struct {
	store    *Store
	provider CheckoutProvider
	breaker  *circuitbreaker.CircuitBreaker
	notifier notify.Notifier
	opts     Options
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewService(db *sql.DB, provider CheckoutProvider, breaker *circuitbreaker.CircuitBreaker,
	notifier notify.Notifier, opts Options, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	return &Service{
		store:    NewStore(db),
		provider: provider,
		breaker:  breaker,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("LIBRA-backend/internal/payments"),
	}
}

func (s *Service) SuccessURL(id uint64) string {
	return fmt.Sprintf("%s/api/v1/payments/%d/success", s.opts.PublicBaseURL, id)
}

func (s *Service) CancelURL(id uint64) string {
	return fmt.Sprintf("%s/api/v1/payments/%d/cancel", s.opts.PublicBaseURL, id)
}

// Get hides payments of other users from non-staff viewers.
func (s *Service) Get(ctx context.Context, id uint64, viewer auth.Viewer) (*Detail, error) {
	d, err := s.store.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.CanSee(d.UserID) {
		return nil, apperr.ErrNotFound("payment not found")
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, viewer auth.Viewer) ([]Detail, error) {
	if !viewer.IsStaff() {
		uid := viewer.UserID
		f.UserID = &uid
	}
	return s.store.List(ctx, f)
}

// CreateCheckoutSession opens a hosted checkout page for a pending payment and
// stores the session on it. The payment is left untouched when the provider fails.
func (s *Service) CreateCheckoutSession(ctx context.Context, id uint64) (*Detail, error) {
	ctx, span := s.tracer.Start(ctx, "payments.CreateCheckoutSession",
		trace.WithAttributes(attribute.Int64("payment.id", int64(id))))
	defer span.End()

	d, err := s.store.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, apperr.ErrPaymentAlreadyProcessed()
	}

	req := SessionRequest{
		ProductName:       d.BookTitle,
		UnitAmount:        fees.MinorUnits(d.MoneyToPay),
		Currency:          s.opts.Currency,
		SuccessURL:        s.SuccessURL(id),
		CancelURL:         s.CancelURL(id),
		ClientReferenceID: strconv.FormatUint(id, 10),
	}

	var sess Session
	err = s.callProvider(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.provider.CreateSession(ctx, req)
		return err
	})
	if err != nil {
		middleware.RecordCheckoutSession("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider unavailable")
		s.logger.Warn("Checkout session creation failed", zap.Uint64("payment_id", id), zap.Error(err))
		return nil, apperr.ErrProviderUnavailable(err)
	}

	ok, err := s.store.SetSession(ctx, id, sess.ID, sess.URL)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 並行して支払い済みになった
		return nil, apperr.ErrPaymentAlreadyProcessed()
	}

	middleware.RecordCheckoutSession("created")
	d.SessionID, d.SessionURL = &sess.ID, &sess.URL
	s.logger.Info("Checkout session created",
		zap.Uint64("payment_id", id),
		zap.String("session_id", sess.ID),
		zap.Int64("unit_amount", req.UnitAmount),
	)
	return d, nil
}

// ConfirmSuccess settles a payment after the provider redirects back.
// Re-confirming a PAID payment is a no-op success without a provider call.
func (s *Service) ConfirmSuccess(ctx context.Context, id uint64) (ConfirmOutcome, *Detail, error) {
	ctx, span := s.tracer.Start(ctx, "payments.ConfirmSuccess",
		trace.WithAttributes(attribute.Int64("payment.id", int64(id))))
	defer span.End()

	d, err := s.store.GetDetail(ctx, id)
	if err != nil {
		return NotCompleted, nil, err
	}

	outcome, err := s.confirm(ctx, d)
	if err != nil {
		span.RecordError(err)
		return NotCompleted, nil, err
	}
	span.SetAttributes(attribute.String("payment.outcome", outcome.String()))
	middleware.RecordPaymentConfirmation(outcome.String())
	return outcome, d, nil
}

func (s *Service) confirm(ctx context.Context, d *Detail) (ConfirmOutcome, error) {
	if d.Status == StatusPaid {
		return AlreadyPaid, nil
	}
	if d.SessionID == nil || *d.SessionID == "" {
		return NotCompleted, nil
	}

	var status SessionStatus
	err := s.callProvider(ctx, func(ctx context.Context) error {
		var err error
		status, err = s.provider.RetrieveSession(ctx, *d.SessionID)
		return err
	})
	if err != nil {
		s.logger.Warn("Checkout session lookup failed", zap.Uint64("payment_id", d.PaymentID), zap.Error(err))
		return NotCompleted, apperr.ErrProviderUnavailable(err)
	}
	if status != SessionPaid {
		return NotCompleted, nil
	}

	updated, err := s.store.MarkPaid(ctx, d.PaymentID)
	if err != nil {
		return NotCompleted, err
	}
	d.Status = StatusPaid
	if !updated {
		return AlreadyPaid, nil
	}

	s.logger.Info("Payment confirmed", zap.Uint64("payment_id", d.PaymentID), zap.String("amount", d.MoneyToPay.StringFixed(2)))
	s.notifier.Send(ctx, notify.PaymentSucceededMessage(notify.PaymentReceipt{
		PaymentID:  d.PaymentID,
		BookTitle:  d.BookTitle,
		UserEmail:  d.UserEmail,
		MoneyPaid:  d.MoneyToPay,
		Currency:   s.opts.Currency,
		StatusName: string(d.Status),
	}))
	return Confirmed, nil
}

// DescribeCancellation tells the user how to finish an abandoned checkout. No provider call.
func (s *Service) DescribeCancellation(ctx context.Context, id uint64) (*Cancellation, error) {
	d, err := s.store.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	c := &Cancellation{PaymentID: id, SessionURL: d.SessionURL}
	switch {
	case d.Status == StatusPaid:
		c.SessionURL = nil
		c.Detail = "Payment was already completed."
	case d.SessionURL == nil || *d.SessionURL == "":
		c.Detail = "No checkout session exists for this payment yet."
	default:
		c.Detail = "Payment can be completed within 24 hours using this url " + *d.SessionURL
	}
	return c, nil
}

// callProvider runs fn behind the circuit breaker and turns a panic into an error.
func (s *Service) callProvider(ctx context.Context, fn func(ctx context.Context) error) error {
	guarded := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("checkout provider panic: %v", r)
			}
		}()
		return fn(ctx)
	}
	if s.breaker == nil {
		return guarded(ctx)
	}
	return s.breaker.Execute(ctx, guarded)
}
