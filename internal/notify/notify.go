// Package notify delivers best-effort notifications about borrowings and payments.
//
// Send never blocks the caller and never fails: messages are queued on a
// bounded channel and published by a single worker. When the queue is full
// the message is dropped and counted.
package notify

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"LIBRA-backend/internal/platform/middleware"
)

type Kind string

const (
	KindBorrowed         Kind = "borrowed"
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindOverdueReport    Kind = "overdue_report"
)

type Message struct {
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Notifier interface {
	Send(ctx context.Context, msg Message)
}

// Sink publishes a single message somewhere outside the process.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Send(context.Context, Message) {}

type envelope struct {
	ctx context.Context
	msg Message
}

type Dispatcher struct {
	sink   Sink
	queue  chan envelope
	done   chan struct{}
	logger *zap.Logger

	// closed と enqueue を mu で直列化し、Close 後に queue へ残るものをなくす
	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(sink Sink, queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan envelope, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// Close stops accepting messages, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	// リクエストのキャンセルに巻き込まれないよう、トレース情報だけ引き継ぐ
	env := envelope{
		ctx: trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx)),
		msg: msg,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(msg, "dispatcher closed")
		return
	}
	select {
	case d.queue <- env:
	default:
		d.drop(msg, "queue full")
	}
}

func (d *Dispatcher) drop(msg Message, reason string) {
	middleware.RecordNotification(string(msg.Kind), "dropped")
	d.logger.Warn("Notification dropped", zap.String("kind", string(msg.Kind)), zap.String("reason", reason))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case env := <-d.queue:
			d.deliver(env)
		case <-d.done:
			for {
				select {
				case env := <-d.queue:
					d.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(env envelope) {
	kind := string(env.msg.Kind)
	if err := d.sink.Publish(env.ctx, env.msg); err != nil {
		middleware.RecordNotification(kind, "failed")
		d.logger.Warn("Failed to publish notification", zap.String("kind", kind), zap.Error(err))
		return
	}
	middleware.RecordNotification(kind, "sent")
}

// LogSink writes notifications to the log. Used when Kafka is disabled.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, msg Message) error {
	s.Logger.Info("Notification", zap.String("kind", string(msg.Kind)), zap.String("text", msg.Text))
	return nil
}
