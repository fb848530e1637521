// Package natsbus carries thingmsg envelopes over core NATS.
//
// Every message is published as a JSON envelope on one subject; each Bus
// subscribed to that subject receives it, including the publishing one.
// Routing by scope and subject happens in the router, not in NATS.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/bjaus/thingmsg"
)

// DefaultSubject is the NATS subject used when none is configured.
const DefaultSubject = "things.live.messages"

const defaultFlushTimeout = 5 * time.Second

var (
	// ErrNoConsumer is returned by StartConsumption before OnMessage.
	ErrNoConsumer = errors.New("natsbus: no message consumer set")

	// ErrNotConnected is returned when the connection is closed or
	// reconnecting.
	ErrNotConnected = errors.New("natsbus: not connected")
)

// Bus is a thingmsg.Transport over a NATS connection.
type Bus struct {
	conn         *nats.Conn
	owned        bool
	subject      string
	queue        string
	flushTimeout time.Duration
	logger       *zap.Logger
	onInvalid    func(ctx context.Context, raw []byte, err error)

	mu      sync.Mutex
	consume func(ctx context.Context, msg thingmsg.InboundMessage)
	sub     *nats.Subscription
	cancel  context.CancelFunc
	closed  bool

	// held while the consumer runs; the subscription delivers one message
	// at a time
	running sync.Mutex
}

var _ thingmsg.Transport = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithSubject sets the NATS subject messages are published and consumed on.
func WithSubject(s string) Option {
	return func(b *Bus) {
		if s != "" {
			b.subject = s
		}
	}
}

// WithQueue joins consumption to a NATS queue group, so each message reaches
// one member of the group instead of every bus.
func WithQueue(group string) Option {
	return func(b *Bus) {
		b.queue = group
	}
}

// WithFlushTimeout bounds the flush after each publish when the Submit
// context has no deadline.
func WithFlushTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.flushTimeout = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithOnInvalidEnvelope sets a callback for messages on the subject that do
// not parse as envelopes. They are dropped either way.
func WithOnInvalidEnvelope(fn func(ctx context.Context, raw []byte, err error)) Option {
	return func(b *Bus) {
		b.onInvalid = fn
	}
}

// New wraps an existing connection. Close leaves the connection open.
func New(nc *nats.Conn, opts ...Option) *Bus {
	b := &Bus{
		conn:         nc,
		subject:      DefaultSubject,
		flushTimeout: defaultFlushTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("subject", b.subject))
	return b
}

// Connect dials url and returns a Bus owning the connection. natsOpts are
// passed to nats.Connect after the defaults, so they take precedence.
func Connect(url string, natsOpts []nats.Option, opts ...Option) (*Bus, error) {
	b := New(nil, opts...)
	base := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.logger.Error("nats async error", zap.Error(err))
		}),
	}
	nc, err := nats.Connect(url, append(base, natsOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	b.conn = nc
	b.owned = true
	return b, nil
}

// Subject returns the NATS subject of the bus.
func (b *Bus) Subject() string { return b.subject }

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn { return b.conn }

// OnMessage implements thingmsg.Transport.
func (b *Bus) OnMessage(fn func(ctx context.Context, msg thingmsg.InboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consume = fn
}

// Submit implements thingmsg.Transport. It publishes the envelope and
// flushes, so a nil error means the server has the message.
func (b *Bus) Submit(ctx context.Context, msg thingmsg.OutboundMessage) error {
	if b.isClosed() {
		return thingmsg.ErrTransportClosed
	}
	if b.conn == nil || !b.conn.IsConnected() {
		return ErrNotConnected
	}

	data, err := thingmsg.EncodeEnvelope(msg)
	if err != nil {
		return err
	}

	out := nats.NewMsg(b.subject)
	out.Data = data
	out.Header.Set(thingmsg.HeaderMessageID, msg.ID)
	out.Header.Set(thingmsg.HeaderCorrelationID, msg.CorrelationID)
	if msg.ContentType != "" {
		out.Header.Set(thingmsg.HeaderContentType, msg.ContentType)
	}

	if err := b.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("natsbus: publish: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.flushTimeout)
		defer cancel()
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("natsbus: flush: %w", err)
	}
	return nil
}

// StartConsumption implements thingmsg.Transport. The subscription is
// confirmed with the server before it returns. Messages that are not valid
// envelopes are logged and dropped.
func (b *Bus) StartConsumption(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.closed:
		return thingmsg.ErrTransportClosed
	case b.consume == nil:
		return ErrNoConsumer
	case b.sub != nil:
		return thingmsg.ErrAlreadyConsuming
	case b.conn == nil || !b.conn.IsConnected():
		return ErrNotConnected
	}

	runCtx, cancel := context.WithCancel(context.Background())
	consume := b.consume
	onInvalid := b.onInvalid

	handler := func(m *nats.Msg) {
		b.running.Lock()
		defer b.running.Unlock()

		in, err := thingmsg.ParseEnvelope(m.Data)
		if err != nil {
			b.logger.Warn("dropping invalid envelope", zap.Int("bytes", len(m.Data)), zap.Error(err))
			if onInvalid != nil {
				onInvalid(runCtx, m.Data, err)
			}
			return
		}
		consume(runCtx, in)
	}

	var sub *nats.Subscription
	var err error
	if b.queue != "" {
		sub, err = b.conn.QueueSubscribe(b.subject, b.queue, handler)
	} else {
		sub, err = b.conn.Subscribe(b.subject, handler)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("natsbus: subscribe: %w", err)
	}

	flushCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var flushCancel context.CancelFunc
		flushCtx, flushCancel = context.WithTimeout(ctx, b.flushTimeout)
		defer flushCancel()
	}
	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		_ = sub.Unsubscribe()
		cancel()
		return fmt.Errorf("natsbus: confirm subscription: %w", err)
	}

	b.sub = sub
	b.cancel = cancel
	b.logger.Debug("consuming", zap.String("queue", b.queue))
	return nil
}

// Close implements thingmsg.Transport. It unsubscribes, waits for the
// handler in progress (bounded by ctx) and closes the connection when the
// bus owns it. Closing twice is a no-op.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sub, cancel := b.sub, b.cancel
	b.sub, b.cancel = nil, nil
	b.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("natsbus: unsubscribe: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		b.running.Lock()
		b.running.Unlock()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if b.owned && b.conn != nil {
		b.conn.Close()
	}
	return errors.Join(errs...)
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
