// Package mem is an in-process transport. Endpoints connected to the same
// Hub see each other's messages, which makes it useful for tests and for
// running several clients in one process.
package mem

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/bjaus/thingmsg"
)

// DefaultBuffer is the inbox size of an endpoint.
const DefaultBuffer = 256

// ErrNoConsumer is returned by StartConsumption before OnMessage.
var ErrNoConsumer = errors.New("mem: no message consumer set")

// Hub connects endpoints.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBuffer sets the inbox size of endpoints. Submit blocks while a
// consuming endpoint's inbox is full.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:    zap.NewNop(),
		buffer:    DefaultBuffer,
		endpoints: make(map[*Endpoint]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect attaches a new endpoint. name only appears in logs.
func (h *Hub) Connect(name string) *Endpoint {
	ep := &Endpoint{
		hub:    h,
		name:   name,
		logger: h.logger.With(zap.String("endpoint", name)),
		inbox:  make(chan thingmsg.InboundMessage, h.buffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints[ep] = struct{}{}
	h.mu.Unlock()
	return ep
}

// Len returns the number of connected endpoints.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

func (h *Hub) consumers() []*Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Endpoint, 0, len(h.endpoints))
	for ep := range h.endpoints {
		if ep.isConsuming() {
			out = append(out, ep)
		}
	}
	return out
}

func (h *Hub) detach(ep *Endpoint) {
	h.mu.Lock()
	delete(h.endpoints, ep)
	h.mu.Unlock()
}

// Endpoint is one connection to a Hub. It implements thingmsg.Transport.
//
// Every message submitted through any endpoint is delivered to every
// endpoint of the hub that is consuming, the sender included, in
// submission order per endpoint.
type Endpoint struct {
	hub    *Hub
	name   string
	logger *zap.Logger

	inbox chan thingmsg.InboundMessage
	done  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	consume   func(ctx context.Context, msg thingmsg.InboundMessage)
	consuming bool
	closed    bool
	cancel    context.CancelFunc
}

var _ thingmsg.Transport = (*Endpoint)(nil)

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// OnMessage implements thingmsg.Transport.
func (e *Endpoint) OnMessage(fn func(ctx context.Context, msg thingmsg.InboundMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consume = fn
}

// Submit implements thingmsg.Transport. It returns once every consuming
// endpoint has queued the message.
func (e *Endpoint) Submit(ctx context.Context, msg thingmsg.OutboundMessage) error {
	if e.isClosed() {
		return thingmsg.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, peer := range e.hub.consumers() {
		select {
		case peer.inbox <- msg.Inbound():
		case <-peer.done:
			// closed meanwhile
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// StartConsumption implements thingmsg.Transport. Handlers run on a
// goroutine owned by the endpoint, with a context cancelled by Close.
func (e *Endpoint) StartConsumption(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return thingmsg.ErrTransportClosed
	case e.consume == nil:
		return ErrNoConsumer
	case e.consuming:
		return thingmsg.ErrAlreadyConsuming
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.consuming = true
	consume := e.consume

	e.wg.Add(1)
	go e.loop(ctx, consume)
	e.logger.Debug("endpoint consuming")
	return nil
}

func (e *Endpoint) loop(ctx context.Context, consume func(context.Context, thingmsg.InboundMessage)) {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.inbox:
			consume(ctx, msg)
		case <-e.done:
			return
		}
	}
}

// Close implements thingmsg.Transport. Queued messages not yet handed to
// the consumer are dropped. Close waits for the running handler, bounded by
// ctx.
func (e *Endpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.consuming = false
	cancel := e.cancel
	e.mu.Unlock()

	e.hub.detach(e)
	close(e.done)
	if cancel != nil {
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Endpoint) isConsuming() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consuming
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
