package thingmsg

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Router dispatches inbound messages to every registration whose scope,
// subject pattern and filters match, decoding the payload separately for each
// registration's type.
//
// Usage:
//  1. Create a router with New
//  2. Register handlers with Register or RegisterFunc
//  3. Hand inbound messages to Dispatch (or raw envelopes to Process)
//
// Router is safe for concurrent use. Registrations may be added and removed
// while messages are being dispatched.
type Router struct {
	table          *Table
	codecs         *Codecs
	hooks          hooks
	logger         *zap.Logger
	maxConcurrency int
	completion     *Coordinator
}

// Option configures a Router.
type Option func(*Router)

// New creates a Router with the given options.
//
// Example:
//
//	r := thingmsg.New(
//	    thingmsg.WithLogger(logger),
//	    thingmsg.WithOnFailure(func(ctx context.Context, key, subject string, err error, d time.Duration) {
//	        metrics.Incr("thingmsg.failure", "key:"+key)
//	    }),
//	)
func New(opts ...Option) *Router {
	r := &Router{
		table:  NewTable(),
		codecs: NewCodecs(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLogger sets the logger used to report delivery and handler errors.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCodecs replaces the codec registry. Use it to share custom codecs
// between routers or with a Sender.
func WithCodecs(c *Codecs) Option {
	return func(r *Router) {
		if c != nil {
			r.codecs = c
		}
	}
}

// WithMaxConcurrency bounds how many handlers of one message run at the same
// time. Zero or less means no bound; 1 delivers to matches one after another
// in registration order.
func WithMaxConcurrency(n int) Option {
	return func(r *Router) {
		r.maxConcurrency = n
	}
}

// WithCompletion records successful deliveries in c.
func WithCompletion(c *Coordinator) Option {
	return func(r *Router) {
		r.completion = c
	}
}

// Table returns the router's registration table.
func (r *Router) Table() *Table { return r.table }

// Codecs returns the router's codec registry.
func (r *Router) Codecs() *Codecs { return r.codecs }

// RegisterOption configures a single registration.
type RegisterOption func(*Registration)

// WithFilter narrows a registration to messages that also satisfy m.
//
//	thingmsg.Register(r, "fire", thingmsg.Global(), thingmsg.Subject("alarm"), h,
//	    thingmsg.WithFilter(thingmsg.PayloadFieldEquals("level", "critical")))
func WithFilter(m Matcher) RegisterOption {
	return func(reg *Registration) {
		if m != nil {
			reg.filters = append(reg.filters, m)
		}
	}
}

// Register adds a handler receiving messages inside scope whose subject
// matches pattern, with the payload decoded to T. key must be unique among
// live registrations.
//
// The codec for T is looked up when the message arrives, so codecs may be
// registered after the handler. A registration whose type has no codec stays
// registered and reports ErrUnsupportedType for each message it matches.
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the receiver.
//
// Example:
//
//	id, err := thingmsg.Register(r, "alerts", thingmsg.ForThing("org.acme:house-1"),
//	    thingmsg.AnySubject(), &FireAlertHandler{pager: pager})
func Register[T any](r *Router, key string, scope Scope, pattern SubjectPattern, h Handler[T], opts ...RegisterOption) (RegistrationID, error) {
	if key == "" {
		return RegistrationID{}, &RegistrationError{Key: key, Err: fmt.Errorf("%w: empty key", ErrInvalidRegistration)}
	}
	if h == nil {
		return RegistrationID{}, &RegistrationError{Key: key, Err: fmt.Errorf("%w: nil handler", ErrInvalidRegistration)}
	}
	if err := scope.Validate(); err != nil {
		return RegistrationID{}, &RegistrationError{Key: key, Err: fmt.Errorf("%w: %w", ErrInvalidRegistration, err)}
	}
	if !pattern.IsWildcard() && pattern.String() == "" {
		return RegistrationID{}, &RegistrationError{Key: key, Err: fmt.Errorf("%w: empty subject", ErrInvalidRegistration)}
	}

	tag := TypeOf[T]()
	codecs := r.codecs
	reg := &Registration{
		id:      RegistrationID{key: key, token: uuid.New()},
		scope:   scope,
		pattern: pattern,
		tag:     tag,
	}
	reg.invoke = func(ctx context.Context, in InboundMessage) error {
		m := Message[T]{
			ID:            in.ID,
			Subject:       in.Subject,
			Address:       in.Address,
			Direction:     in.Direction,
			ContentType:   in.ContentType,
			CorrelationID: in.CorrelationID,
			Headers:       in.Headers,
			Raw:           in.Payload,
			Registration:  key,
		}
		codec, err := codecs.Resolve(tag, in.ContentType)
		if err != nil {
			return &decodeError{err: err}
		}
		if in.HasPayload() {
			v, err := safeDecode(codec, in.Payload, in.ContentType)
			if err != nil {
				return &decodeError{err: fmt.Errorf("%w: %s as %s: %w", ErrDecode, in.ContentType, tag, err)}
			}
			typed, ok := v.(T)
			if !ok {
				return &decodeError{err: fmt.Errorf("%w: codec produced %T, want %s", ErrDecode, v, tag)}
			}
			m.Payload = typed
			m.HasPayload = true
		}
		return h.Handle(ctx, m)
	}
	for _, opt := range opts {
		opt(reg)
	}

	if err := r.table.add(reg); err != nil {
		return RegistrationID{}, err
	}
	if _, err := codecs.Resolve(tag, ""); err != nil {
		r.logger.Warn("registration has no codec for its payload type",
			zap.String("key", key), zap.String("type", tag.String()))
	}
	return reg.id, nil
}

// RegisterFunc is a convenience function for registering a handler function.
//
// Example:
//
//	thingmsg.RegisterFunc(r, "ping", thingmsg.Global(), thingmsg.Subject("ping"),
//	    func(ctx context.Context, m thingmsg.Message[string]) error {
//	        return nil
//	    })
func RegisterFunc[T any](r *Router, key string, scope Scope, pattern SubjectPattern, fn func(ctx context.Context, msg Message[T]) error, opts ...RegisterOption) (RegistrationID, error) {
	if fn == nil {
		return Register[T](r, key, scope, pattern, nil, opts...)
	}
	return Register[T](r, key, scope, pattern, HandlerFunc[T](fn), opts...)
}

// RegisterRaw registers a handler receiving the undecoded payload bytes.
func RegisterRaw(r *Router, key string, scope Scope, pattern SubjectPattern, fn func(ctx context.Context, msg Message[[]byte]) error, opts ...RegisterOption) (RegistrationID, error) {
	return RegisterFunc(r, key, scope, pattern, fn, opts...)
}

// Unregister removes a registration. Unknown ids are ignored, so it is safe
// to call more than once. Deliveries already in progress finish; no new
// message reaches the handler afterwards.
func (r *Router) Unregister(id RegistrationID) {
	r.table.Unregister(id)
}

// UnregisterKey removes the registration currently holding key, if any.
func (r *Router) UnregisterKey(key string) {
	r.table.UnregisterKey(key)
}

// Report summarizes the dispatch of one message.
type Report struct {
	// Matched is the number of registrations the message matched.
	Matched int

	// Delivered is the number of handlers that ran and returned nil.
	Delivered int

	// Errors holds one *DeliveryError or *HandlerError per failed match.
	Errors []error
}

// Err joins the per-registration errors, or returns nil.
func (rep Report) Err() error {
	return errors.Join(rep.Errors...)
}

// Dispatch delivers msg to every matching registration and waits for the
// handlers to return.
//
// The processing flow:
//  1. Call OnReceive hooks
//  2. Snapshot the matching registrations (an empty set drops the message)
//  3. For each match, independently: decode the payload to the
//     registration's type and call the handler
//  4. Report failures per registration through hooks and the logger
//
// A decode failure or handler failure for one registration never prevents
// delivery to the others, and nothing is returned to the transport.
func (r *Router) Dispatch(ctx context.Context, msg InboundMessage) Report {
	ctx = r.callOnReceive(ctx, msg)

	matches := r.table.Match(msg)
	if len(matches) == 0 {
		r.callOnUnmatched(ctx, msg)
		r.logger.Debug("no registration matched message",
			zap.String("subject", msg.Subject), zap.Stringer("address", msg.Address))
		return Report{}
	}

	results := make([]error, len(matches))
	if len(matches) == 1 {
		results[0] = r.deliver(ctx, matches[0], msg)
	} else {
		var g errgroup.Group
		if r.maxConcurrency > 0 {
			g.SetLimit(r.maxConcurrency)
		}
		for i, reg := range matches {
			g.Go(func() error {
				results[i] = r.deliver(ctx, reg, msg)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep := Report{Matched: len(matches)}
	for _, err := range results {
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.Delivered++
	}
	r.completion.messageDone(rep.Delivered)
	return rep
}

// Process parses raw as a message envelope and dispatches it.
//
// Example:
//
//	// In a NATS subscription
//	sub, err := nc.Subscribe("things.live", func(m *nats.Msg) {
//	    _, _ = router.Process(ctx, m.Data)
//	})
func (r *Router) Process(ctx context.Context, raw []byte) (Report, error) {
	msg, err := ParseEnvelope(raw)
	if err != nil {
		r.callOnInvalidEnvelope(ctx, raw, err)
		r.logger.Warn("dropping invalid envelope", zap.Error(err))
		return Report{}, err
	}
	return r.Dispatch(ctx, msg), nil
}

// deliver decodes and invokes one registration, converting every failure
// into a *DeliveryError or *HandlerError.
func (r *Router) deliver(ctx context.Context, reg *Registration, msg InboundMessage) error {
	key := reg.Key()
	msg = msg.clone()

	r.callOnDispatch(ctx, key, msg)

	start := time.Now()
	err := r.safeInvoke(ctx, reg, msg)
	duration := time.Since(start)

	var derr *decodeError
	if errors.As(err, &derr) {
		de := &DeliveryError{Key: key, Subject: msg.Subject, Err: derr.err}
		r.callOnDeliveryError(ctx, key, msg.Subject, de)
		r.logger.Warn("payload not delivered",
			zap.String("key", key), zap.String("subject", msg.Subject),
			zap.String("content_type", msg.ContentType), zap.Error(derr.err))
		return de
	}
	if err != nil {
		he := &HandlerError{Key: key, Subject: msg.Subject, Err: err}
		r.callOnFailure(ctx, key, msg.Subject, he, duration)
		r.logger.Error("handler failed",
			zap.String("key", key), zap.String("subject", msg.Subject),
			zap.Duration("duration", duration), zap.Error(err))
		return he
	}

	r.callOnSuccess(ctx, key, msg.Subject, duration)
	r.completion.invocationDone()
	return nil
}

// safeInvoke converts handler panics into errors so one handler cannot take
// down the transport's delivery goroutine.
func (r *Router) safeInvoke(ctx context.Context, reg *Registration, msg InboundMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				zap.String("key", reg.Key()), zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()
	return reg.invoke(ctx, msg)
}
