package thingmsg

import (
	"context"
	"time"
)

// OnReceiveFunc is called once per inbound message before matching.
// Use it to enrich the context with logging fields or trace spans; the
// returned context is passed to every handler of the message.
type OnReceiveFunc func(ctx context.Context, msg InboundMessage) context.Context

// OnDispatchFunc is called just before a registration's payload is decoded
// and its handler runs.
type OnDispatchFunc func(ctx context.Context, key string, msg InboundMessage)

// OnSuccessFunc is called after a handler returns nil.
type OnSuccessFunc func(ctx context.Context, key, subject string, duration time.Duration)

// OnFailureFunc is called after a handler returns an error or panics. err is
// a *HandlerError.
type OnFailureFunc func(ctx context.Context, key, subject string, err error, duration time.Duration)

// OnDeliveryErrorFunc is called when a payload cannot be decoded for a
// registration. err is a *DeliveryError; the handler is not called.
type OnDeliveryErrorFunc func(ctx context.Context, key, subject string, err error)

// OnUnmatchedFunc is called when no registration matches a message.
type OnUnmatchedFunc func(ctx context.Context, msg InboundMessage)

// OnInvalidEnvelopeFunc is called when Process cannot parse raw bytes as a
// message envelope.
type OnInvalidEnvelopeFunc func(ctx context.Context, raw []byte, err error)

// hooks holds all configured hook functions.
type hooks struct {
	onReceive         []OnReceiveFunc
	onDispatch        []OnDispatchFunc
	onSuccess         []OnSuccessFunc
	onFailure         []OnFailureFunc
	onDeliveryError   []OnDeliveryErrorFunc
	onUnmatched       []OnUnmatchedFunc
	onInvalidEnvelope []OnInvalidEnvelopeFunc
}

// WithOnReceive adds a hook called for each inbound message before matching.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	thingmsg.WithOnReceive(func(ctx context.Context, msg thingmsg.InboundMessage) context.Context {
//	    return logx.WithCtx(ctx, slog.String("subject", msg.Subject))
//	})
func WithOnReceive(fn OnReceiveFunc) Option {
	return func(r *Router) {
		r.hooks.onReceive = append(r.hooks.onReceive, fn)
	}
}

// WithOnDispatch adds a hook called before each handler invocation.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(r *Router) {
		r.hooks.onDispatch = append(r.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a handler succeeds.
//
// Example:
//
//	thingmsg.WithOnSuccess(func(ctx context.Context, key, subject string, d time.Duration) {
//	    metrics.Timing("thingmsg.success", d, "key:"+key)
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(r *Router) {
		r.hooks.onSuccess = append(r.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a handler fails.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(r *Router) {
		r.hooks.onFailure = append(r.hooks.onFailure, fn)
	}
}

// WithOnDeliveryError adds a hook called when a payload cannot be decoded
// for a registration.
//
// Example:
//
//	thingmsg.WithOnDeliveryError(func(ctx context.Context, key, subject string, err error) {
//	    if errors.Is(err, thingmsg.ErrUnsupportedType) {
//	        alert("registration %s has no codec", key)
//	    }
//	})
func WithOnDeliveryError(fn OnDeliveryErrorFunc) Option {
	return func(r *Router) {
		r.hooks.onDeliveryError = append(r.hooks.onDeliveryError, fn)
	}
}

// WithOnUnmatched adds a hook called when a message matches no registration.
// Unmatched messages are expected; the hook is for visibility only.
func WithOnUnmatched(fn OnUnmatchedFunc) Option {
	return func(r *Router) {
		r.hooks.onUnmatched = append(r.hooks.onUnmatched, fn)
	}
}

// WithOnInvalidEnvelope adds a hook called when Process rejects raw bytes.
func WithOnInvalidEnvelope(fn OnInvalidEnvelopeFunc) Option {
	return func(r *Router) {
		r.hooks.onInvalidEnvelope = append(r.hooks.onInvalidEnvelope, fn)
	}
}

func (r *Router) callOnReceive(ctx context.Context, msg InboundMessage) context.Context {
	for _, fn := range r.hooks.onReceive {
		ctx = fn(ctx, msg)
	}
	return ctx
}

func (r *Router) callOnDispatch(ctx context.Context, key string, msg InboundMessage) {
	for _, fn := range r.hooks.onDispatch {
		fn(ctx, key, msg)
	}
}

func (r *Router) callOnSuccess(ctx context.Context, key, subject string, d time.Duration) {
	for _, fn := range r.hooks.onSuccess {
		fn(ctx, key, subject, d)
	}
}

func (r *Router) callOnFailure(ctx context.Context, key, subject string, err error, d time.Duration) {
	for _, fn := range r.hooks.onFailure {
		fn(ctx, key, subject, err, d)
	}
}

func (r *Router) callOnDeliveryError(ctx context.Context, key, subject string, err error) {
	for _, fn := range r.hooks.onDeliveryError {
		fn(ctx, key, subject, err)
	}
}

func (r *Router) callOnUnmatched(ctx context.Context, msg InboundMessage) {
	for _, fn := range r.hooks.onUnmatched {
		fn(ctx, msg)
	}
}

func (r *Router) callOnInvalidEnvelope(ctx context.Context, raw []byte, err error) {
	for _, fn := range r.hooks.onInvalidEnvelope {
		fn(ctx, raw, err)
	}
}
