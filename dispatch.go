package thingmsg

import (
	"context"
	"maps"
)

// Handler processes messages whose payload has been decoded to T.
//
// Example:
//
//	type FireAlertHandler struct {
//	    pager Pager
//	}
//
//	func (h *FireAlertHandler) Handle(ctx context.Context, m thingmsg.Message[string]) error {
//	    return h.pager.Page(ctx, string(m.Address.Thing), m.Payload)
//	}
type Handler[T any] interface {
	Handle(ctx context.Context, msg Message[T]) error
}

// HandlerFunc is a function adapter for Handler. Use for simple handlers
// that don't need a struct:
//
//	thingmsg.RegisterFunc(r, "alerts", thingmsg.Global(), thingmsg.AnySubject(),
//	    func(ctx context.Context, m thingmsg.Message[string]) error {
//	        return nil
//	    })
type HandlerFunc[T any] func(ctx context.Context, msg Message[T]) error

// Handle implements the Handler interface.
func (f HandlerFunc[T]) Handle(ctx context.Context, msg Message[T]) error {
	return f(ctx, msg)
}

// Message is what a handler receives: the routing information of the inbound
// message plus its payload decoded to T.
type Message[T any] struct {
	// ID is the transport-assigned message id, if any.
	ID string

	// Subject classifies the message.
	Subject string

	// Address is the thing or feature the message concerns.
	Address Address

	// Direction tells whether the message was sent to or from Address.
	Direction Direction

	// ContentType is the MIME type the payload was sent with.
	ContentType string

	// CorrelationID links the message to a conversation, if set by the sender.
	CorrelationID string

	// Headers carries transport and application headers.
	Headers map[string]string

	// Payload is the decoded payload. It is the zero value when HasPayload
	// is false.
	Payload T

	// HasPayload reports whether the message carried a payload.
	HasPayload bool

	// Raw is the undecoded payload.
	Raw []byte

	// Registration is the key of the registration being served.
	Registration string
}

// InboundMessage is a message handed to the router by a transport.
type InboundMessage struct {
	ID            string
	Subject       string
	Address       Address
	Direction     Direction
	ContentType   string
	CorrelationID string
	Headers       map[string]string
	Payload       []byte
}

// HasPayload reports whether the message carries a payload.
func (m InboundMessage) HasPayload() bool {
	return len(m.Payload) > 0
}

// clone returns a deep copy so one handler cannot corrupt what another sees.
func (m InboundMessage) clone() InboundMessage {
	out := m
	if m.Payload != nil {
		out.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Headers != nil {
		out.Headers = maps.Clone(m.Headers)
	}
	return out
}

// OutboundMessage is a fully built message handed to a transport. It is
// produced by Builder.Send and never modified afterwards.
type OutboundMessage struct {
	ID            string
	Subject       string
	Address       Address
	Direction     Direction
	ContentType   string
	CorrelationID string
	Headers       map[string]string
	Payload       []byte
}

// Inbound converts the message into the form a receiving router consumes.
// Loopback transports use it to deliver without a wire format.
func (m OutboundMessage) Inbound() InboundMessage {
	return InboundMessage(m).clone()
}
