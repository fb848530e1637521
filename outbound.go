package thingmsg

import (
	"context"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender builds outbound messages and submits them to a transport.
type Sender struct {
	transport Transport
	codecs    *Codecs
	logger    *zap.Logger
	direction Direction
	closed    atomic.Bool
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the logger used to report rejected submissions.
func WithSenderLogger(l *zap.Logger) SenderOption {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSenderCodecs sets the registry used to encode typed payloads. Share
// the router's registry so both directions use the same custom codecs.
func WithSenderCodecs(c *Codecs) SenderOption {
	return func(s *Sender) {
		if c != nil {
			s.codecs = c
		}
	}
}

// WithDefaultDirection sets the direction of messages whose builder did not
// choose one. Without it such messages fail with ErrMissingDirection.
func WithDefaultDirection(d Direction) SenderOption {
	return func(s *Sender) {
		s.direction = d
	}
}

// NewSender returns a sender submitting to t.
func NewSender(t Transport, opts ...SenderOption) *Sender {
	s := &Sender{
		transport: t,
		codecs:    NewCodecs(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Message starts a message with no addressing context.
func (s *Sender) Message() Builder {
	return Builder{sender: s, sent: new(atomic.Bool)}
}

// MessageFor starts a message whose thing and feature default to addr.
func (s *Sender) MessageFor(addr Address) Builder {
	return Builder{sender: s, defaults: addr, sent: new(atomic.Bool)}
}

// Close makes every later Send fail with ErrTransportClosed. It does not
// close the transport.
func (s *Sender) Close() {
	s.closed.Store(true)
}

// Builder describes an outbound message. It is an immutable value: every
// method returns a modified copy and leaves the receiver untouched, so a
// partially built message can be shared and specialized.
//
//	base := sender.Message().From("org.acme:house-1").ContentType(thingmsg.ContentTypeText)
//	base.Subject("smoke").Payload("kitchen").Send(ctx)
//	base.Subject("heat").Payload("garage").Send(ctx)
//
// A given value sends at most once.
type Builder struct {
	sender   *Sender
	defaults Address

	addr          Address
	direction     Direction
	subject       string
	payload       any
	raw           []byte
	hasRaw        bool
	contentType   string
	headers       map[string]string
	correlationID string

	sent *atomic.Bool
}

func (b Builder) with(fn func(*Builder)) Builder {
	fn(&b)
	b.sent = new(atomic.Bool)
	return b
}

// From addresses the message as sent from thing id.
func (b Builder) From(id ThingID) Builder {
	return b.with(func(b *Builder) {
		b.addr, b.direction = ThingAddress(id), DirectionFrom
	})
}

// To addresses the message as sent to thing id.
func (b Builder) To(id ThingID) Builder {
	return b.with(func(b *Builder) {
		b.addr, b.direction = ThingAddress(id), DirectionTo
	})
}

// FromFeature addresses the message as sent from a feature of thing id.
func (b Builder) FromFeature(id ThingID, feature FeatureID) Builder {
	return b.with(func(b *Builder) {
		b.addr, b.direction = FeatureAddress(id, feature), DirectionFrom
	})
}

// ToFeature addresses the message as sent to a feature of thing id.
func (b Builder) ToFeature(id ThingID, feature FeatureID) Builder {
	return b.with(func(b *Builder) {
		b.addr, b.direction = FeatureAddress(id, feature), DirectionTo
	})
}

// Feature narrows the address to a feature of the thing already chosen, or
// of the default thing.
func (b Builder) Feature(feature FeatureID) Builder {
	return b.with(func(b *Builder) {
		b.addr.Feature = feature
	})
}

// Direction sets the direction without touching the address.
func (b Builder) Direction(d Direction) Builder {
	return b.with(func(b *Builder) {
		b.direction = d
	})
}

// Subject sets the message subject.
func (b Builder) Subject(s string) Builder {
	return b.with(func(b *Builder) {
		b.subject = s
	})
}

// Payload sets a typed payload, encoded at Send with the codec registered
// for its dynamic type.
func (b Builder) Payload(v any) Builder {
	return b.with(func(b *Builder) {
		b.payload, b.raw, b.hasRaw = v, nil, false
	})
}

// RawPayload sets payload bytes sent as they are. Without an explicit
// content type they are declared as application/octet-stream.
func (b Builder) RawPayload(p []byte) Builder {
	return b.with(func(b *Builder) {
		b.payload, b.raw, b.hasRaw = nil, append([]byte(nil), p...), true
	})
}

// ContentType sets the declared content type. For typed payloads it also
// selects among codecs registered for the payload type.
func (b Builder) ContentType(ct string) Builder {
	return b.with(func(b *Builder) {
		b.contentType = ct
	})
}

// Header sets an application header.
func (b Builder) Header(key, value string) Builder {
	return b.with(func(b *Builder) {
		h := make(map[string]string, len(b.headers)+1)
		maps.Copy(h, b.headers)
		h[key] = value
		b.headers = h
	})
}

// CorrelationID sets the correlation id. By default it equals the message id.
func (b Builder) CorrelationID(id string) Builder {
	return b.with(func(b *Builder) {
		b.correlationID = id
	})
}

// Send submits the message and returns immediately. The submission resolves
// when the transport accepts or rejects the message; ctx bounds the
// submission itself.
//
// Addressing problems resolve it with an *AddressingError, encoding and
// transport failures with a *SendError, and a second Send of the same
// value with ErrAlreadySent.
func (b Builder) Send(ctx context.Context) *Submission {
	if b.sender == nil {
		return failedSubmission(&SendError{Subject: b.subject, Err: ErrTransportClosed})
	}
	if !b.sent.CompareAndSwap(false, true) {
		return failedSubmission(ErrAlreadySent)
	}

	s := b.sender
	if s.closed.Load() {
		return failedSubmission(&SendError{Subject: b.subject, Err: ErrTransportClosed})
	}
	msg, err := b.build()
	if err != nil {
		s.logger.Debug("message not sent", zap.String("subject", b.subject), zap.Error(err))
		return failedSubmission(err)
	}

	sub := newSubmission()
	go func() {
		if err := s.transport.Submit(ctx, msg); err != nil {
			s.logger.Warn("transport rejected message",
				zap.String("subject", msg.Subject), zap.Stringer("address", msg.Address),
				zap.String("message_id", msg.ID), zap.Error(err))
			sub.resolve(Receipt{}, &SendError{Subject: msg.Subject, Err: err})
			return
		}
		sub.resolve(Receipt{
			MessageID:     msg.ID,
			CorrelationID: msg.CorrelationID,
			Subject:       msg.Subject,
			Address:       msg.Address,
			SubmittedAt:   time.Now(),
		}, nil)
	}()
	return sub
}

// build resolves defaults and encodes the payload.
func (b Builder) build() (OutboundMessage, error) {
	if b.subject == "" {
		return OutboundMessage{}, &AddressingError{Err: ErrMissingSubject}
	}

	addr := b.addr
	if addr.Thing == "" {
		addr.Thing = b.defaults.Thing
		if addr.Feature == "" {
			addr.Feature = b.defaults.Feature
		}
	}
	if addr.Thing == "" {
		return OutboundMessage{}, &AddressingError{Subject: b.subject, Err: ErrMissingAddress}
	}

	dir := b.direction
	if dir == DirectionUnset {
		dir = b.sender.direction
	}
	if dir == DirectionUnset {
		return OutboundMessage{}, &AddressingError{Subject: b.subject, Err: ErrMissingDirection}
	}

	msg := OutboundMessage{
		ID:            uuid.NewString(),
		Subject:       b.subject,
		Address:       addr,
		Direction:     dir,
		ContentType:   b.contentType,
		CorrelationID: b.correlationID,
		Headers:       maps.Clone(b.headers),
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = msg.ID
	}

	switch {
	case b.hasRaw:
		msg.Payload = b.raw
		if msg.ContentType == "" && len(msg.Payload) > 0 {
			msg.ContentType = ContentTypeBinary
		}
	case b.payload != nil:
		raw, ct, err := b.sender.codecs.Encode(b.payload, b.contentType)
		if err != nil {
			return OutboundMessage{}, &SendError{Subject: b.subject, Err: err}
		}
		msg.Payload, msg.ContentType = raw, ct
	}
	return msg, nil
}
