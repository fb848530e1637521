package thingmsg

import (
	"errors"
	"fmt"
)

// Registration errors.
var (
	ErrDuplicateKey        = errors.New("registration key already in use")
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Delivery errors. They are reported per registration and never abort
// delivery to other registrations.
var (
	ErrUnsupportedType = errors.New("no codec for payload type")
	ErrDecode          = errors.New("payload decode failed")
	ErrHandlerPanic    = errors.New("handler panicked")
)

// Outbound errors.
var (
	ErrMissingSubject   = errors.New("message subject is required")
	ErrMissingAddress   = errors.New("message thing id is required")
	ErrMissingDirection = errors.New("message direction is required")
	ErrAlreadySent      = errors.New("message already sent")
	ErrSendFailed       = errors.New("message send failed")
	ErrSendTimeout      = errors.New("timed out waiting for send acknowledgement")
	ErrTransportClosed  = errors.New("transport closed")
)

// Transport and client errors.
var (
	ErrInvalidEnvelope  = errors.New("invalid message envelope")
	ErrAlreadyConsuming = errors.New("consumption already started")
)

// RegistrationError is returned by Register when a registration is rejected.
type RegistrationError struct {
	Key string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %q: %v", e.Key, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// DeliveryError reports that a payload could not be decoded for one
// registration. Err wraps ErrUnsupportedType or ErrDecode.
type DeliveryError struct {
	Key     string
	Subject string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %q to %q: %v", e.Subject, e.Key, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HandlerError reports that a handler returned an error or panicked.
type HandlerError struct {
	Key     string
	Subject string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q for %q: %v", e.Key, e.Subject, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// AddressingError reports an outbound message that cannot be addressed.
type AddressingError struct {
	Subject string
	Err     error
}

func (e *AddressingError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("address message: %v", e.Err)
	}
	return fmt.Sprintf("address message %q: %v", e.Subject, e.Err)
}

func (e *AddressingError) Unwrap() error { return e.Err }

// SendError reports an outbound message the transport did not accept, or
// whose payload could not be encoded.
type SendError struct {
	Subject string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %q: %v", e.Subject, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSendFailed) match every SendError.
func (e *SendError) Is(target error) bool { return target == ErrSendFailed }

// decodeError marks codec failures so the router can tell them apart from
// handler failures.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }
