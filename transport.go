package thingmsg

import "context"

// Transport moves messages between processes. The router and sender only
// see it through this interface; the mem and natsbus packages provide
// implementations.
type Transport interface {
	// OnMessage sets the single consumer of delivered messages. It must be
	// called before StartConsumption.
	OnMessage(fn func(ctx context.Context, msg InboundMessage))

	// Submit hands msg over for delivery. It returns once the transport has
	// accepted the message, not when a recipient has processed it.
	Submit(ctx context.Context, msg OutboundMessage) error

	// StartConsumption begins delivering inbound messages to the consumer.
	// Registrations made before it returns see every message sent after it.
	StartConsumption(ctx context.Context) error

	// Close stops consumption and releases the transport.
	Close(ctx context.Context) error
}
