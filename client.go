package thingmsg

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Client ties a Router and a Sender to one Transport. The router is the
// transport's only consumer.
//
//	c := thingmsg.NewClient(transport, thingmsg.WithClientLogger(logger))
//	thingmsg.RegisterFunc(c.Router(), "alarms", thingmsg.Global(), thingmsg.Subject("alarm"), onAlarm)
//	if err := c.StartConsumption(ctx); err != nil {
//	    return err
//	}
//	c.Thing("org.acme:house-1").From().Subject("alarm").Payload("smoke").Send(ctx)
type Client struct {
	transport Transport
	router    *Router
	sender    *Sender
	logger    *zap.Logger
	consuming atomic.Bool
}

type clientConfig struct {
	logger     *zap.Logger
	router     *Router
	routerOpts []Option
	senderOpts []SenderOption
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithClientLogger sets the logger of the client and, unless they are
// given their own, of its router and sender.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRouter uses r instead of a router built from WithRouterOptions.
func WithRouter(r *Router) ClientOption {
	return func(c *clientConfig) {
		c.router = r
	}
}

// WithRouterOptions passes options to the router the client builds.
func WithRouterOptions(opts ...Option) ClientOption {
	return func(c *clientConfig) {
		c.routerOpts = append(c.routerOpts, opts...)
	}
}

// WithSenderOptions passes options to the client's sender.
func WithSenderOptions(opts ...SenderOption) ClientOption {
	return func(c *clientConfig) {
		c.senderOpts = append(c.senderOpts, opts...)
	}
}

// NewClient returns a client over t. Consumption does not start until
// StartConsumption is called, so handlers can be registered first.
func NewClient(t Transport, opts ...ClientOption) *Client {
	cfg := clientConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	router := cfg.router
	if router == nil {
		router = New(append([]Option{WithLogger(cfg.logger)}, cfg.routerOpts...)...)
	}
	senderOpts := append([]SenderOption{
		WithSenderLogger(cfg.logger),
		WithSenderCodecs(router.Codecs()),
	}, cfg.senderOpts...)

	c := &Client{
		transport: t,
		router:    router,
		sender:    NewSender(t, senderOpts...),
		logger:    cfg.logger,
	}
	t.OnMessage(func(ctx context.Context, msg InboundMessage) {
		c.router.Dispatch(ctx, msg)
	})
	return c
}

// Router returns the router handling inbound messages.
func (c *Client) Router() *Router { return c.router }

// Sender returns the client's sender.
func (c *Client) Sender() *Sender { return c.sender }

// Message starts an outbound message with no addressing context.
func (c *Client) Message() Builder { return c.sender.Message() }

// Thing returns a handle scoped to thing id.
func (c *Client) Thing(id ThingID) Handle {
	return Handle{client: c, addr: ThingAddress(id)}
}

// Feature returns a handle scoped to a feature of thing id.
func (c *Client) Feature(id ThingID, feature FeatureID) Handle {
	return Handle{client: c, addr: FeatureAddress(id, feature)}
}

// StartConsumption starts delivering inbound messages to the router. It may
// be called once; later calls return ErrAlreadyConsuming.
func (c *Client) StartConsumption(ctx context.Context) error {
	if !c.consuming.CompareAndSwap(false, true) {
		return ErrAlreadyConsuming
	}
	if err := c.transport.StartConsumption(ctx); err != nil {
		c.consuming.Store(false)
		return err
	}
	c.logger.Info("consuming messages", zap.Int("registrations", c.router.Table().Len()))
	return nil
}

// Close stops sending and closes the transport.
func (c *Client) Close(ctx context.Context) error {
	c.sender.Close()
	return c.transport.Close(ctx)
}

// Handle is a thing or feature seen through a client. Messages it builds
// default to its address, and Scope gives registrations limited to it.
//
//	house := c.Thing("org.acme:house-1")
//	thingmsg.RegisterFunc(c.Router(), "house-events", house.Scope(), thingmsg.AnySubject(), onEvent)
//	house.To().Subject("arm").Send(ctx)
type Handle struct {
	client *Client
	addr   Address
}

// Address returns the handle's address.
func (h Handle) Address() Address { return h.addr }

// Scope returns the registration scope covering the handle's address.
func (h Handle) Scope() Scope {
	if h.addr.Feature != "" {
		return ForFeature(h.addr.Thing, h.addr.Feature)
	}
	return ForThing(h.addr.Thing)
}

// Message starts a message addressed to the handle, without a direction.
func (h Handle) Message() Builder {
	return h.client.sender.MessageFor(h.addr)
}

// From starts a message sent from the handle's address.
func (h Handle) From() Builder {
	return h.Message().Direction(DirectionFrom)
}

// To starts a message sent to the handle's address.
func (h Handle) To() Builder {
	return h.Message().Direction(DirectionTo)
}
