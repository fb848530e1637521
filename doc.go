// Package thingmsg routes live messages exchanged with things and their
// features to typed handlers, and sends such messages through a pluggable
// transport.
//
// A message has a subject, an address (a thing, optionally narrowed to one of
// its features), a direction (to or from that address), a content type and a
// payload. Handlers register interest by scope and subject; each receives the
// payload decoded to its own type.
//
// # Quick Start
//
//	r := thingmsg.New(thingmsg.WithLogger(logger))
//
//	thingmsg.RegisterFunc(r, "alarms", thingmsg.Global(), thingmsg.Subject("alarm"),
//	    func(ctx context.Context, m thingmsg.Message[string]) error {
//	        log.Printf("%s raised %q", m.Address, m.Payload)
//	        return nil
//	    })
//
//	rep := r.Dispatch(ctx, inbound)
//
// With a transport, Client wires the router to inbound delivery and adds a
// sender:
//
//	c := thingmsg.NewClient(transport)
//	// ... register on c.Router() ...
//	if err := c.StartConsumption(ctx); err != nil {
//	    return err
//	}
//	c.Feature("org.acme:house-1", "smoke").From().Subject("alarm").Payload("kitchen").Send(ctx)
//
// # Scopes and Subjects
//
// A registration's scope is one of:
//
//   - Global(): every message
//   - ForThing(id): messages of thing id, including those of its features
//   - ForFeature(id, f): messages of feature f of thing id only
//
// Its subject pattern is AnySubject() or an exact Subject(s). There is no
// partial globbing. Extra conditions, for example on payload fields, are
// added with WithFilter and the Matcher combinators:
//
//	thingmsg.Register(r, "critical", thingmsg.Global(), thingmsg.Subject("alarm"), h,
//	    thingmsg.WithFilter(thingmsg.And(
//	        thingmsg.ContentTypeIs(thingmsg.ContentTypeJSON),
//	        thingmsg.PayloadFieldEquals("level", "critical"),
//	    )))
//
// # Payload Types
//
// The payload is decoded once per matching registration, to that
// registration's type. Built-in codecs cover:
//
//   - string: UTF-8 text
//   - []byte: the bytes as received
//   - gjson.Result: any JSON value
//   - json.RawMessage: validated JSON
//
// Other types need a codec in the router's registry. JSONCodec, CBORCodec
// and ProtoCodec cover the common encodings; NewCodec wraps a pair of
// functions:
//
//	thingmsg.RegisterCodec[User](r.Codecs(), thingmsg.JSONCodec[User]("application/vnd.example.user+json"))
//
// A type without a codec can still be registered. Each message it matches
// is then reported as a *DeliveryError wrapping ErrUnsupportedType, and
// other registrations of the message are unaffected.
//
// # Delivery
//
// Dispatch hands the message to every matching registration. The handlers
// of one message run concurrently (bounded by WithMaxConcurrency) and each
// receives its own copy of the payload. Decode failures, handler errors and
// panics are isolated per registration, reported through hooks and the
// logger, and summarized in the returned Report. Nothing is retried and
// nothing is acknowledged to the transport.
//
// Registrations can be added and removed at any time. A removed registration
// finishes the invocations already running and receives nothing afterwards.
//
// # Hooks
//
//	r := thingmsg.New(
//	    thingmsg.WithOnSuccess(func(ctx context.Context, key, subject string, d time.Duration) {
//	        metrics.Timing("thingmsg.success", d, "key:"+key)
//	    }),
//	    thingmsg.WithOnDeliveryError(func(ctx context.Context, key, subject string, err error) {
//	        metrics.Incr("thingmsg.undecodable", "key:"+key)
//	    }),
//	)
//
// Available hooks:
//   - WithOnReceive: before matching, enriches context
//   - WithOnDispatch: before each handler
//   - WithOnSuccess: after a handler returns nil
//   - WithOnFailure: after a handler fails or panics
//   - WithOnDeliveryError: when a payload cannot be decoded for a registration
//   - WithOnUnmatched: when no registration matches
//   - WithOnInvalidEnvelope: when Process cannot parse its input
//
// The promhooks package turns these into Prometheus metrics.
//
// # Sending
//
// Builder values are immutable, so a partly built message can be reused as
// a template. Send returns a Submission that resolves when the transport
// accepts the message:
//
//	sub := c.Message().To("org.acme:house-1").Subject("arm").Send(ctx)
//	if _, err := sub.Await(5 * time.Second); err != nil {
//	    return err
//	}
//
// # Waiting for Deliveries
//
// A Coordinator attached with WithCompletion counts successful deliveries.
// Await blocks until a threshold is reached or a deadline passes; running
// out of time is an Outcome, not an error.
//
// # Wire Format
//
// Transports that need bytes use EncodeEnvelope and ParseEnvelope, a JSON
// envelope shaped like a Ditto protocol live message. Router.Process
// dispatches such an envelope directly.
package thingmsg
