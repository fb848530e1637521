package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/bjaus/thingmsg"
)

// Registration keys.
const (
	allThingsJSONMessage   = "allThings_jsonMessage"
	allThingsRawMessage    = "allThings_rawMessage"
	allThingsStringMessage = "allThings_stringMessage"
	myThingJSONMessage     = "myThing_jsonMessage"
	myThingRawMessage      = "myThing_rawMessage"
	myThingStringMessage   = "myThing_stringMessage"
	exampleUserMessage     = "customCodec_exampleUserMessage"
)

const userContentType = "application/vnd.example.user+json"

const sendTimeout = 5 * time.Second

type exampleUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// demo registers handlers on one client and sends from another, so every
// message crosses the transport.
type demo struct {
	receiver *thingmsg.Client
	sender   *thingmsg.Client
	logger   *zap.Logger

	fromThing thingmsg.ThingID
	toThing   thingmsg.ThingID
}

func newDemo(namespace string, receiver, sender *thingmsg.Client, logger *zap.Logger) *demo {
	return &demo{
		receiver:  receiver,
		sender:    sender,
		logger:    logger,
		fromThing: thingmsg.ThingID(namespace + ":fromThingId_" + uuid.NewString()),
		toThing:   thingmsg.ThingID(namespace + ":toThingId_" + uuid.NewString()),
	}
}

func (d *demo) register() error {
	r := d.receiver.Router()
	if err := thingmsg.RegisterCodec[exampleUser](r.Codecs(), thingmsg.JSONCodec[exampleUser](userContentType)); err != nil {
		return err
	}
	// the sender encodes with its own registry
	if err := thingmsg.RegisterCodec[exampleUser](d.sender.Router().Codecs(), thingmsg.JSONCodec[exampleUser](userContentType)); err != nil {
		return err
	}

	from := d.receiver.Thing(d.fromThing)

	var errs []error
	add := func(_ thingmsg.RegistrationID, err error) {
		errs = append(errs, err)
	}

	add(thingmsg.RegisterFunc(r, allThingsStringMessage, thingmsg.Global(), thingmsg.AnySubject(),
		func(_ context.Context, m thingmsg.Message[string]) error {
			d.logger.Info("match all string messages",
				zap.String("subject", m.Subject), zap.Stringer("address", m.Address), zap.String("payload", m.Payload))
			return nil
		}))
	add(thingmsg.RegisterFunc(r, allThingsJSONMessage, thingmsg.Global(), thingmsg.Subject("jsonMessage"),
		func(_ context.Context, m thingmsg.Message[gjson.Result]) error {
			d.logger.Info("match json message",
				zap.String("subject", m.Subject), zap.String("action", m.Payload.Get("action").String()))
			return nil
		}))
	add(thingmsg.RegisterRaw(r, allThingsRawMessage, thingmsg.Global(), thingmsg.Subject("rawMessage"),
		func(_ context.Context, m thingmsg.Message[[]byte]) error {
			d.logger.Info("match raw message",
				zap.String("subject", m.Subject), zap.ByteString("payload", m.Payload))
			return nil
		}))

	add(thingmsg.RegisterFunc(r, myThingStringMessage, from.Scope(), thingmsg.AnySubject(),
		func(_ context.Context, m thingmsg.Message[string]) error {
			d.logger.Info("match all string messages for fromThing",
				zap.String("subject", m.Subject), zap.Stringer("address", m.Address), zap.String("payload", m.Payload))
			return nil
		}))
	add(thingmsg.RegisterFunc(r, myThingJSONMessage, from.Scope(), thingmsg.Subject("jsonMessage"),
		func(_ context.Context, m thingmsg.Message[gjson.Result]) error {
			d.logger.Info("match json messages for fromThing",
				zap.String("subject", m.Subject), zap.String("payload", m.Payload.Raw))
			return nil
		}))
	add(thingmsg.RegisterRaw(r, myThingRawMessage, from.Scope(), thingmsg.Subject("rawMessage"),
		func(_ context.Context, m thingmsg.Message[[]byte]) error {
			d.logger.Info("match raw messages for fromThing",
				zap.String("subject", m.Subject), zap.ByteString("payload", m.Payload))
			return nil
		}))

	add(thingmsg.RegisterFunc(r, exampleUserMessage, thingmsg.Global(), thingmsg.Subject("example.user.created"),
		func(_ context.Context, m thingmsg.Message[exampleUser]) error {
			d.logger.Info("match custom message",
				zap.String("subject", m.Subject), zap.String("user", m.Payload.Name), zap.String("email", m.Payload.Email))
			return nil
		}))

	return errors.Join(errs...)
}

// send emits the example messages and waits until the transport accepted
// each of them.
func (d *demo) send(ctx context.Context) error {
	c := d.sender
	subs := []*thingmsg.Submission{
		// from a thing, no payload
		c.Message().From(d.fromThing).Subject("some.arbitrary.subject").Send(ctx),

		// from a feature, no payload
		c.Message().FromFeature(d.fromThing, "sendFromThisFeature").Subject("justWantToLetYouKnow").Send(ctx),

		// to another thing, text payload
		c.Message().To(d.toThing).Subject("monitoring.building.fireAlert").
			Payload("Roof is on fire").ContentType(thingmsg.ContentTypeText).Send(ctx),

		// from a feature, JSON payload
		c.Message().FromFeature(d.toThing, "smokeDetector").Subject("jsonMessage").
			RawPayload([]byte(`{"action":"call fire department"}`)).ContentType(thingmsg.ContentTypeJSON).Send(ctx),

		// from a feature, binary payload
		c.Message().FromFeature(d.fromThing, "smokeDetector").Subject("rawMessage").
			RawPayload([]byte("foo")).ContentType(thingmsg.ContentTypeBinary).Send(ctx),

		// to a thing through its handle
		c.Thing(d.toThing).To().Subject("somesubject").Send(ctx),

		// from a feature through its handle
		c.Feature(d.fromThing, "smokeDetector").From().Subject("somesubject").
			Payload("someContent").ContentType(thingmsg.ContentTypeText).Send(ctx),

		// custom payload type
		c.Message().From(d.fromThing).Subject("example.user.created").
			Payload(exampleUser{Name: "karl", Email: "karl@example.com"}).ContentType(userContentType).Send(ctx),
	}

	var errs []error
	for _, sub := range subs {
		r, err := sub.Await(sendTimeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.logger.Debug("message sent", zap.String("subject", r.Subject), zap.String("message_id", r.MessageID))
	}
	return errors.Join(errs...)
}
