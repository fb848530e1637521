package thingmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEncodeEnvelope(t *testing.T) {
	t.Run("feature outbox text", func(t *testing.T) {
		raw, err := EncodeEnvelope(OutboundMessage{
			ID:            "m-1",
			Subject:       "alarm",
			Address:       FeatureAddress("org.acme:house-1", "smoke"),
			Direction:     DirectionFrom,
			ContentType:   ContentTypeText,
			CorrelationID: "c-1",
			Headers:       map[string]string{"x-origin": "test"},
			Payload:       []byte("kitchen"),
		})
		require.NoError(t, err)

		assert.JSONEq(t, `{
			"topic": "org.acme/house-1/things/live/messages/alarm",
			"headers": {
				"content-type": "text/plain",
				"correlation-id": "c-1",
				"message-id": "m-1",
				"x-origin": "test"
			},
			"path": "/features/smoke/outbox/messages/alarm",
			"value": "kitchen"
		}`, string(raw))
	})

	t.Run("thing inbox JSON is embedded", func(t *testing.T) {
		raw, err := EncodeEnvelope(OutboundMessage{
			Subject:     "arm",
			Address:     ThingAddress("org.acme:house-1"),
			Direction:   DirectionTo,
			ContentType: "application/vnd.example.user+json",
			Payload:     []byte(`{"mode": "away"}`),
		})
		require.NoError(t, err)

		doc := gjson.ParseBytes(raw)
		assert.Equal(t, "/inbox/messages/arm", doc.Get("path").String())
		assert.Equal(t, "away", doc.Get("value.mode").String())
	})

	t.Run("binary is base64", func(t *testing.T) {
		raw, err := EncodeEnvelope(OutboundMessage{
			Subject:   "blob",
			Address:   ThingAddress("plain-id"),
			Direction: DirectionFrom,
			Payload:   []byte{0xde, 0xad, 0xbe, 0xef},
		})
		require.NoError(t, err)

		doc := gjson.ParseBytes(raw)
		assert.Equal(t, "_/plain-id/things/live/messages/blob", doc.Get("topic").String())
		assert.Equal(t, "3q2+7w==", doc.Get("value").String())
	})

	t.Run("no payload omits value", func(t *testing.T) {
		raw, err := EncodeEnvelope(OutboundMessage{Subject: "s", Address: ThingAddress("t"), Direction: DirectionTo})
		require.NoError(t, err)
		assert.False(t, gjson.GetBytes(raw, "value").Exists())
	})

	t.Run("errors", func(t *testing.T) {
		tests := map[string]OutboundMessage{
			"no subject":    {Address: ThingAddress("t"), Direction: DirectionTo},
			"no thing":      {Subject: "s", Direction: DirectionTo},
			"no direction":  {Subject: "s", Address: ThingAddress("t")},
			"invalid JSON":  {Subject: "s", Address: ThingAddress("t"), Direction: DirectionTo, ContentType: ContentTypeJSON, Payload: []byte("{")},
			"invalid UTF-8": {Subject: "s", Address: ThingAddress("t"), Direction: DirectionTo, ContentType: ContentTypeText, Payload: []byte{0xff}},
		}
		for name, msg := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := EncodeEnvelope(msg)
				assert.ErrorIs(t, err, ErrInvalidEnvelope)
			})
		}
	})
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := map[string]OutboundMessage{
		"text": {
			ID: "1", Subject: "ping", Address: ThingAddress("org.acme:x"), Direction: DirectionFrom,
			ContentType: ContentTypeText, CorrelationID: "c", Payload: []byte("hello"),
		},
		"json": {
			ID: "2", Subject: "jsonMessage", Address: FeatureAddress("org.acme:x", "f"), Direction: DirectionTo,
			ContentType: ContentTypeJSON, CorrelationID: "c", Payload: []byte(`{"a":[1,2,{"b":null}]}`),
		},
		"binary": {
			ID: "3", Subject: "rawMessage", Address: ThingAddress("org.acme:x"), Direction: DirectionFrom,
			ContentType: ContentTypeBinary, CorrelationID: "c", Payload: []byte{0, 1, 2, 255},
		},
		"untyped binary": {
			ID: "4", Subject: "blob", Address: ThingAddress("no-namespace"), Direction: DirectionTo,
			CorrelationID: "c", Payload: []byte{9, 8, 7},
		},
		"no payload": {
			ID: "5", Subject: "hello", Address: FeatureAddress("org.acme:x", "f"), Direction: DirectionFrom,
			CorrelationID: "c",
		},
		"subject with slashes": {
			ID: "6", Subject: "a/b/c", Address: ThingAddress("org.acme:x"), Direction: DirectionTo,
			CorrelationID: "c", ContentType: "text/plain; charset=utf-8", Payload: []byte("ü"),
		},
	}

	for name, out := range tests {
		t.Run(name, func(t *testing.T) {
			raw, err := EncodeEnvelope(out)
			require.NoError(t, err)

			in, err := ParseEnvelope(raw)
			require.NoError(t, err)

			assert.Equal(t, out.ID, in.ID)
			assert.Equal(t, out.Subject, in.Subject)
			assert.Equal(t, out.Address, in.Address)
			assert.Equal(t, out.Direction, in.Direction)
			assert.Equal(t, out.ContentType, in.ContentType)
			assert.Equal(t, out.CorrelationID, in.CorrelationID)
			if len(out.Payload) == 0 {
				assert.Empty(t, in.Payload)
			} else {
				assert.Equal(t, out.Payload, in.Payload)
			}
		})
	}
}

func TestEncodeEnvelopeRejectsUnreadableAddresses(t *testing.T) {
	tests := map[string]Address{
		"slash in thing name":     ThingAddress("ns:a/b"),
		"slash without namespace": ThingAddress("a/b"),
		"empty namespace":         ThingAddress(":x"),
		"placeholder namespace":   ThingAddress("_:x"),
		"empty name":              ThingAddress("ns:"),
		"slash in feature":        FeatureAddress("ns:x", "smoke/kitchen"),
	}

	for name, addr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := EncodeEnvelope(OutboundMessage{
				Subject: "ping", Address: addr, Direction: DirectionFrom,
			})
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestParseEnvelopeErrors(t *testing.T) {
	tests := map[string]string{
		"not JSON":           `topic: x`,
		"missing topic":      `{"path": "/inbox/messages/s"}`,
		"missing path":       `{"topic": "ns/n/things/live/messages/s"}`,
		"twin topic":         `{"topic": "ns/n/things/twin/commands/modify", "path": "/inbox/messages/s"}`,
		"short topic":        `{"topic": "ns/n/things", "path": "/inbox/messages/s"}`,
		"relative path":      `{"topic": "ns/n/things/live/messages/s", "path": "inbox/messages/s"}`,
		"no mailbox":         `{"topic": "ns/n/things/live/messages/s", "path": "/attributes/s"}`,
		"empty feature":      `{"topic": "ns/n/things/live/messages/s", "path": "/features//inbox/messages/s"}`,
		"subject mismatch":   `{"topic": "ns/n/things/live/messages/s", "path": "/inbox/messages/t"}`,
		"text not string":    `{"topic": "ns/n/things/live/messages/s", "path": "/inbox/messages/s", "headers": {"content-type": "text/plain"}, "value": 1}`,
		"binary not base64":  `{"topic": "ns/n/things/live/messages/s", "path": "/inbox/messages/s", "value": "%%%"}`,
		"topic without name": `{"topic": "ns//things/live/messages/s", "path": "/inbox/messages/s"}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestParseEnvelopeHeaders(t *testing.T) {
	msg, err := ParseEnvelope([]byte(`{
		"topic": "org.acme/house-1/things/live/messages/s",
		"path": "/outbox/messages/s",
		"headers": {"content-type": "application/json", "timeout": 10, "response-required": false},
		"value": {"ok": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, ThingID("org.acme:house-1"), msg.Address.Thing)
	assert.Equal(t, "10", msg.Headers["timeout"])
	assert.Equal(t, "false", msg.Headers["response-required"])
	assert.Equal(t, `{"ok": true}`, string(msg.Payload))
}
