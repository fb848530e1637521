package thingmsg

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Envelope header names.
const (
	HeaderContentType   = "content-type"
	HeaderCorrelationID = "correlation-id"
	HeaderMessageID     = "message-id"
)

// placeholderNamespace is used in topics for thing ids without a namespace.
const placeholderNamespace = "_"

// envelope is the JSON document exchanged on the wire, in the shape of a
// Ditto protocol live message:
//
//	{
//	  "topic": "org.acme/house-1/things/live/messages/alarm",
//	  "headers": {"content-type": "text/plain", "correlation-id": "..."},
//	  "path": "/features/smoke/outbox/messages/alarm",
//	  "value": "fire in the kitchen"
//	}
type envelope struct {
	Topic   string            `json:"topic"`
	Headers map[string]string `json:"headers,omitempty"`
	Path    string            `json:"path"`
	Value   json.RawMessage   `json:"value,omitempty"`
}

// EncodeEnvelope renders msg as a wire envelope. JSON payloads are embedded
// as JSON, text payloads as a JSON string, anything else as a base64 string.
func EncodeEnvelope(msg OutboundMessage) ([]byte, error) {
	if msg.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, ErrMissingSubject)
	}
	if msg.Address.Thing == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, ErrMissingAddress)
	}
	if err := checkWireAddress(msg.Address); err != nil {
		return nil, err
	}
	box, err := mailbox(msg.Direction)
	if err != nil {
		return nil, err
	}

	env := envelope{
		Topic:   topicFor(msg.Address.Thing, msg.Subject),
		Headers: make(map[string]string, len(msg.Headers)+3),
	}
	if msg.Address.Feature != "" {
		env.Path = "/features/" + string(msg.Address.Feature) + "/" + box + "/messages/" + msg.Subject
	} else {
		env.Path = "/" + box + "/messages/" + msg.Subject
	}

	for k, v := range msg.Headers {
		env.Headers[k] = v
	}
	if msg.ContentType != "" {
		env.Headers[HeaderContentType] = msg.ContentType
	}
	if msg.CorrelationID != "" {
		env.Headers[HeaderCorrelationID] = msg.CorrelationID
	}
	if msg.ID != "" {
		env.Headers[HeaderMessageID] = msg.ID
	}

	if len(msg.Payload) > 0 {
		env.Value, err = encodeValue(msg.Payload, msg.ContentType)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(env)
}

// ParseEnvelope reads a wire envelope produced by EncodeEnvelope (or by any
// peer speaking the same format). Failures wrap ErrInvalidEnvelope.
func ParseEnvelope(raw []byte) (InboundMessage, error) {
	view, err := JSONInspector().Inspect(raw)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	topic, okTopic := view.GetString("topic")
	path, okPath := view.GetString("path")
	if !okTopic || !okPath {
		return InboundMessage{}, fmt.Errorf("%w: topic and path are required", ErrInvalidEnvelope)
	}

	thing, subject, err := parseTopic(topic)
	if err != nil {
		return InboundMessage{}, err
	}
	feature, dir, pathSubject, err := parsePath(path)
	if err != nil {
		return InboundMessage{}, err
	}
	if pathSubject != subject {
		return InboundMessage{}, fmt.Errorf("%w: topic subject %q does not match path subject %q",
			ErrInvalidEnvelope, subject, pathSubject)
	}

	msg := InboundMessage{
		Subject:   subject,
		Address:   Address{Thing: thing, Feature: feature},
		Direction: dir,
	}
	if h := view.Get("headers"); h.IsObject() {
		msg.Headers = make(map[string]string)
		h.ForEach(func(k, v gjson.Result) bool {
			if v.Type == gjson.String {
				msg.Headers[k.Str] = v.Str
			} else {
				msg.Headers[k.Str] = v.Raw
			}
			return true
		})
		msg.ContentType = msg.Headers[HeaderContentType]
		msg.CorrelationID = msg.Headers[HeaderCorrelationID]
		msg.ID = msg.Headers[HeaderMessageID]
	}

	if v := view.Get("value"); v.Exists() {
		msg.Payload, err = decodeValue(v, msg.ContentType)
		if err != nil {
			return InboundMessage{}, err
		}
	}
	return msg, nil
}

func mailbox(d Direction) (string, error) {
	switch d {
	case DirectionTo:
		return "inbox", nil
	case DirectionFrom:
		return "outbox", nil
	default:
		return "", fmt.Errorf("%w: %w", ErrInvalidEnvelope, ErrMissingDirection)
	}
}

// topicFor splits "namespace:name" thing ids into the first two topic
// segments.
func topicFor(thing ThingID, subject string) string {
	ns, name, ok := strings.Cut(string(thing), ":")
	if !ok {
		ns, name = placeholderNamespace, string(thing)
	}
	return ns + "/" + name + "/things/live/messages/" + subject
}

// checkWireAddress rejects ids that would not read back unchanged from a
// topic and path.
func checkWireAddress(addr Address) error {
	thing := string(addr.Thing)
	if strings.Contains(thing, "/") {
		return fmt.Errorf("%w: thing id %q contains '/'", ErrInvalidEnvelope, thing)
	}
	if ns, name, ok := strings.Cut(thing, ":"); ok {
		switch {
		case ns == "" || ns == placeholderNamespace:
			return fmt.Errorf("%w: thing id %q has no namespace", ErrInvalidEnvelope, thing)
		case name == "":
			return fmt.Errorf("%w: thing id %q has no name", ErrInvalidEnvelope, thing)
		}
	}
	if strings.Contains(string(addr.Feature), "/") {
		return fmt.Errorf("%w: feature id %q contains '/'", ErrInvalidEnvelope, addr.Feature)
	}
	return nil
}

func parseTopic(topic string) (ThingID, string, error) {
	parts := strings.SplitN(topic, "/", 6)
	if len(parts) != 6 || parts[2] != "things" || parts[3] != "live" || parts[4] != "messages" {
		return "", "", fmt.Errorf("%w: unsupported topic %q", ErrInvalidEnvelope, topic)
	}
	if parts[1] == "" || parts[5] == "" {
		return "", "", fmt.Errorf("%w: incomplete topic %q", ErrInvalidEnvelope, topic)
	}
	thing := ThingID(parts[1])
	if parts[0] != placeholderNamespace && parts[0] != "" {
		thing = ThingID(parts[0] + ":" + parts[1])
	}
	return thing, parts[5], nil
}

func parsePath(path string) (FeatureID, Direction, string, error) {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return "", DirectionUnset, "", fmt.Errorf("%w: path %q is not absolute", ErrInvalidEnvelope, path)
	}

	var feature FeatureID
	if after, ok := strings.CutPrefix(rest, "features/"); ok {
		f, tail, found := strings.Cut(after, "/")
		if !found || f == "" {
			return "", DirectionUnset, "", fmt.Errorf("%w: malformed feature path %q", ErrInvalidEnvelope, path)
		}
		feature, rest = FeatureID(f), tail
	}

	box, tail, _ := strings.Cut(rest, "/")
	var dir Direction
	switch box {
	case "inbox":
		dir = DirectionTo
	case "outbox":
		dir = DirectionFrom
	default:
		return "", DirectionUnset, "", fmt.Errorf("%w: path %q has no inbox or outbox", ErrInvalidEnvelope, path)
	}

	subject, ok := strings.CutPrefix(tail, "messages/")
	if !ok || subject == "" {
		return "", DirectionUnset, "", fmt.Errorf("%w: path %q has no message subject", ErrInvalidEnvelope, path)
	}
	return feature, dir, subject, nil
}

func isJSONContent(ct string) bool {
	mt := mediaType(ct)
	return mt == ContentTypeJSON || strings.HasSuffix(mt, "+json")
}

func isTextContent(ct string) bool {
	return strings.HasPrefix(mediaType(ct), "text/")
}

func encodeValue(payload []byte, contentType string) (json.RawMessage, error) {
	switch {
	case isJSONContent(contentType):
		if !gjson.ValidBytes(payload) {
			return nil, fmt.Errorf("%w: payload declared %s is not valid JSON", ErrInvalidEnvelope, contentType)
		}
		return json.RawMessage(payload), nil
	case isTextContent(contentType):
		if !utf8.Valid(payload) {
			return nil, fmt.Errorf("%w: payload declared %s is not valid UTF-8", ErrInvalidEnvelope, contentType)
		}
		return json.Marshal(string(payload))
	default:
		return json.Marshal(base64.StdEncoding.EncodeToString(payload))
	}
}

func decodeValue(v gjson.Result, contentType string) ([]byte, error) {
	switch {
	case isJSONContent(contentType):
		return []byte(v.Raw), nil
	case v.Type != gjson.String:
		return nil, fmt.Errorf("%w: %s value must be a string", ErrInvalidEnvelope, contentTypeOrNone(contentType))
	case isTextContent(contentType):
		return []byte(v.Str), nil
	default:
		b, err := base64.StdEncoding.DecodeString(v.Str)
		if err != nil {
			return nil, fmt.Errorf("%w: binary value: %w", ErrInvalidEnvelope, err)
		}
		return b, nil
	}
}

func contentTypeOrNone(ct string) string {
	if ct == "" {
		return "untyped"
	}
	return ct
}
