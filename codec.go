package thingmsg

import (
	"encoding/json"
	"fmt"
	"mime"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Content types of the built-in codecs.
const (
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
	ContentTypeJSON   = "application/json"
)

// Default content types of CBORCodec and ProtoCodec.
const (
	ContentTypeCBOR     = "application/cbor"
	ContentTypeProtobuf = "application/x-protobuf"
)

// TypeTag identifies the payload type a registration wants. It is computed
// once with TypeOf when the registration is made.
type TypeTag struct {
	t reflect.Type
}

// TypeOf returns the tag of T.
func TypeOf[T any]() TypeTag {
	return TypeTag{t: reflect.TypeFor[T]()}
}

func (t TypeTag) String() string {
	if t.t == nil {
		return "<nil>"
	}
	return t.t.String()
}

// Codec converts between raw payload bytes and values of one type.
// Implementations must be safe for concurrent use.
type Codec interface {
	// ContentType returns the MIME type written by Encode.
	ContentType() string

	// Encode serializes v, which has the codec's type.
	Encode(v any) ([]byte, error)

	// Decode deserializes raw into a value of the codec's type. contentType
	// is the type the sender declared, possibly empty.
	Decode(raw []byte, contentType string) (any, error)
}

// NewCodec builds a Codec for T from a pair of functions.
//
// Example:
//
//	csv := thingmsg.NewCodec("text/csv",
//	    func(r Row) ([]byte, error) { return r.MarshalCSV() },
//	    func(raw []byte) (Row, error) { return ParseRow(raw) },
//	)
func NewCodec[T any](contentType string, encode func(T) ([]byte, error), decode func([]byte) (T, error)) Codec {
	return codecFunc[T]{contentType: contentType, encode: encode, decode: decode}
}

type codecFunc[T any] struct {
	contentType string
	encode      func(T) ([]byte, error)
	decode      func([]byte) (T, error)
}

func (c codecFunc[T]) ContentType() string { return c.contentType }

func (c codecFunc[T]) Encode(v any) ([]byte, error) {
	typed, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("codec %s: cannot encode %T", c.contentType, v)
	}
	return c.encode(typed)
}

func (c codecFunc[T]) Decode(raw []byte, _ string) (any, error) {
	return c.decode(raw)
}

// Codecs maps payload types to codecs.
//
// Resolution for a type and a declared content type:
//  1. a custom codec registered for the type with that content type
//  2. the first custom codec registered for the type
//  3. the built-in codec for the type
//
// Anything else fails with ErrUnsupportedType. Built-ins exist for string
// (UTF-8 text), []byte (no transformation), gjson.Result and json.RawMessage
// (JSON values).
type Codecs struct {
	mu      sync.RWMutex
	custom  map[reflect.Type][]Codec
	builtin map[reflect.Type]Codec
}

// NewCodecs returns a registry holding only the built-in codecs.
func NewCodecs() *Codecs {
	return &Codecs{
		custom: make(map[reflect.Type][]Codec),
		builtin: map[reflect.Type]Codec{
			reflect.TypeFor[string]():          textCodec(),
			reflect.TypeFor[[]byte]():          bytesCodec(),
			reflect.TypeFor[gjson.Result]():    jsonNodeCodec(),
			reflect.TypeFor[json.RawMessage](): rawJSONCodec(),
		},
	}
}

// Register adds a custom codec for the tagged type. A codec already
// registered for the same type and content type is replaced.
func (c *Codecs) Register(tag TypeTag, codec Codec) error {
	if tag.t == nil {
		return fmt.Errorf("%w: codec for nil type", ErrInvalidRegistration)
	}
	if codec == nil {
		return fmt.Errorf("%w: nil codec for %s", ErrInvalidRegistration, tag)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ct := mediaType(codec.ContentType())
	list := c.custom[tag.t]
	for i, existing := range list {
		if mediaType(existing.ContentType()) == ct {
			list[i] = codec
			return nil
		}
	}
	c.custom[tag.t] = append(list, codec)
	return nil
}

// RegisterCodec registers codec for T.
//
//	thingmsg.RegisterCodec[User](r.Codecs(), thingmsg.JSONCodec[User]("application/vnd.example.user+json"))
func RegisterCodec[T any](c *Codecs, codec Codec) error {
	return c.Register(TypeOf[T](), codec)
}

// Resolve returns the codec used for the tagged type when the payload was
// declared with contentType.
func (c *Codecs) Resolve(tag TypeTag, contentType string) (Codec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if list := c.custom[tag.t]; len(list) > 0 {
		ct := mediaType(contentType)
		for _, codec := range list {
			if mediaType(codec.ContentType()) == ct {
				return codec, nil
			}
		}
		return list[0], nil
	}
	if codec, ok := c.builtin[tag.t]; ok {
		return codec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, tag)
}

// Decode decodes raw into a value of the tagged type.
func (c *Codecs) Decode(raw []byte, contentType string, tag TypeTag) (any, error) {
	codec, err := c.Resolve(tag, contentType)
	if err != nil {
		return nil, err
	}
	v, err := safeDecode(codec, raw, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s as %s: %w", ErrDecode, contentType, tag, err)
	}
	return v, nil
}

// safeDecode runs a codec, turning a panic into an error so a broken codec
// is reported as a delivery failure and not as a handler failure.
func safeDecode(codec Codec, raw []byte, contentType string) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("codec panicked: %v", rec)
		}
	}()
	return codec.Decode(raw, contentType)
}

// Encode serializes v with the codec resolved for its dynamic type and the
// requested content type, and returns the payload with the content type to
// declare. An explicit contentType is returned as given, parameters included.
func (c *Codecs) Encode(v any, contentType string) ([]byte, string, error) {
	if v == nil {
		return nil, "", fmt.Errorf("%w: nil payload", ErrUnsupportedType)
	}
	codec, err := c.Resolve(TypeTag{t: reflect.TypeOf(v)}, contentType)
	if err != nil {
		return nil, "", err
	}
	raw, err := codec.Encode(v)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = codec.ContentType()
	}
	return raw, contentType, nil
}

// mediaType strips parameters and normalizes case: "Text/Plain; charset=utf-8"
// becomes "text/plain".
func mediaType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func textCodec() Codec {
	return NewCodec(ContentTypeText,
		func(s string) ([]byte, error) { return []byte(s), nil },
		func(raw []byte) (string, error) {
			if !utf8.Valid(raw) {
				return "", fmt.Errorf("payload is not valid UTF-8")
			}
			return string(raw), nil
		},
	)
}

func bytesCodec() Codec {
	return NewCodec(ContentTypeBinary,
		func(b []byte) ([]byte, error) { return b, nil },
		func(raw []byte) ([]byte, error) { return raw, nil },
	)
}

func jsonNodeCodec() Codec {
	return NewCodec(ContentTypeJSON,
		func(r gjson.Result) ([]byte, error) {
			if r.Raw == "" || !gjson.Valid(r.Raw) {
				return nil, ErrInvalidJSON
			}
			return []byte(r.Raw), nil
		},
		func(raw []byte) (gjson.Result, error) {
			if !gjson.ValidBytes(raw) {
				return gjson.Result{}, ErrInvalidJSON
			}
			return gjson.ParseBytes(raw), nil
		},
	)
}

func rawJSONCodec() Codec {
	return NewCodec(ContentTypeJSON,
		func(m json.RawMessage) ([]byte, error) {
			if !gjson.ValidBytes(m) {
				return nil, ErrInvalidJSON
			}
			return m, nil
		},
		func(raw []byte) (json.RawMessage, error) {
			if !gjson.ValidBytes(raw) {
				return nil, ErrInvalidJSON
			}
			return json.RawMessage(raw), nil
		},
	)
}
