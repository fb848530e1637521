package thingmsg

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON is returned when a payload that must be JSON is not.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrInvalidCBOR is returned when a payload declared as CBOR is not.
	ErrInvalidCBOR = errors.New("invalid CBOR")
)

// Inspector gives field access to a raw payload without decoding it into a
// registration's type. Payload filters and the envelope parser use it.
type Inspector interface {
	Inspect(raw []byte) (View, error)
}

// View answers field queries on an inspected payload. Paths use gjson
// syntax: "level", "room.name", "sensors.0.id".
type View interface {
	HasField(path string) bool

	// GetString returns the string at path; false when missing or not a string.
	GetString(path string) (string, bool)

	// GetBytes returns the value at path in its JSON form, quotes included
	// for strings.
	GetBytes(path string) ([]byte, bool)

	// Get returns the node at path; Exists() is false when missing.
	Get(path string) gjson.Result
}

// JSONInspector returns an Inspector for JSON payloads.
func JSONInspector() Inspector {
	return jsonInspector{}
}

// CBORInspector returns an Inspector for CBOR payloads. Maps must have text
// keys; the payload is viewed through its JSON equivalent.
func CBORInspector() Inspector {
	return cborInspector{}
}

// InspectorFor picks the inspector for a declared content type: JSON for
// application/json, "+json" types and undeclared payloads, CBOR for
// application/cbor and "+cbor" types. Other types cannot be inspected.
func InspectorFor(contentType string) (Inspector, bool) {
	mt := mediaType(contentType)
	switch {
	case mt == "", mt == ContentTypeJSON, strings.HasSuffix(mt, "+json"):
		return jsonInspector{}, true
	case mt == ContentTypeCBOR, strings.HasSuffix(mt, "+cbor"):
		return cborInspector{}, true
	default:
		return nil, false
	}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(raw []byte) (View, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{root: gjson.ParseBytes(raw)}, nil
}

var cborDecoder, _ = cbor.DecOptions{
	DefaultMapType: reflect.TypeFor[map[string]any](),
}.DecMode()

type cborInspector struct{}

func (cborInspector) Inspect(raw []byte) (View, error) {
	var v any
	if err := cborDecoder.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCBOR, err)
	}
	asJSON, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCBOR, err)
	}
	return jsonView{root: gjson.ParseBytes(asJSON)}, nil
}

type jsonView struct {
	root gjson.Result
}

func (v jsonView) Get(path string) gjson.Result {
	return v.root.Get(path)
}

func (v jsonView) HasField(path string) bool {
	return v.Get(path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	if r := v.Get(path); r.Type == gjson.String {
		return r.Str, true
	}
	return "", false
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := v.Get(path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}
