package thingmsg

import (
	"encoding/json"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
)

// JSONCodec returns a codec serializing T as JSON under contentType.
// Use it for application types sent with a vendor content type, e.g.
// "application/vnd.example.user+json".
func JSONCodec[T any](contentType string) Codec {
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	return NewCodec(contentType,
		func(v T) ([]byte, error) { return json.Marshal(v) },
		func(raw []byte) (T, error) {
			var v T
			err := json.Unmarshal(raw, &v)
			return v, err
		},
	)
}

// CBORCodec returns a deterministic CBOR codec (RFC 8949, canonical
// encoding) for T. contentType defaults to "application/cbor".
func CBORCodec[T any](contentType string) (Codec, error) {
	if contentType == "" {
		contentType = ContentTypeCBOR
	}
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return NewCodec(contentType,
		func(v T) ([]byte, error) { return em.Marshal(v) },
		func(raw []byte) (T, error) {
			var v T
			err := dm.Unmarshal(raw, &v)
			return v, err
		},
	), nil
}

// ProtoCodec returns a Protocol Buffers codec with deterministic marshaling
// for the message type T, e.g. *structpb.Struct. contentType defaults to
// "application/x-protobuf".
func ProtoCodec[T proto.Message](contentType string) Codec {
	if contentType == "" {
		contentType = ContentTypeProtobuf
	}
	mo := proto.MarshalOptions{Deterministic: true}
	return NewCodec(contentType,
		func(v T) ([]byte, error) { return mo.Marshal(v) },
		func(raw []byte) (T, error) {
			var zero T
			msg, _ := zero.ProtoReflect().New().Interface().(T)
			if err := proto.Unmarshal(raw, msg); err != nil {
				return zero, err
			}
			return msg, nil
		},
	)
}
