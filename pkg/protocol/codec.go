package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec names accepted in the ?encoding= query parameter.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Codec converts frames to and from their wire form. Frames are defined
// with JSON tags; binary codecs transcode through the same logical object,
// so a frame decodes identically whatever the encoding.
type Codec interface {
	Name() string
	// Binary reports whether frames travel as binary WebSocket messages.
	Binary() bool
	Marshal(frame any) ([]byte, error)
	// ToJSON converts one wire message into canonical JSON.
	ToJSON(data []byte) ([]byte, error)
}

// CodecFor returns the codec for an encoding name; "" selects JSON.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", EncodingJSON:
		return JSONCodec{}, nil
	case EncodingCBOR:
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// JSONCodec is the default text codec.
type JSONCodec struct{}

func (JSONCodec) Name() string { return EncodingJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(frame any) ([]byte, error) { return json.Marshal(frame) }

func (JSONCodec) ToJSON(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid json frame")
	}
	return data, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// CBORCodec carries frames as CBOR binary messages.
type CBORCodec struct{}

func (CBORCodec) Name() string { return EncodingCBOR }
func (CBORCodec) Binary() bool { return true }

// Marshal encodes frame through its JSON form so json tags, RawMessage
// params and omitempty rules apply unchanged.
func (CBORCodec) Marshal(frame any) ([]byte, error) {
	j, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(j, &generic); err != nil {
		return nil, err
	}
	return cborEnc.Marshal(generic)
}

func (CBORCodec) ToJSON(data []byte) ([]byte, error) {
	var generic any
	if err := cborDec.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode cbor frame: %w", err)
	}
	j, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("transcode cbor frame: %w", err)
	}
	return j, nil
}
