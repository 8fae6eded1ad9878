package protoframe

import (
	"bytes"
	"encoding/json"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
)

// Codec serializes wire records and the payloads they carry. Both peers of a
// transport must use the same codec.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	EncodeRecord(r Record) ([]byte, error)
	DecodeRecord(data []byte) (Record, error)
}

type jsonCodec struct{}

// JSON returns the default codec. Records travel as
// {"tag":"ns#ask#get","id":"...","body":{...}}.
//
// Strings that are not valid UTF-8 come back with U+FFFD in place of the bad
// bytes, and CBOR refuses to decode them. Carry binary data in []byte fields,
// which both codecs round-trip exactly.
func JSON() Codec { return jsonCodec{} }

type jsonRecord struct {
	Tag      string          `json:"tag"`
	ID       string          `json:"id,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(jsonRecord{Tag: r.Tag, ID: r.ID, Body: r.Body, Response: r.Response})
}

func (jsonCodec) DecodeRecord(data []byte) (Record, error) {
	var jr jsonRecord
	if err := json.Unmarshal(data, &jr); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Record{Tag: jr.Tag, ID: jr.ID, Body: jsonValue(jr.Body), Response: jsonValue(jr.Response)}, nil
}

// jsonValue treats a literal null like a missing field.
func jsonValue(raw json.RawMessage) []byte {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return raw
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

type cborRecord struct {
	Tag      string          `cbor:"tag"`
	ID       string          `cbor:"id,omitempty"`
	Body     cbor.RawMessage `cbor:"body,omitempty"`
	Response cbor.RawMessage `cbor:"response,omitempty"`
}

// cborNull is the single-byte CBOR encoding of null.
const cborNull = 0xf6

// CBOR returns a deterministic CBOR codec (core deterministic encoding).
func CBOR() (Codec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) ContentType() string { return "application/cbor" }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

func (c cborCodec) EncodeRecord(r Record) ([]byte, error) {
	return c.enc.Marshal(cborRecord{Tag: r.Tag, ID: r.ID, Body: r.Body, Response: r.Response})
}

func (c cborCodec) DecodeRecord(data []byte) (Record, error) {
	var cr cborRecord
	if err := c.dec.Unmarshal(data, &cr); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Record{Tag: cr.Tag, ID: cr.ID, Body: cborValue(cr.Body), Response: cborValue(cr.Response)}, nil
}

func cborValue(raw cbor.RawMessage) []byte {
	if len(raw) == 0 || (len(raw) == 1 && raw[0] == cborNull) {
		return nil
	}
	return raw
}

// CodecByName resolves "json" or "cbor".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON(), nil
	case "cbor":
		return CBOR()
	default:
		return nil, fmt.Errorf("protoframe: unknown codec %q", name)
	}
}
