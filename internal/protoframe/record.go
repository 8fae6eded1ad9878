package protoframe

import (
	"bytes"
	"fmt"
	"strings"
)

// Record is the unit sent over a transport. Exactly one of Body or Response
// is set on a well-formed record; both hold codec-encoded payload bytes.
type Record struct {
	Tag      string
	ID       string
	Body     []byte
	Response []byte
}

// Tag is a parsed record tag.
type Tag struct {
	Namespace string
	Action    Action
	Type      string
}

func (t Tag) String() string {
	return t.Namespace + tagSeparator + string(t.Action) + tagSeparator + t.Type
}

// ParseTag splits on the first two separators. Anything after the second
// separator belongs to the message type.
func ParseTag(raw string) (Tag, error) {
	parts := strings.SplitN(raw, tagSeparator, 3)
	if len(parts) != 3 {
		return Tag{}, fmt.Errorf("%w: tag %q", ErrMalformedRecord, raw)
	}
	return Tag{Namespace: parts[0], Action: Action(parts[1]), Type: parts[2]}, nil
}

// EncodeBody builds and serializes a body record tagged ns#action#msgType.
// A body that encodes to null is rejected with ErrMissingBody: peers drop
// records without a payload, so it could never be delivered.
func EncodeBody(c Codec, ns string, action Action, msgType, id string, body any) ([]byte, error) {
	payload, err := c.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", msgType, err)
	}
	if isNull(c, payload) {
		return nil, fmt.Errorf("encode %s body: %w", msgType, ErrMissingBody)
	}
	tag := Tag{Namespace: ns, Action: action, Type: msgType}
	return c.EncodeRecord(Record{Tag: tag.String(), ID: id, Body: payload})
}

// EncodeResponse builds and serializes a response record. The action is
// always ask: tells have no responses.
func EncodeResponse(c Codec, ns, msgType, id string, response any) ([]byte, error) {
	payload, err := c.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", msgType, err)
	}
	tag := Tag{Namespace: ns, Action: ActionAsk, Type: msgType}
	return c.EncodeRecord(Record{Tag: tag.String(), ID: id, Response: payload})
}

func isNull(c Codec, payload []byte) bool {
	null, err := c.Marshal(nil)
	return err == nil && bytes.Equal(bytes.TrimSpace(payload), null)
}

// Decode parses raw bytes into a record and its tag. Records with neither a
// body nor a response are malformed.
func Decode(c Codec, data []byte) (Record, Tag, error) {
	rec, err := c.DecodeRecord(data)
	if err != nil {
		return Record{}, Tag{}, err
	}
	if rec.Body == nil && rec.Response == nil {
		return Record{}, Tag{}, fmt.Errorf("%w: no payload", ErrMalformedRecord)
	}
	tag, err := ParseTag(rec.Tag)
	if err != nil {
		return Record{}, Tag{}, err
	}
	return rec, tag, nil
}

// MatchesBody reports whether rec carries a body tagged exactly ns#action#msgType.
func MatchesBody(ns string, action Action, msgType string, rec Record, tag Tag) bool {
	return rec.Body != nil && tag.Namespace == ns && tag.Action == action && tag.Type == msgType
}

// MatchesResponse reports whether rec is the response to the ask identified
// by id.
func MatchesResponse(ns, msgType, id string, rec Record, tag Tag) bool {
	return rec.Response != nil && tag.Namespace == ns && tag.Action == ActionAsk &&
		tag.Type == msgType && rec.ID == id
}

// Payload is an undecoded body or response.
type Payload struct {
	raw   []byte
	codec Codec
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if err := p.codec.Unmarshal(p.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}

// Raw returns the payload bytes in the codec's encoding.
func (p Payload) Raw() []byte { return p.raw }
