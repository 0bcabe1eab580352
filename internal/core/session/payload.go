package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Entry is one top-level key of a payload object.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Message is a decoded inbound frame.
type Message struct {
	Seq     uint32
	Entries []Entry
}

// DecodePayload splits a payload object into its top-level entries, keeping
// document order.
func DecodePayload(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object, got %v", ErrInvalidPayload, tok)
	}

	var entries []Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key %v", ErrInvalidPayload, tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidPayload, key, err)
		}
		entries = append(entries, Entry{Key: key, Value: raw})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}
	return entries, nil
}

// EncodePayload writes entries as one JSON object in the given order.
func EncodePayload(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(e.Key)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(e.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
