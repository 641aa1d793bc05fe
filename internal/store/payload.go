package store

import (
	"bytes"
	"encoding/json"
)

// EncodePayload marshals an event payload. A nil payload encodes as {}.
func EncodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload reads a payload back with numbers kept as json.Number, the
// same shape every backend returns.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizePayload round-trips p through JSON so an event digested before
// it is stored matches the event read back later.
func NormalizePayload(p map[string]any) (map[string]any, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return DecodePayload(raw)
}
