// Package json provides internal JSON utilities for the driver.
//
// It wraps github.com/segmentio/encoding/json, a drop-in, allocation-lean
// replacement for encoding/json, so the rest of the module can change its
// JSON backend in one place.
package json

import "github.com/segmentio/encoding/json"

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes data into v, matching struct field names
// case-sensitively.
func Unmarshal(data []byte, v any) error {
	_, err := json.Parse(data, v, json.DontMatchCaseInsensitiveStructFields)
	return err
}

// RawMessage is a re-export so callers don't need to import both this
// package and encoding/json just to hold an undecoded JSON value.
type RawMessage = json.RawMessage
