package rtpkeys

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a record to the self-describing text format stored in
// Redis values: JSON with the Go struct's field names preserved via the
// `json` tags in records.go. Unknown fields are ignored and missing fields default
// to the zero value on the decode side — both come for free from
// encoding/json decoding into a concrete struct.
func Encode[T any](record T) (string, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("rtpkeys: encode: %w", err)
	}
	return string(b), nil
}

// Decode deserializes raw into a T. Callers that read decode failures are
// expected to treat the key as poisoned and delete it (spec.md §4.1) —
// Decode itself only reports the error, it does not touch the store.
func Decode[T any](raw string) (T, error) {
	var record T
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		var zero T
		return zero, fmt.Errorf("rtpkeys: decode: %w", err)
	}
	return record, nil
}
