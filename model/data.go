// Package model contains the domain models of the email delivery and consent engine.
//
// Models carry their own state transitions (Message.MarkSent, Subscription.Unsubscribe,
// Preference.AllowsTopic, ...) so services stay thin and repositories stay dumb.
package model

import (
	"encoding/json"
	"strings"
)

// tablePrefix is prepended to every table name returned by TableName.
const tablePrefix = "courier_"

// Data is an opaque structured document (render payload or audit metadata).
// It is stored as a JSON string column and never interpreted by the engine.
type Data map[string]any

// EncodeData serializes d as JSON. A nil or empty document encodes as "{}".
func EncodeData(d Data) (string, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeData parses a JSON document produced by EncodeData.
// An empty string decodes to an empty, non-nil document.
func DecodeData(s string) (Data, error) {
	d := Data{}
	if strings.TrimSpace(s) == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Clone returns a shallow copy of d that is safe to extend.
func (d Data) Clone() Data {
	out := make(Data, len(d)+2)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// NormalizeEmail trims and lower-cases an address. All consent lookups and
// recipient merges are keyed by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
