package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one opaque object of a partition. Fields the engine does not
// know about are carried through a read-modify-write untouched.
type Record map[string]json.RawMessage

// DecodeRecords parses a partition value. An empty value is an empty partition.
func DecodeRecords(value []byte) ([]Record, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return nil, nil
	}
	var out []Record
	if err := json.Unmarshal(value, &out); err != nil {
		return nil, fmt.Errorf("decode partition: %w", err)
	}
	return out, nil
}

// EncodeRecords serializes records as a partition value.
func EncodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// FindRecord returns the index of the record whose `field` equals id, or -1.
// Ids stored as JSON numbers match their decimal text.
func FindRecord(records []Record, field, id string) int {
	for i, r := range records {
		if r.Text(field) == id {
			return i
		}
	}
	return -1
}

// Text returns a string or number field as text; other kinds yield "".
func (r Record) Text(field string) string {
	raw, ok := r[field]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw)
	}
	return ""
}

// Put marshals v into field.
func (r Record) Put(field string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode field %s: %w", field, err)
	}
	r[field] = raw
	return nil
}

// Decode unmarshals field into v. A missing field leaves v untouched.
func (r Record) Decode(field string, v interface{}) error {
	raw, ok := r[field]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode field %s: %w", field, err)
	}
	return nil
}
