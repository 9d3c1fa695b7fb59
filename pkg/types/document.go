package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Document is the tagged-value JSON document used at component boundaries for
// model configuration, metrics, resources, and request context. Components
// read typed views of their own fields through the accessors; nobody owns the
// whole schema.
type Document map[string]interface{}

// Float returns the float value under key, accepting the numeric types JSON
// decoding produces.
func (d Document) Float(key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Int returns the integer value under key.
func (d Document) Int(key string) (int, bool) {
	f, ok := d.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// String returns the string value under key.
func (d Document) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the bool value under key.
func (d Document) Bool(key string) (bool, bool) {
	v, ok := d[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new document with patch shallow-merged over the receiver.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	if out == nil {
		out = make(Document, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer so documents persist as JSONB columns.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *Document) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Document", src)
	}

	if len(data) == 0 {
		*d = nil
		return nil
	}

	return json.Unmarshal(data, d)
}
