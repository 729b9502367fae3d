// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ErrorValue is a native error value held by a cell, such as "#N/A".
type ErrorValue string

// Cell is a single spreadsheet-like value. The zero Cell is absent.
//
// A cell holds nothing, a string, a float64, a time.Time or an [ErrorValue].
type Cell struct{ v any }

// Text returns a cell holding s.
func Text(s string) Cell { return Cell{s} }

// Number returns a cell holding f.
func Number(f float64) Cell { return Cell{f} }

// Time returns a cell holding t.
func Time(t time.Time) Cell { return Cell{t} }

// Error returns a cell holding the error value code.
func Error(code string) Cell { return Cell{ErrorValue(code)} }

// Value returns the held value: nil, string, float64, time.Time or ErrorValue.
func (c Cell) Value() any { return c.v }

// IsAbsent reports whether the cell holds nothing.
func (c Cell) IsAbsent() bool { return c.v == nil }

// Equal reports whether c and o hold the same value.
func (c Cell) Equal(o Cell) bool {
	switch v := c.v.(type) {
	case time.Time:
		ot, ok := o.v.(time.Time)
		return ok && v.Equal(ot)
	default:
		return c.v == o.v
	}
}

// String returns the display form of the cell. Absent cells are empty.
func (c Cell) String() string {
	switch v := c.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	case ErrorValue:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// GoString implements [fmt.GoStringer] to make test failures readable.
func (c Cell) GoString() string {
	switch v := c.v.(type) {
	case nil:
		return "store.Cell{}"
	case string:
		return fmt.Sprintf("store.Text(%q)", v)
	case float64:
		return fmt.Sprintf("store.Number(%v)", v)
	case time.Time:
		return fmt.Sprintf("store.Time(%s)", v.Format(time.RFC3339Nano))
	case ErrorValue:
		return fmt.Sprintf("store.Error(%q)", string(v))
	}
	return fmt.Sprintf("store.Cell{%#v}", c.v)
}

type timeJSON struct {
	Time time.Time `json:"time"`
}

type errorJSON struct {
	Error string `json:"error"`
}

// MarshalJSON implements [json.Marshaler].
func (c Cell) MarshalJSON() ([]byte, error) {
	switch v := c.v.(type) {
	case nil:
		return []byte("null"), nil
	case time.Time:
		return json.Marshal(timeJSON{v})
	case ErrorValue:
		return json.Marshal(errorJSON{string(v)})
	default:
		return json.Marshal(v)
	}
}

// UnmarshalJSON implements [json.Unmarshaler].
func (c *Cell) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("store: empty cell")
	}
	switch b[0] {
	case 'n':
		*c = Cell{}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if raw, ok := obj["time"]; ok {
			var t time.Time
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			*c = Time(t)
			return nil
		}
		if raw, ok := obj["error"]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			*c = Error(s)
			return nil
		}
		return fmt.Errorf("store: unknown cell object %s", b)
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("store: invalid cell %s: %w", b, err)
		}
		*c = Number(f)
		return nil
	}
}
