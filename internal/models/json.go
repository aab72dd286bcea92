package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText is a raw JSONB column value passed through without decoding.
type JSONText json.RawMessage

// Value implements driver.Valuer.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("jsontext: cannot scan %T", src)
	}
	return nil
}

// MarshalJSON writes the raw value, or null when empty.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON stores data verbatim.
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// Decode unmarshals the stored value into dst.
func (j JSONText) Decode(dst any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dst)
}

// EncodeJSON marshals v into a JSONText column value.
func EncodeJSON(v any) (JSONText, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONText(b), nil
}

// JSONMap is a JSONB column holding a flat object.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m)
}

func (t ThreatModel) Value() (driver.Value, error) {
	return json.Marshal(t)
}

func (t *ThreatModel) Scan(src any) error {
	return scanJSON(src, t)
}

func (r ReportSummary) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ReportSummary) Scan(src any) error {
	return scanJSON(src, r)
}

func (p SecurityProfile) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *SecurityProfile) Scan(src any) error {
	return scanJSON(src, p)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("jsonb: cannot scan %T", src)
	}
}
