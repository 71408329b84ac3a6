package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*ChargeDetailsColumn)(nil)
	_ driver.Valuer = ChargeDetailsColumn{}
)

// scanJSONB scans a JSONB database value into dest. It accepts the []byte
// and string representations different drivers hand back.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// ChargeDetailsColumn adapts ChargeDetails to the invoice_lines.details
// JSONB column. The method tag travels with the payload so Scan can restore
// the right variant.
type ChargeDetailsColumn struct {
	Details ChargeDetails
}

type chargeDetailsRecord struct {
	Method ChargeMethod    `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// Value implements driver.Valuer.
func (c ChargeDetailsColumn) Value() (driver.Value, error) {
	if c.Details == nil {
		return nil, nil
	}
	data, err := json.Marshal(c.Details)
	if err != nil {
		return nil, err
	}
	return valueJSONB(chargeDetailsRecord{Method: c.Details.Method(), Data: data})
}

// Scan implements sql.Scanner.
func (c *ChargeDetailsColumn) Scan(value any) error {
	if value == nil {
		c.Details = nil
		return nil
	}
	var rec chargeDetailsRecord
	if err := scanJSONB(&rec, value); err != nil {
		return err
	}
	details, err := DecodeChargeDetails(rec.Method, rec.Data)
	if err != nil {
		return err
	}
	c.Details = details
	return nil
}
