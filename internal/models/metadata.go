package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Metadata carries the bounded set of descriptive fields a transaction may
// hold. Unknown keys are not persisted.
type Metadata struct {
	TransferID         string `json:"transfer_id,omitempty"`
	CounterpartyID     uint   `json:"counterparty_id,omitempty"`
	CounterpartyHandle string `json:"counterparty_handle,omitempty"`
	Network            string `json:"network,omitempty"`
	Phone              string `json:"phone,omitempty"`
	PlanCode           string `json:"plan_code,omitempty"`
	Note               string `json:"note,omitempty"`
	Event              string `json:"event,omitempty"`
	RefundOf           string `json:"refund_of,omitempty"`
	FailureReason      string `json:"failure_reason,omitempty"`
	ExpectedAmount     int64  `json:"expected_amount,omitempty"`
}

// Value implements the driver.Valuer interface
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (m *Metadata) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}

func (Metadata) GormDataType() string {
	return "json"
}

func (Metadata) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}
