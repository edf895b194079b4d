package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DocumentType identifies the source paperwork a record was extracted from
type DocumentType string

const (
	DocumentEstimate          DocumentType = "estimate"
	DocumentInvoice           DocumentType = "invoice"
	DocumentOrderConfirmation DocumentType = "order_confirmation"
)

// ErrMalformedFieldSet is returned when the extracted data does not match the expected shape
var ErrMalformedFieldSet = errors.New("malformed field set")

// Estimate holds the figures extracted from an estimate (見積書)
type Estimate struct {
	EstimateNumber string `json:"estimate_number"`
	Subject        string `json:"subject,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPrice      int64  `json:"unit_price"`
}

// OrderConfirmation holds the figures extracted from an order confirmation (注文請書)
type OrderConfirmation struct {
	IssueDate string `json:"issue_date"`
}

// FieldSet is the structured output of document extraction, keyed by document type.
// It is read-only to the transcription pipeline.
type FieldSet struct {
	Estimate          *Estimate          `json:"estimate,omitempty"`
	Invoice           *Invoice           `json:"invoice,omitempty"`
	OrderConfirmation *OrderConfirmation `json:"order_confirmation,omitempty"`
}

// EstimateNumber returns the estimate reference number or "".
func (fs *FieldSet) EstimateNumber() string {
	if fs == nil || fs.Estimate == nil {
		return ""
	}
	return strings.TrimSpace(fs.Estimate.EstimateNumber)
}

// fieldSetSchema constrains the extraction output consumed by the pipeline
const fieldSetSchema = `{
  "type": "object",
  "properties": {
    "estimate": {
      "type": "object",
      "properties": {
        "estimate_number": {"type": "string"},
        "subject": {"type": "string"},
        "quantity": {"type": "integer", "minimum": 0},
        "unit_price": {"type": "integer", "minimum": 0}
      }
    },
    "invoice": {
      "type": "object",
      "properties": {
        "items": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["quantity", "unit_price"],
            "properties": {
              "name": {"type": "string"},
              "quantity": {"type": "integer", "minimum": 0},
              "unit_price": {"type": "integer", "minimum": 0},
              "amount": {"type": "integer"}
            }
          }
        },
        "subtotal": {"type": "integer", "minimum": 0},
        "tax": {"type": "integer", "minimum": 0},
        "total": {"type": "integer", "minimum": 0}
      }
    },
    "order_confirmation": {
      "type": "object",
      "properties": {
        "issue_date": {"type": "string"}
      }
    }
  }
}`

var fieldSetSchemaLoader = gojsonschema.NewStringLoader(fieldSetSchema)

// ParseFieldSet validates raw extraction JSON against the field set schema and decodes it
func ParseFieldSet(data []byte) (*FieldSet, error) {
	result, err := gojsonschema.Validate(fieldSetSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFieldSet, err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedFieldSet, strings.Join(msgs, "; "))
	}

	var fs FieldSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFieldSet, err)
	}
	return &fs, nil
}
