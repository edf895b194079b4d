package transcribe

import "errors"

// Input errors
var (
	ErrMissingFieldSet   = errors.New("field set is required")
	ErrMissingField      = errors.New("required field is missing")
	ErrItemLimitExceeded = errors.New("line items exceed the template row budget")
	ErrInvalidItem       = errors.New("line item has a negative quantity or unit price")
)

// Template errors
var (
	ErrTemplateUnreadable = errors.New("template cannot be opened")
	ErrSheetMissing       = errors.New("template sheet is missing")
)
