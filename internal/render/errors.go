package render

import "errors"

var (
	ErrUnknownStrategy  = errors.New("unknown render strategy")
	ErrPageCount        = errors.New("exported document has too few pages")
	ErrPlaceholderText  = errors.New("rendered page shows a formula error")
	ErrMissingIssueDate = errors.New("issue date is required to name the documents")
	ErrMissingOutputDir = errors.New("output directory is required")
	ErrMissingPackage   = errors.New("package path is required")
	ErrSheetNotIsolated = errors.New("sheet not found in workbook")
)
