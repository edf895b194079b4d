package models

import "time"

// RunRecord is the persisted history entry of one transcription run
type RunRecord struct {
	ID                int64      `json:"id"`
	RunID             string     `json:"run_id"`
	Partner           string     `json:"partner"`
	Command           string     `json:"command"` // run, validate, render
	Status            string     `json:"status"`
	TemplatePath      string     `json:"template_path,omitempty"`
	OutputPath        string     `json:"output_path,omitempty"`
	OrderPDFPath      string     `json:"order_pdf_path,omitempty"`
	InspectionPDFPath string     `json:"inspection_pdf_path,omitempty"`
	IssueDate         string     `json:"issue_date,omitempty"`
	ValidationPassed  *bool      `json:"validation_passed,omitempty"`
	ErrorKind         string     `json:"error_kind,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ResultJSON        string     `json:"-"` // full result record
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// Run status constants
const (
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// RunFilter narrows a history listing
type RunFilter struct {
	Partner string
	Status  string
	Limit   int
	Offset  int
}
