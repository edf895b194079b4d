package models

// ValidationCheck is a single comparison of a recalculated cell against its expected value
type ValidationCheck struct {
	Sheet    string `json:"sheet"`
	Cell     string `json:"cell"`
	Item     string `json:"item"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// ValidationReport is the ordered outcome of a recalculation check run.
// Success holds only when every check passed and no report-level error occurred.
type ValidationReport struct {
	Success bool              `json:"success"`
	Checks  []ValidationCheck `json:"checks"`
	Errors  []string          `json:"errors"`
}

// Add records a check and, when it failed, a human-readable mismatch description
func (r *ValidationReport) Add(check ValidationCheck, failure string) {
	r.Checks = append(r.Checks, check)
	if !check.Passed {
		r.Errors = append(r.Errors, failure)
	}
}

// Finish computes Success from the collected checks and errors
func (r *ValidationReport) Finish() {
	r.Success = len(r.Errors) == 0 && len(r.Checks) > 0
	for _, c := range r.Checks {
		if !c.Passed {
			r.Success = false
			return
		}
	}
}

// FailedChecks returns the number of checks that did not pass
func (r *ValidationReport) FailedChecks() int {
	n := 0
	for _, c := range r.Checks {
		if !c.Passed {
			n++
		}
	}
	return n
}
