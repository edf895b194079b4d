package profile

import "errors"

// Partner selection errors
var (
	ErrUnsupportedPartner = errors.New("unsupported partner")
)

// Subject guard errors
var (
	ErrMissingSubject      = errors.New("estimate subject is missing")
	ErrSubjectUnrecognized = errors.New("estimate subject does not match a recognized work pattern")
	ErrSubjectMismatch     = errors.New("template subject cell does not hold the expected text")
)
