// Package errors provides the error taxonomy for bv2src.
// Every error here is a data or configuration error: it aborts the current
// subject's run and is never retried.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, matchable with errors.Is through the typed errors below.
var (
	// ErrMissingTransformFile indicates a transform file was not found in any lookup root
	ErrMissingTransformFile = errors.New("missing transform file")

	// ErrSingularTransform indicates an inverted transform was not invertible
	ErrSingularTransform = errors.New("singular transform")

	// ErrUnsupportedSurfaceFormat indicates no mesh reader accepted the file
	ErrUnsupportedSurfaceFormat = errors.New("unsupported surface format")

	// ErrUnrecognizedParcelLookupHeader indicates a parcel table lacks required columns
	ErrUnrecognizedParcelLookupHeader = errors.New("unrecognized parcel lookup header")

	// ErrUnrecognizedHemisphereSuffix indicates a segment name carries no lh/rh suffix
	ErrUnrecognizedHemisphereSuffix = errors.New("unrecognized hemisphere suffix")

	// ErrMalformedNumericContent indicates a numeric file could not be parsed
	ErrMalformedNumericContent = errors.New("malformed numeric content")
)

// MissingTransformFileError names a transform that could not be resolved.
type MissingTransformFileError struct {
	Subject string
	Name    string
	Tried   []string
}

// Error implements the error interface
func (e *MissingTransformFileError) Error() string {
	return fmt.Sprintf("transform file %s for subject %s not found (tried %s)",
		e.Name, e.Subject, strings.Join(e.Tried, ", "))
}

// Is implements errors.Is support
func (e *MissingTransformFileError) Is(target error) bool {
	return target == ErrMissingTransformFile
}

// SingularTransformError names a transform whose inverse was requested but does not exist.
type SingularTransformError struct {
	Subject string
	Path    string
	Err     error
}

// Error implements the error interface
func (e *SingularTransformError) Error() string {
	msg := fmt.Sprintf("transform %s for subject %s is singular and cannot be inverted", e.Path, e.Subject)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *SingularTransformError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *SingularTransformError) Is(target error) bool {
	return target == ErrSingularTransform
}

// UnsupportedSurfaceFormatError reports a mesh that none of the readers could parse.
// Causes holds one error per reader that was tried, in order.
type UnsupportedSurfaceFormatError struct {
	Subject string
	Hemi    string
	Path    string
	Causes  []error
}

// Error implements the error interface
func (e *UnsupportedSurfaceFormatError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("surface %s (subject %s, %s) must be in FreeSurfer or GIFTI format: %s",
		e.Path, e.Subject, e.Hemi, strings.Join(parts, "; "))
}

// Unwrap implements errors.Unwrap for multiple causes
func (e *UnsupportedSurfaceFormatError) Unwrap() []error {
	return e.Causes
}

// Is implements errors.Is support
func (e *UnsupportedSurfaceFormatError) Is(target error) bool {
	return target == ErrUnsupportedSurfaceFormat
}

// UnrecognizedParcelLookupHeaderError lists the columns a lookup table is missing.
type UnrecognizedParcelLookupHeaderError struct {
	Path    string
	Missing []string
}

// Error implements the error interface
func (e *UnrecognizedParcelLookupHeaderError) Error() string {
	return fmt.Sprintf("parcel lookup %s: header is missing column(s) %s",
		e.Path, strings.Join(e.Missing, ", "))
}

// Is implements errors.Is support
func (e *UnrecognizedParcelLookupHeaderError) Is(target error) bool {
	return target == ErrUnrecognizedParcelLookupHeader
}

// UnrecognizedHemisphereSuffixError reports a volume segment without an lh/rh suffix.
type UnrecognizedHemisphereSuffixError struct {
	Subject string
	Segment string
}

// Error implements the error interface
func (e *UnrecognizedHemisphereSuffixError) Error() string {
	return fmt.Sprintf("segment %q (subject %s) does not end with a hemisphere suffix (lh or rh)",
		e.Segment, e.Subject)
}

// Is implements errors.Is support
func (e *UnrecognizedHemisphereSuffixError) Is(target error) bool {
	return target == ErrUnrecognizedHemisphereSuffix
}

// MalformedNumericContentError points at the offending resource and, when known, line.
type MalformedNumericContentError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *MalformedNumericContentError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	msg := fmt.Sprintf("malformed numeric content in %s: %s", loc, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *MalformedNumericContentError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *MalformedNumericContentError) Is(target error) bool {
	return target == ErrMalformedNumericContent
}

// NewMalformed creates a MalformedNumericContentError.
func NewMalformed(path string, line int, message string, err error) *MalformedNumericContentError {
	return &MalformedNumericContentError{Path: path, Line: line, Message: message, Err: err}
}

// SubjectError attaches the subject and the pipeline stage that failed.
type SubjectError struct {
	Subject string
	Stage   string
	Hemi    string
	Err     error
}

// Error implements the error interface
func (e *SubjectError) Error() string {
	if e.Hemi != "" {
		return fmt.Sprintf("subject %s [%s, %s]: %v", e.Subject, e.Stage, e.Hemi, e.Err)
	}
	return fmt.Sprintf("subject %s [%s]: %v", e.Subject, e.Stage, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SubjectError) Unwrap() error {
	return e.Err
}

// Helper functions for error checking

// IsMissingTransformFile checks if an error is a missing transform file error
func IsMissingTransformFile(err error) bool {
	return errors.Is(err, ErrMissingTransformFile)
}

// IsSingularTransform checks if an error is a singular transform error
func IsSingularTransform(err error) bool {
	return errors.Is(err, ErrSingularTransform)
}

// IsMalformedNumericContent checks if an error is a malformed numeric content error
func IsMalformedNumericContent(err error) bool {
	return errors.Is(err, ErrMalformedNumericContent)
}
