package errors

import stdErrors "errors"

// WALError is a specialized error type for write-ahead-log operations. It
// embeds baseError and adds the context needed to pinpoint which record in
// the log triggered the failure.
type WALError struct {
	*baseError
	offset     int64  // Byte offset within the WAL file where the problem occurred.
	recordType byte   // The record-type tag being read or written, if known.
	path       string // Path of the WAL file.
}

// NewWALError creates a new WAL-specific error.
func NewWALError(err error, code ErrorCode, msg string) *WALError {
	return &WALError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the WALError type.
func (we *WALError) WithMessage(msg string) *WALError {
	we.baseError.WithMessage(msg)
	return we
}

// WithDetail adds contextual information while maintaining the WALError type.
func (we *WALError) WithDetail(key string, value any) *WALError {
	we.baseError.WithDetail(key, value)
	return we
}

// WithOffset records the byte position where the error occurred.
func (we *WALError) WithOffset(offset int64) *WALError {
	we.offset = offset
	return we
}

// WithRecordType records the record-type tag involved in the error.
func (we *WALError) WithRecordType(recordType byte) *WALError {
	we.recordType = recordType
	return we
}

// WithPath captures which WAL file was being processed.
func (we *WALError) WithPath(path string) *WALError {
	we.path = path
	return we
}

// Offset returns the byte offset within the WAL file where the error happened.
func (we *WALError) Offset() int64 {
	return we.offset
}

// RecordType returns the record-type tag involved in the error.
func (we *WALError) RecordType() byte {
	return we.recordType
}

// Path returns the WAL file path involved in the error.
func (we *WALError) Path() string {
	return we.path
}

// IsWALError checks if the given error is a WALError or wraps one.
func IsWALError(err error) bool {
	var we *WALError
	return stdErrors.As(err, &we)
}

// AsWALError extracts a WALError from an error chain.
func AsWALError(err error) (*WALError, bool) {
	var we *WALError
	if stdErrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// NewUnknownRecordTypeError creates an error for a WAL record tag that
// doesn't match INSERT, DELETE, or CHECKPOINT. This is real corruption, not
// a torn tail, and replay must stop rather than silently discard it.
func NewUnknownRecordTypeError(recordType byte, offset int64) *WALError {
	return NewWALError(
		nil, ErrorCodeWALUnknownRecordType, "unrecognized WAL record type",
	).WithRecordType(recordType).WithOffset(offset)
}
