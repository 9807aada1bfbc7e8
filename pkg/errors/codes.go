package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary. This includes file system operations like reading or
	// writing the value log and WAL, growing the memory mapping, and device
	// I/O when accessing storage hardware.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints. This maps
	// to HTTP 400-series errors and indicates problems with the request itself
	// rather than system failures.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories. These are the equivalent of HTTP 500 errors and
	// indicate bugs, assertion failures, or other programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent storage systems. These codes
// represent problems that are specific to the storage layer of your key-value
// store, particularly focusing on log file management and data persistence.
const (
	// ErrorCodeLogCorrupted indicates that a log file's data has been
	// damaged or is in an inconsistent state: a record whose declared length
	// reaches past the bytes known to be fully written. Recovery's scan
	// treats such a record as a torn tail left by a crash mid-append and
	// stops there.
	ErrorCodeLogCorrupted ErrorCode = "LOG_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when the system cannot read the
	// length-and-key header of a record. Headers locate the record's value
	// bytes, so header read failures prevent access to the record.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates problems reading the actual value
	// bytes of a record after successfully reading its header. This
	// represents a more localized failure compared to header problems, as the
	// record structure is intact but specific data regions are inaccessible.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates that the storage system's attempt to
	// recover from a previous failure was unsuccessful. This represents a
	// compound failure where both the original problem and the recovery
	// mechanism have failed, creating a more serious operational situation.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	// This is distinct from generic IO errors because it has a specific resolution path:
	// the user needs to adjust file/directory permissions or run with elevated privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	// This requires specific handling like cleanup operations or alerting administrators.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	// This requires administrative intervention to remount the filesystem with write permissions.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"

	// ErrorCodeCapacity indicates that a value exceeded the record format's
	// capacity limit: a value of math.MaxUint32 bytes or longer, which a
	// record's u32 length header cannot encode.
	ErrorCodeCapacity ErrorCode = "CAPACITY_EXCEEDED"

	// ErrorCodeInvalidated indicates a read whose location is not valid in
	// the value log as it stands: the value log's Read returns it for a
	// pointer that reaches past the log's tail.
	ErrorCodeInvalidated ErrorCode = "READ_INVALIDATED"
)

// Index-specific error codes describe failure modes of the in-memory
// key->location structure: missing keys and structural corruption detected
// during routing or recovery.
const (
	// ErrorCodeIndexKeyNotFound indicates a lookup found no entry for the key.
	ErrorCodeIndexKeyNotFound ErrorCode = "INDEX_KEY_NOT_FOUND"

	// ErrorCodeIndexCorrupted indicates the index's internal invariants
	// (strictly increasing keys within a leaf, bounded model error, consistent
	// split-key ordering) were found violated.
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"
)

// WAL-specific error codes describe failure modes unique to the write-ahead
// log: unrecognized record tags, as distinct from an ordinary I/O failure.
// A record truncated mid-write is a torn tail and is discarded, not
// reported.
const (
	// ErrorCodeWALUnknownRecordType indicates a record byte didn't match any
	// of INSERT, DELETE, or CHECKPOINT. Unlike a torn tail, this is a real
	// corruption and is not silently discarded.
	ErrorCodeWALUnknownRecordType ErrorCode = "WAL_UNKNOWN_RECORD_TYPE"
)
