// Package errors provides coded errors shared by replica components.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeTransport marks network failures and unexpected HTTP statuses.
	CodeTransport Code = "TRANSPORT"
	// CodeDecode marks malformed remote response bodies.
	CodeDecode Code = "DECODE"
	// CodePersistence marks state or log write failures.
	CodePersistence Code = "PERSISTENCE"
	// CodeStateDiverged marks a persistence failure after data was integrated:
	// in-memory and on-disk state no longer agree and the process must restart.
	CodeStateDiverged Code = "STATE_DIVERGED"
)

