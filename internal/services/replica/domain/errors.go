package domain

import (
	"errors"

	apperrors "github.com/louisbranch/replica/internal/platform/errors"
)

// ErrNoSnapshot reports that the remote store has not produced a snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot exists")

// TransportError wraps a network failure or unexpected HTTP status.
func TransportError(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeTransport, message, cause)
}

// DecodeError wraps a malformed remote response.
func DecodeError(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeDecode, message, cause)
}

// PersistenceError wraps a state or log write failure.
func PersistenceError(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodePersistence, message, cause)
}

// StateDivergedError wraps a state write failure that happened after new data
// was integrated into the log.
func StateDivergedError(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStateDiverged, message, cause)
}

// IsFatal reports whether err requires a process restart.
func IsFatal(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeStateDiverged)
}
