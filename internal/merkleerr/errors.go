// Package merkleerr defines the sentinel error kinds shared by the stream
// framing, serialization, Merkle I/O, synchronizer, and virtual-map pipeline
// packages. Callers wrap these with fmt.Errorf("...: %w", err) at the point
// of failure and test with errors.Is/errors.As.
package merkleerr

import (
	"errors"
	"fmt"
)

var (
	// ErrBadIO marks a framing violation or unexpected marker byte.
	ErrBadIO = errors.New("bad io")

	// ErrInvalidStreamPosition marks a marker value mismatch.
	ErrInvalidStreamPosition = errors.New("invalid stream position")

	// ErrClassNotFound marks a class ID with no registered constructor.
	ErrClassNotFound = errors.New("class not found")

	// ErrIllegalChildCount marks an internal node whose declared child count
	// falls outside its class's [min_children, max_children] range.
	ErrIllegalChildCount = errors.New("illegal child count")

	// ErrMerkleSerialization marks a strategy/option mismatch during
	// whole-tree serialize or deserialize.
	ErrMerkleSerialization = errors.New("merkle serialization error")

	// ErrMerkleSynchronization marks an ack timeout or worker failure in the
	// teacher/learner synchronizer.
	ErrMerkleSynchronization = errors.New("merkle synchronization error")

	// ErrReconnectRejection marks a NACK response to a reconnect handshake.
	// Non-fatal: the learner may retry against another peer.
	ErrReconnectRejection = errors.New("reconnect rejected by teacher")

	// ErrInterruptedDuringIO marks cancellation of an in-flight blocking
	// operation; callers restore context and abandon the operation.
	ErrInterruptedDuringIO = errors.New("interrupted during io")
)

// IllegalVersionError reports a version outside [minimum_supported_version, version].
type IllegalVersionError struct {
	ClassID  int64
	Got      int32
	Min, Max int32
}

func (e *IllegalVersionError) Error() string {
	return fmt.Sprintf("illegal version %d for class %#x: supported range [%d, %d]",
		e.Got, e.ClassID, e.Min, e.Max)
}

// Is allows errors.Is(err, merkleerr.ErrIllegalVersion) style checks
// without pinning callers to the concrete field values.
func (e *IllegalVersionError) Is(target error) bool {
	return target == ErrIllegalVersion
}

// ErrIllegalVersion is the sentinel matched by IllegalVersionError.Is, so
// callers can do errors.Is(err, merkleerr.ErrIllegalVersion) without
// inspecting fields.
var ErrIllegalVersion = errors.New("illegal version")
