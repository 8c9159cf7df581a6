// Package fault classifies the failures that cross component boundaries,
// so transports can map them to machine-readable tokens without string
// matching and callers can branch with errors.Is.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure class.
type Kind string

const (
	// KindUnknown represents an unclassified failure.
	KindUnknown Kind = "UNKNOWN"

	// KindNotFound reports a missing title, snapshot or source file.
	KindNotFound Kind = "NOT_FOUND"

	// KindNotReady reports an operation that requires a loaded session.
	KindNotReady Kind = "NOT_READY"

	// KindCorruptState reports a snapshot blob the simulation core rejected.
	KindCorruptState Kind = "CORRUPT_STATE"

	// KindIO reports a disk read/write failure during install or snapshot
	// persistence.
	KindIO Kind = "IO_FAILURE"
)

// Sentinels for each kind. Components wrap these with fmt.Errorf("...: %w"),
// either directly or through the helpers below.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotReady     = errors.New("no game loaded")
	ErrCorruptState = errors.New("corrupt state")
	ErrIO           = errors.New("i/o failure")
)

// KindOf resolves err to its failure class.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrCorruptState):
		return KindCorruptState
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// NotFoundf formats a message and tags it ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return wrapf(ErrNotFound, format, args...)
}

// NotReadyf formats a message and tags it ErrNotReady.
func NotReadyf(format string, args ...any) error {
	return wrapf(ErrNotReady, format, args...)
}

// CorruptStatef formats a message and tags it ErrCorruptState.
func CorruptStatef(format string, args ...any) error {
	return wrapf(ErrCorruptState, format, args...)
}

// IOf formats a message and tags it ErrIO.
func IOf(format string, args ...any) error {
	return wrapf(ErrIO, format, args...)
}

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}
