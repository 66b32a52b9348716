package zipkit

import (
	"errors"
	"fmt"
)

// Error kinds, per spec.md §7. Each is a sentinel wrapped by the concrete
// message so callers can branch with errors.Is while still getting a
// specific message, following the teacher's plain errors.New convention in
// writer.go generalized to the spec's distinct kinds.
var (
	// ErrBadZipFile covers malformed/truncated archives, missing or
	// invalid signatures, corrupt ZIP64 extras, CRC mismatches, and
	// local/central name disagreements.
	ErrBadZipFile = errors.New("zipkit: bad zip file")

	// ErrLargeZipFile is returned when a structure requires ZIP64 but the
	// caller disabled it via Options.AllowZip64.
	ErrLargeZipFile = errors.New("zipkit: large zip file requires zip64")

	// ErrNotImplemented covers unsupported compression methods, patched-
	// compressed data, strong encryption, and extract-version > 63.
	ErrNotImplemented = errors.New("zipkit: not implemented")

	// ErrBadPassword is returned when the legacy decrypter's check byte
	// does not match.
	ErrBadPassword = errors.New("zipkit: bad password")

	// ErrInvalidArgument covers bad modes, pre-1980 dates, and illegal
	// comment types.
	ErrInvalidArgument = errors.New("zipkit: invalid argument")
)

type wrappedError struct {
	kind error
	msg  string
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.kind }

func newBadZipFile(msg string) error {
	return &wrappedError{kind: ErrBadZipFile, msg: "zipkit: " + msg}
}

func newBadZipFilef(format string, args ...interface{}) error {
	return newBadZipFile(fmt.Sprintf(format, args...))
}

func newNotImplemented(msg string) error {
	return &wrappedError{kind: ErrNotImplemented, msg: "zipkit: " + msg}
}

func newBadPassword(name string) error {
	return &wrappedError{kind: ErrBadPassword, msg: fmt.Sprintf("zipkit: bad password for file %q", name)}
}

func newInvalidArgument(msg string) error {
	return &wrappedError{kind: ErrInvalidArgument, msg: "zipkit: " + msg}
}

func newLargeZipFile(msg string) error {
	return &wrappedError{kind: ErrLargeZipFile, msg: "zipkit: " + msg}
}
