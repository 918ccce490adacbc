package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies kernel failures. The worker loop maps each kind onto a
// finalized catalog row instead of propagating it.
type ErrorKind int

const (
	ValidationFail ErrorKind = iota
	UnknownArchiver
	UnreachableUrl
	ArchiverFail
	StorageProviderFail
	DbReplicaFail
	InternalException
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationFail:
		return "validation_fail"
	case UnknownArchiver:
		return "unknown_archiver"
	case UnreachableUrl:
		return "unreachable_url"
	case ArchiverFail:
		return "archiver_fail"
	case StorageProviderFail:
		return "storage_provider_fail"
	case DbReplicaFail:
		return "db_replica_fail"
	default:
		return "internal_exception"
	}
}

// ExitCode returns the catalog exit code reserved for this kind, or nil when
// the subprocess's own exit code should be recorded instead.
func (k ErrorKind) ExitCode() *int {
	switch k {
	case UnknownArchiver:
		return IntPtr(127)
	case UnreachableUrl:
		return IntPtr(404)
	case InternalException:
		return IntPtr(1)
	default:
		return nil
	}
}

// KernelError wraps an underlying error with its kind.
type KernelError struct {
	Kind ErrorKind
	Err  error
}

func (e *KernelError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KernelError) Unwrap() error { return e.Err }

// Errorf builds a KernelError from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return &KernelError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to InternalException.
func KindOf(err error) ErrorKind {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return InternalException
}
