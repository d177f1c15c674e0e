package models

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a resource is absent both from the local
// cache and from its source.
type NotFoundError struct {
	Locator string
	Err     error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not found: %s: %v", e.Locator, e.Err)
	}
	return "not found: " + e.Locator
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// IntegrityError is returned when a cached payload failed verification and
// the single re-fetch from the source failed too.
type IntegrityError struct {
	Key string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s and re-fetch failed: %v", e.Key, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// MalformedIndexError is returned when an index or search page cannot be parsed.
type MalformedIndexError struct {
	Locator string
	Err     error
}

func (e *MalformedIndexError) Error() string {
	return fmt.Sprintf("malformed index %s: %v", e.Locator, e.Err)
}

func (e *MalformedIndexError) Unwrap() error { return e.Err }

// FilesystemError wraps an I/O failure during a build, delete or cache write.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IsNotFound reports whether err contains a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// AsIntegrity checks if an error is an IntegrityError and returns it.
func AsIntegrity(err error) (*IntegrityError, bool) {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsMalformed reports whether err contains a MalformedIndexError.
func IsMalformed(err error) bool {
	var me *MalformedIndexError
	return errors.As(err, &me)
}

// IsFilesystem reports whether err contains a FilesystemError.
func IsFilesystem(err error) bool {
	var fe *FilesystemError
	return errors.As(err, &fe)
}
