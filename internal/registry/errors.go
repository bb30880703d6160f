package registry

import "errors"

// versionNotFoundError signals a version with no backing storage. Callers can
// correct it (pick another version); the HTTP layer maps it to 404.
type versionNotFoundError struct{ version string }

func (e versionNotFoundError) Error() string { return "model version not found: " + e.version }

// ErrVersionNotFound constructs a versionNotFoundError.
func ErrVersionNotFound(version string) error { return versionNotFoundError{version: version} }

// IsVersionNotFound reports whether err indicates a missing version.
func IsVersionNotFound(err error) bool {
	var t versionNotFoundError
	return errors.As(err, &t)
}

// loadFailedError signals storage that exists but could not be read or
// decoded. It is an operational condition (500 at the boundary) and is never
// cached, so a retry after fixing storage can succeed.
type loadFailedError struct {
	version string
	cause   error
}

func (e loadFailedError) Error() string { return "load model " + e.version + ": " + e.cause.Error() }
func (e loadFailedError) Unwrap() error { return e.cause }

// ErrLoadFailed constructs a loadFailedError wrapping cause.
func ErrLoadFailed(version string, cause error) error {
	return loadFailedError{version: version, cause: cause}
}

// IsLoadFailed reports whether err indicates a failed artifact load.
func IsLoadFailed(err error) bool {
	var t loadFailedError
	return errors.As(err, &t)
}
