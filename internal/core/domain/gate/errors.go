package gate

import "errors"

var (
	// ErrStoreUnavailable wraps backing-store failures. Callers degrade per the
	// configured fail-open/fail-closed policy instead of failing the request.
	ErrStoreUnavailable = errors.New("admission store unavailable")

	// ErrInvalidIdentity marks an empty or malformed identity key. This is a
	// client error, distinct from a quota or rate denial.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrNotFound is returned by repositories when no record exists for a key.
	ErrNotFound = errors.New("record not found")

	// ErrUnsupported is returned by stores that do not implement an optional
	// capability, such as window reporting on the Redis backend.
	ErrUnsupported = errors.New("operation not supported by this store")
)
