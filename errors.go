package passport

import (
	"errors"
)

var (
	// ErrNotLoggedIn is returned when no usable session is persisted.
	// It covers "never logged in" as well as "session ended by a failed refresh".
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTransport is returned when the login or refresh endpoint fails
	ErrTransport = errors.New("authentication endpoint failed")

	// ErrMalformedToken is returned when the access token payload cannot be decoded
	ErrMalformedToken = errors.New("malformed token")

	// ErrKeyNotFound is returned by a Storage when the key holds no value
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreOperationFailed is returned when a store operation fails
	ErrStoreOperationFailed = errors.New("store operation failed")
)
