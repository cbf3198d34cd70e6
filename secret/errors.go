package secret

import "errors"

var (
	// ErrMissingEnv is returned when ${VAR} names an unset variable.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrUnknownProvider is returned for a secretref naming no registered
	// provider.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrEmptySecret is returned by a strict Resolver when a provider yields
	// an empty value.
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrNotFound is returned by providers when the referenced secret does
	// not exist.
	ErrNotFound = errors.New("secret: not found")
)
