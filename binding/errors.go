package binding

import (
	"errors"
	"fmt"

	"github.com/chazu/hostrt/capability"
)

var (
	// ErrNotConstructibleForProfile reports a constructor call on a type
	// that has no constructor exposed to the profile.
	ErrNotConstructibleForProfile = errors.New("binding: not constructible for profile")

	// ErrUnknownType reports a prototype request for an unregistered type.
	ErrUnknownType = errors.New("binding: unknown type")
)

// NotConstructibleError names the type and profile of a refused
// construction.
type NotConstructibleError struct {
	Type    string
	Profile capability.Profile
}

func (e *NotConstructibleError) Error() string {
	return fmt.Sprintf("binding: %s is not constructible for %s", e.Type, e.Profile)
}

func (e *NotConstructibleError) Unwrap() error {
	return ErrNotConstructibleForProfile
}
