// services/anti-cheat/internal/service/errors.go
package service

import (
	"errors"
	"fmt"

	"trust-defense/services/anti-cheat/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownAction     = errors.New("unknown action")
	ErrAlreadyReviewed   = errors.New("detection already reviewed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPermanentBan      = errors.New("user is permanently banned")
	ErrTooManyConflicts  = errors.New("too many concurrent updates")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
