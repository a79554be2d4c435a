package engine

import (
	"fmt"
	"strings"

	"github.com/scrypster/cadence/internal/storage"
)

// ValidationError reports malformed or missing input. It is always returned
// before any storage call and matches storage.ErrInvalidInput with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, storage.ErrInvalidInput) hold.
func (e *ValidationError) Unwrap() error {
	return storage.ErrInvalidInput
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return invalid("owner_id", "must not be empty")
	}
	return nil
}

// normalizeTag trims and lowercases an activity tag so that "Running" and
// "running " describe the same activity.
func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
