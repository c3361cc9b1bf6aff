package domain

import "errors"

// Entity Store (C1) sentinel errors. These are the only Go errors the
// store layer returns for anticipated conditions; callers translate
// them into a Result with the matching Code.
var (
	ErrNotFound       = errors.New("entity not found")
	ErrConflict       = errors.New("version conflict")
	ErrUniqueViolation = errors.New("unique constraint violation")
)
