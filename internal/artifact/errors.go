package artifact

import "errors"

var (
	// ErrNotFound is returned when an artifact id is unknown.
	ErrNotFound = errors.New("artifact not found")

	// ErrAlreadyExists is returned when Put reuses an id.
	ErrAlreadyExists = errors.New("artifact already exists")

	// ErrSchema is returned when an artifact does not satisfy the schema.
	ErrSchema = errors.New("artifact schema violation")

	// ErrStatusRegression is returned when an unknown moves backwards.
	ErrStatusRegression = errors.New("unknown status regression")

	// ErrInvalidID is returned for ids unusable as storage keys.
	ErrInvalidID = errors.New("invalid artifact id")
)

// ErrArchived is returned when deriving from a revision that already has a
// successor.
var ErrArchived = errors.New("artifact revision archived")
