package roster

import "errors"

var (
	// ErrNotFound is returned when no student carries the requested id.
	ErrNotFound = errors.New("student not found")
	// ErrDuplicatePhone is returned when a new student's phone is already registered.
	ErrDuplicatePhone = errors.New("student phone already registered")
	// ErrPersistence wraps storage backend failures. The in-memory document is
	// rolled back before this is returned.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidGrade is returned when a student carries an unknown grade.
	ErrInvalidGrade = errors.New("invalid grade")
)
