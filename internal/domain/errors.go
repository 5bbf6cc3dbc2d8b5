package domain

import "errors"

var (
	// ErrSchema marks an input table missing required columns. Fatal.
	ErrSchema = errors.New("malformed input schema")

	// ErrInvalidPolicy marks a scoring policy that cannot be applied.
	ErrInvalidPolicy = errors.New("invalid policy")
)
