package fuse

import "errors"

var (
	// ErrInvalidInput indicates malformed arguments: mismatched parallel
	// arrays, an empty source list or out-of-range parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNumericDegenerate indicates a computation with no defined result,
	// such as L2 normalization of a zero vector.
	ErrNumericDegenerate = errors.New("numeric degenerate")
	// ErrMissingKey indicates an accumulator lookup for a key that was never added.
	ErrMissingKey = errors.New("missing key")
)
