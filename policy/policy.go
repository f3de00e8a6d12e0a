package policy

import "errors"

var (
	// ErrRateLimited indicates the caller exhausted its request tokens.
	ErrRateLimited = errors.New("rate limited")
	// ErrBudgetExceeded indicates the overall budget has been exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")
)
