package policy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/searchforge/rankfusion/obs"
)

// BudgetResult tracks whether the overall budget was exhausted.
type BudgetResult struct {
	hit atomic.Bool
}

// Hit reports whether the allotted budget was consumed.
func (b *BudgetResult) Hit() bool {
	if b == nil {
		return false
	}
	return b.hit.Load()
}

// Err returns ErrBudgetExceeded once the budget was hit, else nil.
func (b *BudgetResult) Err() error {
	if b.Hit() {
		return ErrBudgetExceeded
	}
	return nil
}

// BudgetArbiter derives a deadline-bound context from parent and records whether the budget was reached.
// A non-positive budget yields a plain cancelable context.
func BudgetArbiter(parent context.Context, budgetMS int) (context.Context, context.CancelFunc, *BudgetResult) {
	if parent == nil {
		parent = context.Background()
	}

	result := &BudgetResult{}
	if budgetMS <= 0 {
		ctx, cancel := context.WithCancel(parent)
		return ctx, cancel, result
	}

	ctx, cancel := context.WithTimeout(parent, time.Duration(budgetMS)*time.Millisecond)
	go func() {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.hit.Store(true)
			obs.IncBudgetHit()
		}
	}()
	return ctx, cancel, result
}
