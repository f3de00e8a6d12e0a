package policy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBudgetArbiterCancelsWithinBudget(t *testing.T) {
	ctx, cancel, result := BudgetArbiter(context.Background(), 50)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected context to cancel within budget window")
	}

	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", ctx.Err())
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for !result.Hit() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !errors.Is(result.Err(), ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", result.Err())
	}
}

func TestBudgetArbiterWithoutBudget(t *testing.T) {
	ctx, cancel, result := BudgetArbiter(context.Background(), 0)
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("expected no deadline for zero budget")
	}
	cancel()
	<-ctx.Done()
	if result.Hit() {
		t.Fatal("manual cancel must not count as budget hit")
	}
}

func TestBudgetArbiterCancelBeforeDeadline(t *testing.T) {
	ctx, cancel, result := BudgetArbiter(context.Background(), 10_000)
	cancel()
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	if result.Err() != nil {
		t.Fatalf("expected nil error, got %v", result.Err())
	}
}
