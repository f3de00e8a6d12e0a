//go:build nometrics

package obs

import (
	"context"
	"time"
)

func ObserveHTTPRequest(string, string, time.Duration, string) {}

func ObserveFusion(string, string, int, time.Duration) {}

func RecordCacheLookup(bool) {}

func IncBudgetHit() {}

func IncRateLimited() {}

func InitTracer(string, float64) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
