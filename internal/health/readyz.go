package health

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Pinger is satisfied by the controller.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readyz returns an http.Handler that reports whether a probe fusion succeeds
// within maxLatency.
func Readyz(p Pinger, maxLatency time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := p.Ping(r.Context())
		latency := time.Since(start)

		ok := err == nil && latency <= maxLatency
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}

		payload := map[string]any{
			"fusion_ok":    err == nil,
			"last_ping_us": latency.Microseconds(),
		}
		if err != nil {
			payload["error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
}
