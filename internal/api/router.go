package api

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/searchforge/rankfusion/fuse"
	"github.com/searchforge/rankfusion/internal/contract"
	"github.com/searchforge/rankfusion/internal/controller"
	"github.com/searchforge/rankfusion/internal/health"
	"github.com/searchforge/rankfusion/internal/logging"
	"github.com/searchforge/rankfusion/obs"
	"github.com/searchforge/rankfusion/policy"
)

const (
	maxBodyBytes    = 16 << 20
	readyMaxLatency = 200 * time.Millisecond
)

// Router wires the HTTP endpoints for the fusion service.
type Router struct {
	controller *controller.Controller
	limiter    *policy.KeyedLimiter
}

// NewRouter constructs the HTTP router. A nil limiter disables rate limiting.
func NewRouter(ctrl *controller.Controller, limiter *policy.KeyedLimiter) (*chi.Mux, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	r := &Router{
		controller: ctrl,
		limiter:    limiter,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(traceID)
	mux.Use(observe)

	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/readyz", health.Readyz(ctrl, readyMaxLatency))

	mux.Route("/v1", func(v1 chi.Router) {
		v1.Use(r.rateLimit)
		v1.Post("/fuse/{strategy}", r.handleFuse)
		v1.Post("/fuse/batch", r.handleBatch)
		v1.Post("/rerank/mmr", r.handleMMR)
		v1.Post("/normalize", r.handleNormalize)
	})

	return mux, nil
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleFuse(w http.ResponseWriter, req *http.Request) {
	var body contract.FuseRequest
	if !decode(w, req, &body) {
		return
	}
	strategy := chi.URLParam(req, "strategy")
	switch strategy {
	case contract.StrategyMerge, contract.StrategyAdditive, contract.StrategyWeighted:
	default:
		writeError(w, req, fmt.Errorf("%w: unknown strategy %q", fuse.ErrInvalidInput, strategy))
		return
	}
	if body.Strategy != "" && body.Strategy != strategy {
		writeError(w, req, fmt.Errorf("%w: body strategy %q conflicts with path %q", fuse.ErrInvalidInput, body.Strategy, strategy))
		return
	}
	body.Strategy = strategy

	resp, err := r.controller.Fuse(req.Context(), body)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleBatch(w http.ResponseWriter, req *http.Request) {
	var body contract.BatchRequest
	if !decode(w, req, &body) {
		return
	}
	resp, err := r.controller.FuseBatch(req.Context(), body)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleMMR(w http.ResponseWriter, req *http.Request) {
	var body contract.MMRRequest
	if !decode(w, req, &body) {
		return
	}
	resp, err := r.controller.Rerank(req.Context(), body)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) handleNormalize(w http.ResponseWriter, req *http.Request) {
	var body contract.NormalizeRequest
	if !decode(w, req, &body) {
		return
	}
	resp, err := r.controller.Normalize(req.Context(), body)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// traceID propagates the caller's trace id or mints one.
func traceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := req.Header.Get(contract.TraceIDHeader)
		if id == "" {
			id = req.URL.Query().Get("trace_id")
		}
		if id == "" {
			id = logging.NewTraceID()
		}
		w.Header().Set(contract.TraceIDHeader, id)
		next.ServeHTTP(w, req.WithContext(logging.ContextWithTraceID(req.Context(), id)))
	})
}

// observe records request metrics and an access log line.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		obs.ObserveHTTPRequest(route, strconv.Itoa(status), elapsed, logging.TraceIDFromContext(req.Context()))

		logging.Ctx(req.Context()).Debug().
			Str("method", req.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

func (r *Router) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.limiter.Allow(clientKey(req), time.Now()) {
			obs.IncRateLimited()
			writeError(w, req, policy.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// clientKey is the connection peer address. Forwarding headers are client
// controlled and never used for limiting.
func clientKey(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, req, fmt.Errorf("%w: malformed body: %v", fuse.ErrInvalidInput, err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, policy.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, fuse.ErrInvalidInput), errors.Is(err, fuse.ErrMissingKey):
		return http.StatusBadRequest
	case errors.Is(err, fuse.ErrNumericDegenerate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, policy.ErrBudgetExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	retCode := controller.RetCode(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(req.Context()).Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, contract.ErrorResponse{
		Error:   err.Error(),
		RetCode: retCode,
		TraceID: logging.TraceIDFromContext(req.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		logging.Error().Err(err).Msg("encode response")
	}
}
