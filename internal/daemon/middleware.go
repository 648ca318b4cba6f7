package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/observability"
)

// requestInfo is per-request state that handlers fill in for the access log.
type requestInfo struct {
	id    string
	runID string
}

type requestInfoKey struct{}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// setRunID tags the current request with the agent run it served.
func setRunID(r *http.Request, runID string) {
	infoFrom(r.Context()).runID = runID
}

// recorder captures the status code while passing through the optional
// interfaces the streaming handlers rely on.
type recorder struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (rw *recorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *recorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
		if rw.status == 0 {
			rw.status = http.StatusSwitchingProtocols
		}
	}
	return conn, buf, err
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// observe assigns a request ID, opens a server span, and records the
// finished request in metrics, the trace log and the access log.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{id: r.Header.Get("X-Request-ID")}
		if info.id == "" {
			info.id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
		ctx = observability.AddRequestID(ctx, info.id)
		ctx = observability.ExtractHTTP(ctx, r.Header)
		ctx, span := s.tracer.Start(ctx, "http "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("http.request_id", info.id),
			))
		defer span.End()

		w.Header().Set("X-Request-ID", info.id)
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", status))
		if info.runID != "" {
			span.SetAttributes(attribute.String("agent.run_id", info.runID))
		}
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, status, d)
		s.traceLog.Add(observability.RequestRecord{
			ID:         info.id,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     status,
			DurationMS: d.Milliseconds(),
			RunID:      info.runID,
			TraceID:    observability.TraceID(ctx),
			At:         start.UTC(),
		})
		if info.runID != "" {
			ctx = observability.AddRunID(ctx, info.runID)
		}
		s.logger.InfoContext(ctx, "http request",
			"method", r.Method, "path", r.URL.Path, "status", status, "duration", d)
	})
}

// chatPaths are the endpoints whose consumer renders a single JSON shape;
// unexpected failures there are downgraded to a flagged 200.
var chatPaths = map[string]bool{
	"/agent":              true,
	"/agent/stream":       true,
	"/checkpoints/resume": true,
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			s.logger.ErrorContext(r.Context(), "handler panic",
				"path", r.URL.Path, "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
			if rec, ok := w.(*recorder); ok && (rec.status != 0 || rec.hijacked) {
				return
			}
			if chatPaths[r.URL.Path] {
				w.Header().Set(agentStatusHeader, "error")
				writeJSON(w, http.StatusOK, failureEnvelope(CodeInternal, "internal error"))
				return
			}
			writeError(w, newError(http.StatusInternalServerError, CodeInternal, "internal error"))
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate enforces bearer tokens on every non-public path.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() || s.auth.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			msg := "invalid bearer token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "missing bearer token"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentd"`)
			writeError(w, newError(http.StatusUnauthorized, CodeUnauthorized, "%s", msg))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// rateLimit applies the per-path sliding window. Public paths are exempt so
// health probes never starve.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		d := s.limiter.Allow(r.URL.Path)
		if d.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.metrics.RecordRateLimited(r.URL.Path)
			writeError(w, newError(http.StatusTooManyRequests, CodeRateLimited,
				"rate limit of %d requests per window exceeded for %s", d.Limit, r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody rejects oversized declared bodies before reading them and caps
// bodies without a declared length.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.cfg.MaxBodyBytes {
			w.Header().Set("Connection", "close")
			writeError(w, newError(http.StatusRequestEntityTooLarge, CodeTooLarge,
				"request body of %d bytes exceeds %d", r.ContentLength, s.cfg.MaxBodyBytes))
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// detachDeadline lifts the server write timeout for long agent responses.
func detachDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
