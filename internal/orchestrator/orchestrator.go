// Package orchestrator exposes the composition engine over HTTP.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/filetype"
	"github.com/local/pagecomposer/internal/history"
	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/metrics"
	"github.com/local/pagecomposer/internal/statuscheck"
	"github.com/local/pagecomposer/internal/storage"
	"github.com/local/pagecomposer/internal/thumbnail"
)

type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
}

type Thumbnailer interface {
	Cached(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error)
}

type StatusReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Engine   *engine.Engine
	Detector *filetype.Detector
	Thumbs   Thumbnailer    // nil disables /api/pdf-thumbnail
	History  HistoryLister  // nil when history is disabled
	Sources  *Fetcher       // nil disables /api/compose
	Results  ResultStore    // nil disables /api/compose
	Status   StatusReporter

	MaxUploadBytes int64
	HistoryLimit   int
}

type Orchestrator struct {
	deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 100 << 20
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 100
	}
	return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.Handle("/metrics", metrics.Handler())

	o.route(mux, http.MethodGet, "/status", o.handleStatus)
	o.route(mux, http.MethodPost, "/api/scale-pdf", o.handleScale)
	o.route(mux, http.MethodPost, "/api/merge-pdf", o.handleMerge)
	o.route(mux, http.MethodPost, "/api/mix-pdf", o.handleMix)
	o.route(mux, http.MethodPost, "/api/normalize-pdf", o.handleNormalize)
	o.route(mux, http.MethodPost, "/api/reorder-pdf", o.handleReorder)
	o.route(mux, http.MethodPost, "/api/pdf-thumbnail", o.handleThumbnail)
	o.route(mux, http.MethodPost, "/api/pdf-info", o.handleInfo)
	o.route(mux, http.MethodGet, "/api/history", o.handleHistory)
	o.route(mux, http.MethodPost, "/api/compose", o.handleCompose)
	o.route(mux, http.MethodGet, "/api/results/", o.handleResult)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// route tags the request with an id, checks the method, counts the response
// and turns a returned error into a JSON error body.
func (o *Orchestrator) route(mux *http.ServeMux, method, path string, h handlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(logger.WithRequestID(r.Context(), id))
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()

		var err error
		if r.Method != method {
			err = &httpError{Code: http.StatusMethodNotAllowed, Msg: "method not allowed"}
		} else {
			err = h(sw, r)
		}
		if err != nil {
			writeError(sw, r, err)
		}
		metrics.IncHTTP(path, sw.code)
		logger.Ctx(r.Context()).Debug().
			Str("route", path).
			Int("status", sw.code).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// httpError is a request-level failure that is not an engine error.
type httpError struct {
	Code int
	Msg  string
	Err  error
}

func (e *httpError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *httpError) Unwrap() error { return e.Err }

func badRequest(msg string) error { return &httpError{Code: http.StatusBadRequest, Msg: msg} }

// statusFor maps an error to the response status.
func statusFor(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, engine.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEmptyPagePlan),
		errors.Is(err, engine.ErrNoPagesAvailable),
		errors.Is(err, engine.ErrMalformedDocument),
		errors.Is(err, engine.ErrInvalidSourceGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrPasswordRequired):
		return http.StatusUnauthorized
	case errors.Is(err, thumbnail.ErrCoolingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	var he *httpError
	if errors.As(err, &he) {
		msg = he.Msg
	} else if code == http.StatusInternalServerError {
		msg = "PDF processing failed"
	}
	lg := logger.Ctx(r.Context())
	if code >= 500 {
		lg.Error().Err(err).Int("status", code).Msg("request failed")
	} else {
		lg.Warn().Err(err).Int("status", code).Msg("request rejected")
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) error {
	if o.deps.Status == nil {
		return &httpError{Code: http.StatusServiceUnavailable, Msg: "status checks not configured"}
	}
	s := o.deps.Status.Summary(r.Context())
	code := http.StatusOK
	if !s.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, s)
	return nil
}

func (o *Orchestrator) handleHistory(w http.ResponseWriter, r *http.Request) error {
	limit := o.deps.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest("limit must be a positive integer")
		}
		limit = min(n, 1000)
	}
	recs := []history.Record{}
	if o.deps.History != nil {
		got, err := o.deps.History.List(r.Context(), limit)
		if err != nil {
			return &httpError{Code: http.StatusInternalServerError, Msg: "Failed to fetch history", Err: err}
		}
		recs = append(recs, got...)
	}
	writeJSON(w, http.StatusOK, recs)
	return nil
}
