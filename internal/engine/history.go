package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/pagecomposer/internal/history"
	"github.com/local/pagecomposer/internal/metrics"
)

// HistoryRecorder persists a summary of successful scale operations.
type HistoryRecorder interface {
	Append(ctx context.Context, rec history.Record) error
}

const defaultHistoryTimeout = 5 * time.Second

// recordHistory appends rec in the background. Failures are logged and
// dropped; the caller's result is never affected.
func (e *Engine) recordHistory(lg zerolog.Logger, rec history.Record) {
	if e.history == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.historyTimeout)
		defer cancel()
		if err := e.history.Append(ctx, rec); err != nil {
			metrics.IncHistoryWrite("error")
			lg.Warn().Err(err).Str("file", rec.Filename).Msg("history append failed (ignored)")
			return
		}
		metrics.IncHistoryWrite("ok")
		lg.Debug().Str("file", rec.Filename).Msg("history recorded")
	}()
}
