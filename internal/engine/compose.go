package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/metrics"
)

// State is the lifecycle of one composition request.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateBuilding
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateBuilding:
		return "building"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// run tracks one request through its states.
type run struct {
	op    Operation
	state State
	start time.Time
	log   zerolog.Logger
}

func newRun(ctx context.Context, op Operation) *run {
	return &run{
		op:    op,
		start: time.Now(),
		log:   logger.Ctx(ctx).With().Str("op", string(op)).Logger(),
	}
}

func (r *run) enter(s State) {
	r.log.Debug().Str("from", r.state.String()).Str("to", s.String()).Msg("composition state")
	r.state = s
}

func (r *run) fail(err error) error {
	r.enter(StateFailed)
	metrics.ObserveComposition(string(r.op), "failed", time.Since(r.start))
	err = withOp(r.op, err)
	r.log.Warn().Err(err).Msg("composition failed")
	return err
}

func (r *run) done(res *Result) {
	r.enter(StateDone)
	metrics.ObserveComposition(string(r.op), "ok", time.Since(r.start))
	metrics.AddPages(string(r.op), res.PageCount)
	if res.Skipped > 0 {
		metrics.AddSkipped(string(r.op), res.Skipped)
	}
	r.log.Info().
		Int("pages", res.PageCount).
		Int("skipped", res.Skipped).
		Float64("width", res.Width).
		Float64("height", res.Height).
		Int("bytes", len(res.Data)).
		Dur("took", time.Since(r.start)).
		Msg("composition complete")
}

// compose walks plan in order and writes each page into a new output
// document. Any page failure aborts the whole request.
func (e *Engine) compose(ctx context.Context, r *run, plan Plan, srcs []SourceFile, docs []Document) (*Result, error) {
	r.enter(StateBuilding)
	out := e.codec.New()
	var first Transform
	for i, entry := range plan.Entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("composition cancelled at page %d: %w", i+1, err)
		}
		doc := docs[entry.Source]
		name := srcs[entry.Source].Name

		size, err := doc.PageSize(entry.Page)
		if err != nil {
			return nil, pageError(ErrMalformedDocument, entry, name, err)
		}
		t, err := Resolve(size, entry.Target)
		if err != nil {
			var ce *Error
			if errors.As(err, &ce) {
				ce.Source, ce.Page, ce.Name = entry.Source, entry.Page, name
			}
			return nil, err
		}
		h, err := out.CopyPage(doc, entry.Page)
		if err != nil {
			return nil, pageError(ErrMalformedDocument, entry, name, err)
		}
		if entry.Target.Mode != ModeIdentity {
			h.SetSize(t.Box.Width, t.Box.Height)
			h.ApplyContentTransform(t.ScaleX, t.ScaleY)
			h.TranslateContent(t.TranslateX, t.TranslateY)
		}
		if i == 0 {
			first = t
		}
		r.log.Debug().
			Int("position", i+1).
			Int("source", entry.Source).
			Int("page", entry.Page+1).
			Str("from", size.String()).
			Str("to", t.Box.String()).
			Float64("scale_x", t.ScaleX).
			Float64("scale_y", t.ScaleY).
			Msg("page composed")
	}

	r.enter(StateFinalizing)
	data, err := out.Save()
	if err != nil {
		return nil, fmt.Errorf("save output: %w", err)
	}
	res := &Result{
		Op:        plan.Op,
		Data:      data,
		Width:     first.Box.Width,
		Height:    first.Box.Height,
		PageCount: out.PageCount(),
		Skipped:   plan.Skipped,
	}
	if plan.Canvas != nil {
		res.Width, res.Height = plan.Canvas.Width, plan.Canvas.Height
	}
	return res, nil
}

func pageError(kind error, entry PlanEntry, name string, err error) *Error {
	return &Error{Kind: kind, Source: entry.Source, Page: entry.Page, Name: name, Err: err}
}
