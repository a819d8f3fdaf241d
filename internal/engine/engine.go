// Package engine resolves page geometry, builds page plans and composes output
// documents through a Codec.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/local/pagecomposer/internal/history"
)

// SourceFile is one uploaded or fetched source document.
type SourceFile struct {
	Name string
	Data []byte
}

// Result is a composed document plus the metadata reported to callers.
type Result struct {
	Op        Operation
	Data      []byte
	Width     float64 // representative page width
	Height    float64 // representative page height
	PageCount int
	Skipped   int

	// Scale only.
	Scale        float64
	SourceWidth  float64
	SourceHeight float64
}

type Options struct {
	History        HistoryRecorder
	HistoryTimeout time.Duration
}

// Engine is stateless between calls and safe for concurrent use.
type Engine struct {
	codec          Codec
	history        HistoryRecorder
	historyTimeout time.Duration
	wg             sync.WaitGroup
}

func New(codec Codec, opts Options) *Engine {
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = defaultHistoryTimeout
	}
	return &Engine{codec: codec, history: opts.History, historyTimeout: opts.HistoryTimeout}
}

// Close waits for background history writes.
func (e *Engine) Close() { e.wg.Wait() }

// Scale resizes every page of src to width and records the conversion in the
// history store.
func (e *Engine) Scale(ctx context.Context, src SourceFile, width float64) (*Result, error) {
	r := newRun(ctx, OpScale)
	r.enter(StateValidating)
	if err := UniformWidth(width).Validate(); err != nil {
		return nil, r.fail(err)
	}
	docs, infos, err := e.load(ctx, []SourceFile{src})
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanScale(infos[0], width)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, []SourceFile{src}, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	first := infos[0].Pages[0]
	res.SourceWidth, res.SourceHeight = first.Width, first.Height
	res.Scale = width / first.Width
	r.done(res)

	e.recordHistory(r.log, history.Record{
		Filename:     src.Name,
		SourceWidth:  first.Width,
		TargetWidth:  width,
		Scale:        res.Scale,
		OriginalSize: int64(len(src.Data)),
		OutputSize:   int64(len(res.Data)),
	})
	return res, nil
}

// Merge concatenates srcs, each normalised to width by its first page.
func (e *Engine) Merge(ctx context.Context, srcs []SourceFile, width float64) (*Result, error) {
	r := newRun(ctx, OpMerge)
	r.enter(StateValidating)
	if err := UniformWidth(width).Validate(); err != nil {
		return nil, r.fail(err)
	}
	docs, infos, err := e.load(ctx, srcs)
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanMerge(infos, width)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, srcs, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done(res)
	return res, nil
}

// Mix builds a document from an explicit list of pages across srcs.
func (e *Engine) Mix(ctx context.Context, srcs []SourceFile, refs []PageRef, width float64) (*Result, error) {
	r := newRun(ctx, OpMix)
	r.enter(StateValidating)
	if err := UniformWidth(width).Validate(); err != nil {
		return nil, r.fail(err)
	}
	if len(refs) == 0 {
		return nil, r.fail(newError(ErrEmptyPagePlan, "no pages selected"))
	}
	docs, infos, err := e.load(ctx, srcs)
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanMix(infos, refs, width)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, srcs, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done(res)
	return res, nil
}

// Normalize forces every page of src to the size picked by policy.
func (e *Engine) Normalize(ctx context.Context, src SourceFile, policy CanvasPolicy) (*Result, error) {
	r := newRun(ctx, OpNormalize)
	r.enter(StateValidating)
	if policy.Kind == PolicyCustom && (!positive(policy.Width) || !positive(policy.Height)) {
		return nil, r.fail(invalidTarget("target size must be > 0, got %gx%g", policy.Width, policy.Height))
	}
	docs, infos, err := e.load(ctx, []SourceFile{src})
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanNormalize(infos[0], policy)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, []SourceFile{src}, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done(res)
	return res, nil
}

// Reorder copies pages of src in order (1-based page numbers).
func (e *Engine) Reorder(ctx context.Context, src SourceFile, order []int) (*Result, error) {
	r := newRun(ctx, OpReorder)
	r.enter(StateValidating)
	if len(order) == 0 {
		return nil, r.fail(newError(ErrEmptyPagePlan, "page order is empty"))
	}
	docs, infos, err := e.load(ctx, []SourceFile{src})
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanReorder(infos[0], order)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, []SourceFile{src}, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done(res)
	return res, nil
}

// ExtractPage returns a single-page document holding page index of src.
func (e *Engine) ExtractPage(ctx context.Context, src SourceFile, index int) (*Result, error) {
	r := newRun(ctx, OpExtract)
	r.enter(StateValidating)
	docs, infos, err := e.load(ctx, []SourceFile{src})
	if err != nil {
		return nil, r.fail(err)
	}
	plan, err := PlanExtract(infos[0], index)
	if err != nil {
		return nil, r.fail(err)
	}
	res, err := e.compose(ctx, r, plan, []SourceFile{src}, docs)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done(res)
	return res, nil
}

// Inspect returns the page sizes of src.
func (e *Engine) Inspect(ctx context.Context, src SourceFile) (SourceInfo, error) {
	_, infos, err := e.load(ctx, []SourceFile{src})
	if err != nil {
		return SourceInfo{}, err
	}
	return infos[0], nil
}

// load parses every source concurrently. Order of the returned slices
// matches srcs.
func (e *Engine) load(ctx context.Context, srcs []SourceFile) ([]Document, []SourceInfo, error) {
	if len(srcs) == 0 {
		return nil, nil, invalidInput("no files provided")
	}
	for i, src := range srcs {
		if len(src.Data) == 0 {
			err := invalidInput("file is empty")
			err.Source, err.Name = i, src.Name
			return nil, nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	docs := make([]Document, len(srcs))
	infos := make([]SourceInfo, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		g.Go(func() error {
			doc, err := e.codec.Load(gctx, src.Name, src.Data)
			if err != nil {
				return &Error{Kind: ErrMalformedDocument, Source: i, Page: -1, Name: src.Name, Err: err}
			}
			info := SourceInfo{Name: src.Name, Pages: make([]Size, doc.PageCount())}
			for p := range info.Pages {
				s, err := doc.PageSize(p)
				if err != nil {
					return &Error{Kind: ErrMalformedDocument, Source: i, Page: p, Name: src.Name, Err: err}
				}
				info.Pages[p] = s
			}
			docs[i], infos[i] = doc, info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return docs, infos, nil
}
