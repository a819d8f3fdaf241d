package engine

import (
	"github.com/rs/zerolog/log"
)

// Operation names a composition request shape.
type Operation string

const (
	OpScale     Operation = "scale"
	OpMerge     Operation = "merge"
	OpMix       Operation = "mix"
	OpNormalize Operation = "normalize"
	OpReorder   Operation = "reorder"
	OpExtract   Operation = "extract"
)

// normalizeEpsilon is how close a page must be to the normalize target, in
// both dimensions, to be passed through untransformed.
const normalizeEpsilon = 1.0

// SourceInfo is the page metadata of one source document. Its identity is its
// index in the request.
type SourceInfo struct {
	Name  string
	Pages []Size
}

// PageRef selects one page of one source for mixing.
type PageRef struct {
	Source int `json:"fileIndex"`
	Page   int `json:"pageIndex"`
}

// PlanEntry is one output page, in output order.
type PlanEntry struct {
	Source int
	Page   int
	Target TargetSpec
}

// Plan fully determines an operation's output.
type Plan struct {
	Op      Operation
	Entries []PlanEntry
	// Canvas, when set, is reported instead of the first page's box.
	Canvas  *Size
	Skipped int
}

// PlanScale scales every page of src to width, keeping each page's aspect.
func PlanScale(src SourceInfo, width float64) (Plan, error) {
	target := UniformWidth(width)
	if err := target.Validate(); err != nil {
		return Plan{}, withOp(OpScale, err)
	}
	if len(src.Pages) == 0 {
		e := newError(ErrNoPagesAvailable, "document has no pages")
		e.Op, e.Source, e.Name = OpScale, 0, src.Name
		return Plan{}, e
	}
	p := Plan{Op: OpScale, Entries: make([]PlanEntry, 0, len(src.Pages))}
	for i := range src.Pages {
		p.Entries = append(p.Entries, PlanEntry{Source: 0, Page: i, Target: target})
	}
	return p, nil
}

// PlanMerge concatenates sources in order. Each source is scaled by the factor
// that brings its own first page to width, so pages of one source keep their
// relative sizes.
func PlanMerge(srcs []SourceInfo, width float64) (Plan, error) {
	if err := UniformWidth(width).Validate(); err != nil {
		return Plan{}, withOp(OpMerge, err)
	}
	if len(srcs) == 0 {
		return Plan{}, withOp(OpMerge, invalidInput("no source documents"))
	}
	p := Plan{Op: OpMerge}
	for si, src := range srcs {
		if len(src.Pages) == 0 {
			log.Warn().Int("source", si).Str("name", src.Name).Msg("source has no pages; skipping")
			p.Skipped++
			continue
		}
		first := src.Pages[0]
		if err := checkPage(OpMerge, si, 0, src.Name, first); err != nil {
			return Plan{}, err
		}
		scale := width / first.Width
		for pi, page := range src.Pages {
			if err := checkPage(OpMerge, si, pi, src.Name, page); err != nil {
				return Plan{}, err
			}
			p.Entries = append(p.Entries, PlanEntry{Source: si, Page: pi, Target: UniformWidth(page.Width * scale)})
		}
	}
	if len(p.Entries) == 0 {
		return Plan{}, withOp(OpMerge, newError(ErrEmptyPagePlan, "no valid pages to merge"))
	}
	return p, nil
}

// PlanMix builds the output from an explicit, ordered list of page refs. Each
// page is scaled from its own width. Refs outside the sources are dropped.
func PlanMix(srcs []SourceInfo, refs []PageRef, width float64) (Plan, error) {
	target := UniformWidth(width)
	if err := target.Validate(); err != nil {
		return Plan{}, withOp(OpMix, err)
	}
	if len(srcs) == 0 {
		return Plan{}, withOp(OpMix, invalidInput("no source documents"))
	}
	if len(refs) == 0 {
		return Plan{}, withOp(OpMix, newError(ErrEmptyPagePlan, "no pages selected"))
	}
	p := Plan{Op: OpMix, Entries: make([]PlanEntry, 0, len(refs))}
	for i, ref := range refs {
		if ref.Source < 0 || ref.Source >= len(srcs) || ref.Page < 0 || ref.Page >= len(srcs[ref.Source].Pages) {
			log.Debug().Int("position", i).Int("source", ref.Source).Int("page", ref.Page).Msg("mix ref out of range; dropped")
			p.Skipped++
			continue
		}
		p.Entries = append(p.Entries, PlanEntry{Source: ref.Source, Page: ref.Page, Target: target})
	}
	if len(p.Entries) == 0 {
		return Plan{}, withOp(OpMix, newError(ErrEmptyPagePlan, "no selected page exists"))
	}
	return p, nil
}

// PlanNormalize forces every page of src to one size chosen by policy. Pages
// already within one unit of it are passed through.
func PlanNormalize(src SourceInfo, policy CanvasPolicy) (Plan, error) {
	switch policy.Kind {
	case PolicyCustom:
		if !positive(policy.Width) || !positive(policy.Height) {
			return Plan{}, withOp(OpNormalize,
				invalidTarget("target size must be > 0, got %gx%g", policy.Width, policy.Height))
		}
	case PolicyExplicitWidth:
		return Plan{}, withOp(OpNormalize, invalidInput("normalize needs a full target size"))
	}
	target, err := ResolveCanvas(src.Pages, policy)
	if err != nil {
		return Plan{}, withOp(OpNormalize, err)
	}
	p := Plan{Op: OpNormalize, Canvas: &target, Entries: make([]PlanEntry, 0, len(src.Pages))}
	for i, page := range src.Pages {
		if page.Within(target, normalizeEpsilon) {
			p.Entries = append(p.Entries, PlanEntry{Source: 0, Page: i, Target: Identity()})
			continue
		}
		p.Entries = append(p.Entries, PlanEntry{Source: 0, Page: i, Target: ExplicitSize(target.Width, target.Height)})
	}
	return p, nil
}

// PlanReorder copies pages of src in the given order of 1-based page numbers.
// Numbers may repeat; pages not listed are left out.
func PlanReorder(src SourceInfo, order []int) (Plan, error) {
	if len(order) == 0 {
		return Plan{}, withOp(OpReorder, newError(ErrEmptyPagePlan, "page order is empty"))
	}
	p := Plan{Op: OpReorder, Entries: make([]PlanEntry, 0, len(order))}
	for pos, n := range order {
		if n < 1 || n > len(src.Pages) {
			log.Warn().Int("page_number", n).Int("position", pos+1).Int("page_count", len(src.Pages)).
				Msg("invalid page number; skipping")
			p.Skipped++
			continue
		}
		p.Entries = append(p.Entries, PlanEntry{Source: 0, Page: n - 1, Target: Identity()})
	}
	if len(p.Entries) == 0 {
		return Plan{}, withOp(OpReorder, newError(ErrEmptyPagePlan, "no valid page numbers"))
	}
	return p, nil
}

// PlanExtract copies the single page at index.
func PlanExtract(src SourceInfo, index int) (Plan, error) {
	if index < 0 || index >= len(src.Pages) {
		return Plan{}, withOp(OpExtract,
			invalidInput("page index %d out of range (document has %d pages)", index, len(src.Pages)))
	}
	return Plan{Op: OpExtract, Entries: []PlanEntry{{Source: 0, Page: index, Target: Identity()}}}, nil
}

func checkPage(op Operation, source, page int, name string, s Size) error {
	if positive(s.Width) && positive(s.Height) {
		return nil
	}
	e := newError(ErrInvalidSourceGeometry, "page size "+s.String())
	e.Op, e.Source, e.Page, e.Name = op, source, page, name
	return e
}
