// Package codec implements engine.Codec on top of pdfcpu. Pages are copied
// with their resources intact; resizing rewrites the page boxes and wraps the
// existing content streams in a transform without decoding them.
package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/local/pagecomposer/internal/engine"
)

var configOnce sync.Once

// PDF is the pdfcpu-backed codec.
type PDF struct{}

func New() *PDF {
	configOnce.Do(api.DisableConfigDir)
	return &PDF{}
}

func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Load parses and validates data.
func (c *PDF) Load(ctx context.Context, name string, data []byte) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := api.ReadContext(bytes.NewReader(data), newConf())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := api.ValidateContext(pc); err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	if err := pc.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page tree %s: %w", name, err)
	}
	return &document{name: name, ctx: pc}, nil
}

func (c *PDF) New() engine.Output { return &output{} }

type document struct {
	name string
	ctx  *model.Context
	mu   sync.Mutex // pdfcpu caches into the xref table while extracting
}

func (d *document) PageCount() int { return d.ctx.PageCount }

func (d *document) PageSize(i int) (engine.Size, error) {
	box, err := d.mediaBox(i)
	if err != nil {
		return engine.Size{}, err
	}
	return engine.Size{Width: box.Width(), Height: box.Height()}, nil
}

func (d *document) mediaBox(i int) (*types.Rectangle, error) {
	if i < 0 || i >= d.ctx.PageCount {
		return nil, fmt.Errorf("page %d out of range (%d pages)", i+1, d.ctx.PageCount)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _, inh, err := d.ctx.PageDict(i+1, false)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", i+1, err)
	}
	if inh == nil || inh.MediaBox == nil {
		return nil, fmt.Errorf("page %d: missing MediaBox", i+1)
	}
	return inh.MediaBox, nil
}

type output struct {
	pages []*page
}

// CopyPage extracts page i of src into its own single-page context.
func (o *output) CopyPage(src engine.Document, i int) (engine.PageHandle, error) {
	d, ok := src.(*document)
	if !ok {
		return nil, fmt.Errorf("unsupported document type %T", src)
	}
	box, err := d.mediaBox(i)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	pc, err := pdfcpu.ExtractPages(d.ctx, []int{i + 1}, false)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", i+1, err)
	}
	if err := pc.EnsurePageCount(); err != nil {
		return nil, err
	}
	dict, _, _, err := pc.PageDict(1, false)
	if err != nil {
		return nil, err
	}
	if dict == nil {
		return nil, fmt.Errorf("extract page %d: empty page", i+1)
	}
	if _, found := dict.Find("MediaBox"); !found {
		dict["MediaBox"] = box.Array()
	}
	p := &page{
		ctx:    pc,
		dict:   dict,
		llx:    box.LL.X,
		lly:    box.LL.Y,
		width:  box.Width(),
		height: box.Height(),
		sx:     1,
		sy:     1,
	}
	o.pages = append(o.pages, p)
	return p, nil
}

func (o *output) PageCount() int { return len(o.pages) }

// Save writes every page and merges them in copy order.
func (o *output) Save() ([]byte, error) {
	if len(o.pages) == 0 {
		return nil, errors.New("output has no pages")
	}
	parts := make([][]byte, len(o.pages))
	for i, p := range o.pages {
		b, err := p.bytes()
		if err != nil {
			return nil, fmt.Errorf("write page %d: %w", i+1, err)
		}
		parts[i] = b
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	readers := make([]io.ReadSeeker, len(parts))
	for i, b := range parts {
		readers[i] = bytes.NewReader(b)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, newConf()); err != nil {
		return nil, fmt.Errorf("merge pages: %w", err)
	}
	return out.Bytes(), nil
}

// page is a copied page. Box and content changes are applied when written.
type page struct {
	ctx           *model.Context
	dict          types.Dict
	llx, lly      float64
	width, height float64
	sx, sy        float64
	tx, ty        float64
	resized       bool
	transformed   bool
}

func (p *page) SetSize(w, h float64) {
	p.width, p.height = w, h
	p.resized = true
}

func (p *page) ApplyContentTransform(sx, sy float64) {
	p.sx *= sx
	p.sy *= sy
	p.transformed = true
}

func (p *page) TranslateContent(dx, dy float64) {
	p.tx += dx
	p.ty += dy
	p.transformed = true
}

func (p *page) bytes() ([]byte, error) {
	if p.resized || p.transformed {
		if err := p.apply(); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := api.WriteContext(p.ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *page) apply() error {
	box := types.RectForWidthAndHeight(0, 0, p.width, p.height)
	p.dict["MediaBox"] = box.Array()
	p.dict["CropBox"] = box.Array()
	for _, k := range []string{"TrimBox", "BleedBox", "ArtBox"} {
		p.dict.Delete(k)
	}

	// The old origin moves to (0,0) together with the scale.
	e := p.tx - p.sx*p.llx
	f := p.ty - p.sy*p.lly
	if p.sx == 1 && p.sy == 1 && e == 0 && f == 0 {
		return nil
	}
	return p.wrapContents("q "+num(p.sx)+" 0 0 "+num(p.sy)+" "+num(e)+" "+num(f)+" cm\n", "\nQ\n")
}

// wrapContents brackets the existing content streams with prefix and suffix
// streams.
func (p *page) wrapContents(prefix, suffix string) error {
	existing, err := p.contentRefs()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	pre, err := p.newStream(prefix)
	if err != nil {
		return err
	}
	post, err := p.newStream(suffix)
	if err != nil {
		return err
	}
	arr := make(types.Array, 0, len(existing)+2)
	arr = append(arr, *pre)
	arr = append(arr, existing...)
	arr = append(arr, *post)
	p.dict["Contents"] = arr
	return nil
}

func (p *page) contentRefs() (types.Array, error) {
	obj, found := p.dict.Find("Contents")
	if !found || obj == nil {
		return nil, nil
	}
	switch c := obj.(type) {
	case types.IndirectRef:
		target, err := p.ctx.Dereference(c)
		if err != nil {
			return nil, err
		}
		if arr, ok := target.(types.Array); ok {
			return arr, nil
		}
		return types.Array{c}, nil
	case types.Array:
		return c, nil
	}
	return nil, fmt.Errorf("unexpected Contents type %T", obj)
}

func (p *page) newStream(s string) (*types.IndirectRef, error) {
	sd, err := p.ctx.NewStreamDictForBuf([]byte(s))
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return p.ctx.IndRefForNewObject(*sd)
}

// num formats v as a PDF real (no exponent).
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	if s == "-0" {
		s = "0"
	}
	return s
}
