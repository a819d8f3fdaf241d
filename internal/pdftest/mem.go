package pdftest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/local/pagecomposer/internal/engine"
)

const memMagic = "%PDF-mem\n"

// MemPage is one page of an in-memory document. Output pages also carry the
// transform the engine applied to them.
type MemPage struct {
	Width   float64 `json:"w"`
	Height  float64 `json:"h"`
	Label   string  `json:"label"`
	Corrupt bool    `json:"corrupt,omitempty"`

	ScaleX     float64 `json:"sx,omitempty"`
	ScaleY     float64 `json:"sy,omitempty"`
	TranslateX float64 `json:"tx,omitempty"`
	TranslateY float64 `json:"ty,omitempty"`
	Touched    bool    `json:"touched,omitempty"`
}

type MemDoc struct {
	Pages []MemPage `json:"pages"`
}

// Mem encodes pages as an in-memory document understood by MemCodec.
func Mem(pages ...MemPage) []byte {
	b, _ := json.Marshal(MemDoc{Pages: pages})
	return append([]byte(memMagic), b...)
}

// MemSized encodes pages of the given sizes labelled name/0, name/1 and so on.
func MemSized(name string, sizes ...engine.Size) []byte {
	pages := make([]MemPage, len(sizes))
	for i, s := range sizes {
		pages[i] = MemPage{Width: s.Width, Height: s.Height, Label: fmt.Sprintf("%s/%d", name, i)}
	}
	return Mem(pages...)
}

// DecodeMem parses data produced by Mem or by a MemCodec output.
func DecodeMem(data []byte) (MemDoc, error) {
	if !bytes.HasPrefix(data, []byte(memMagic)) {
		return MemDoc{}, errors.New("not an in-memory document")
	}
	var d MemDoc
	if err := json.Unmarshal(data[len(memMagic):], &d); err != nil {
		return MemDoc{}, err
	}
	return d, nil
}

// MemCodec is an engine.Codec over Mem documents.
type MemCodec struct {
	// SaveErr, when set, is returned by every Output.Save.
	SaveErr error
}

func (c *MemCodec) Load(ctx context.Context, name string, data []byte) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := DecodeMem(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &memSource{doc: d}, nil
}

func (c *MemCodec) New() engine.Output { return &memOutput{saveErr: c.SaveErr} }

type memSource struct{ doc MemDoc }

func (s *memSource) PageCount() int { return len(s.doc.Pages) }

func (s *memSource) PageSize(i int) (engine.Size, error) {
	if i < 0 || i >= len(s.doc.Pages) {
		return engine.Size{}, fmt.Errorf("page %d out of range", i)
	}
	p := s.doc.Pages[i]
	return engine.Size{Width: p.Width, Height: p.Height}, nil
}

type memOutput struct {
	pages   []*MemPage
	saveErr error
}

func (o *memOutput) CopyPage(src engine.Document, i int) (engine.PageHandle, error) {
	s, ok := src.(*memSource)
	if !ok {
		return nil, fmt.Errorf("foreign document %T", src)
	}
	if i < 0 || i >= len(s.doc.Pages) {
		return nil, fmt.Errorf("page %d out of range", i)
	}
	if s.doc.Pages[i].Corrupt {
		return nil, fmt.Errorf("page %d: corrupt content", i)
	}
	// A copy starts fresh; transforms of earlier passes are part of its content.
	p := s.doc.Pages[i]
	p.ScaleX, p.ScaleY, p.TranslateX, p.TranslateY, p.Touched = 1, 1, 0, 0, false
	o.pages = append(o.pages, &p)
	return (*memHandle)(&p), nil
}

func (o *memOutput) PageCount() int { return len(o.pages) }

func (o *memOutput) Save() ([]byte, error) {
	if o.saveErr != nil {
		return nil, o.saveErr
	}
	pages := make([]MemPage, len(o.pages))
	for i, p := range o.pages {
		pages[i] = *p
	}
	return Mem(pages...), nil
}

type memHandle MemPage

func (h *memHandle) SetSize(w, hgt float64) {
	h.Width, h.Height, h.Touched = w, hgt, true
}

func (h *memHandle) ApplyContentTransform(sx, sy float64) {
	h.ScaleX *= sx
	h.ScaleY *= sy
	h.Touched = true
}

func (h *memHandle) TranslateContent(dx, dy float64) {
	h.TranslateX += dx
	h.TranslateY += dy
	h.Touched = true
}
