package pdftest

import (
	"strings"

	fitz "github.com/gen2brain/go-fitz"
)

// RenderedPage is what MuPDF sees on one page.
type RenderedPage struct {
	Width, Height int
	Text          string
}

// Inspect opens data with MuPDF, independently of the writer under test, and
// reports every page's bounds and extracted text.
func Inspect(data []byte) ([]RenderedPage, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	out := make([]RenderedPage, doc.NumPage())
	for i := range out {
		r, err := doc.Bound(i)
		if err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, err
		}
		out[i] = RenderedPage{Width: r.Dx(), Height: r.Dy(), Text: strings.TrimSpace(text)}
	}
	return out, nil
}
