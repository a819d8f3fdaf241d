// Package pdftest builds small PDF fixtures and an in-memory codec for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strconv"
)

// Page describes one fixture page. Label is drawn as text near the lower-left
// corner so readers can tell pages apart.
type Page struct {
	Width, Height float64
	LLX, LLY      float64 // MediaBox origin
	Label         string
}

// Build writes a minimal, valid PDF with one page per entry.
func Build(pages ...Page) []byte {
	var b bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	b.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	kids := make([]byte, 0, len(pages)*8)
	for i := range pages {
		if i > 0 {
			kids = append(kids, ' ')
		}
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i)...)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, p := range pages {
		label := p.Label
		if label == "" {
			label = "page " + strconv.Itoa(i+1)
		}
		content := fmt.Sprintf("q 0.9 g %s %s %s %s re f Q\nBT /F1 10 Tf %s %s Td (%s) Tj ET\n",
			num(p.LLX), num(p.LLY), num(p.Width), num(p.Height),
			num(p.LLX+4), num(p.LLY+4), escape(label))
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [%s %s %s %s] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			num(p.LLX), num(p.LLY), num(p.LLX+p.Width), num(p.LLY+p.Height), 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content))
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(offsets)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return b.Bytes()
}

// Sized builds a PDF whose pages have the given width/height pairs and are
// labelled prefix/1, prefix/2 and so on.
func Sized(prefix string, dims ...[2]float64) []byte {
	pages := make([]Page, len(dims))
	for i, d := range dims {
		pages[i] = Page{Width: d[0], Height: d[1], Label: fmt.Sprintf("%s/%d", prefix, i+1)}
	}
	return Build(pages...)
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func escape(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '(', ')', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
