package engine

import "context"

// Codec parses source documents and assembles output documents.
type Codec interface {
	// Load parses data. Failures are reported as malformed documents.
	Load(ctx context.Context, name string, data []byte) (Document, error)
	// New starts an empty output document.
	New() Output
}

// Document is a parsed, read-only source.
type Document interface {
	PageCount() int
	// PageSize returns the page box of the 0-based page i.
	PageSize(i int) (Size, error)
}

// Output is a document under construction. Pages are kept in the order they
// were copied.
type Output interface {
	CopyPage(src Document, i int) (PageHandle, error)
	PageCount() int
	Save() ([]byte, error)
}

// PageHandle adjusts one copied page.
type PageHandle interface {
	SetSize(w, h float64)
	// ApplyContentTransform scales the existing drawing instructions.
	ApplyContentTransform(sx, sy float64)
	// TranslateContent shifts the existing drawing instructions in page space.
	TranslateContent(dx, dy float64)
}
