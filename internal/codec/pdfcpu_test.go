package codec

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/pdftest"
)

func load(t *testing.T, c *PDF, data []byte) engine.Document {
	t.Helper()
	doc, err := c.Load(context.Background(), "t.pdf", data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return doc
}

func sizes(t *testing.T, c *PDF, data []byte) []engine.Size {
	t.Helper()
	doc := load(t, c, data)
	out := make([]engine.Size, doc.PageCount())
	for i := range out {
		s, err := doc.PageSize(i)
		if err != nil {
			t.Fatalf("PageSize(%d): %v", i, err)
		}
		out[i] = s
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.01 }

func TestLoadPageSizes(t *testing.T) {
	c := New()
	got := sizes(t, c, pdftest.Build(
		pdftest.Page{Width: 612, Height: 792},
		pdftest.Page{Width: 300, Height: 200, LLX: 50, LLY: 20},
	))
	if len(got) != 2 {
		t.Fatalf("pages = %d", len(got))
	}
	if got[0] != (engine.Size{Width: 612, Height: 792}) || got[1] != (engine.Size{Width: 300, Height: 200}) {
		t.Errorf("sizes = %v", got)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := New().Load(context.Background(), "junk.pdf", []byte("hello, not a pdf"))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Load(ctx, "a.pdf", pdftest.Sized("a", [2]float64{100, 100}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCopyResizeAndSave(t *testing.T) {
	c := New()
	src := load(t, c, pdftest.Build(
		pdftest.Page{Width: 200, Height: 100, Label: "wide"},
		pdftest.Page{Width: 100, Height: 200, LLX: 10, LLY: 10, Label: "tall"},
	))

	out := c.New()
	h, err := out.CopyPage(src, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.SetSize(50, 100)
	h.ApplyContentTransform(0.5, 0.5)
	h.TranslateContent(0, 0)
	if _, err := out.CopyPage(src, 0); err != nil {
		t.Fatal(err)
	}
	if out.PageCount() != 2 {
		t.Fatalf("PageCount = %d", out.PageCount())
	}
	data, err := out.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := sizes(t, c, data)
	if len(got) != 2 {
		t.Fatalf("pages = %d", len(got))
	}
	if !near(got[0].Width, 50) || !near(got[0].Height, 100) {
		t.Errorf("resized page = %v, want 50x100", got[0])
	}
	if !near(got[1].Width, 200) || !near(got[1].Height, 100) {
		t.Errorf("untouched page = %v, want 200x100", got[1])
	}
}

func TestCopyPageOutOfRange(t *testing.T) {
	c := New()
	src := load(t, c, pdftest.Sized("a", [2]float64{100, 100}))
	if _, err := c.New().CopyPage(src, 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveEmptyOutput(t *testing.T) {
	if _, err := New().New().Save(); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestEngineMergeThroughPDF(t *testing.T) {
	c := New()
	e := engine.New(c, engine.Options{})
	a := pdftest.Sized("a", [2]float64{100, 100}, [2]float64{100, 50})
	b := pdftest.Sized("b", [2]float64{200, 200})

	res, err := e.Merge(context.Background(), []engine.SourceFile{{Name: "a.pdf", Data: a}, {Name: "b.pdf", Data: b}}, 50)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	got := sizes(t, c, res.Data)
	want := []engine.Size{{Width: 50, Height: 50}, {Width: 50, Height: 25}, {Width: 50, Height: 50}}
	if len(got) != len(want) {
		t.Fatalf("pages = %v", got)
	}
	for i := range want {
		if !near(got[i].Width, want[i].Width) || !near(got[i].Height, want[i].Height) {
			t.Errorf("page %d = %v, want %v", i+1, got[i], want[i])
		}
	}
}

func TestReorderKeepsContent(t *testing.T) {
	c := New()
	e := engine.New(c, engine.Options{})
	src := pdftest.Sized("doc", [2]float64{300, 300}, [2]float64{300, 300}, [2]float64{300, 300})

	res, err := e.Reorder(context.Background(), engine.SourceFile{Name: "doc.pdf", Data: src}, []int{3, 1, 3})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	pages, err := pdftest.Inspect(res.Data)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	want := []string{"doc/3", "doc/1", "doc/3"}
	if len(pages) != len(want) {
		t.Fatalf("pages = %d, want %d", len(pages), len(want))
	}
	for i, w := range want {
		if pages[i].Text != w {
			t.Errorf("page %d text = %q, want %q", i+1, pages[i].Text, w)
		}
	}
}

func TestNum(t *testing.T) {
	cases := map[float64]string{1: "1", 0.5: "0.5", -12.25: "-12.25", 1.0 / 3: "0.333333", -0.0000001: "0"}
	for in, want := range cases {
		if got := num(in); got != want {
			t.Errorf("num(%v) = %q, want %q", in, got, want)
		}
	}
}
