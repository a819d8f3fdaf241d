package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/history"
	"github.com/local/pagecomposer/internal/pdftest"
	"github.com/local/pagecomposer/internal/statuscheck"
	"github.com/local/pagecomposer/internal/storage"
	"github.com/local/pagecomposer/internal/thumbnail"
)

type size = engine.Size

type upload struct {
	field, name string
	data        []byte
}

func doc(name string, sizes ...size) upload {
	return upload{field: "file", name: name, data: pdftest.MemSized(name, sizes...)}
}

func docs(name string, sizes ...size) upload {
	u := doc(name, sizes...)
	u.field = "files"
	return u
}

func formRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(f.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newMux(t *testing.T, deps Dependencies) *http.ServeMux {
	t.Helper()
	if deps.Engine == nil {
		e := engine.New(&pdftest.MemCodec{}, engine.Options{})
		t.Cleanup(e.Close)
		deps.Engine = e
	}
	mux := http.NewServeMux()
	New(deps).RegisterRoutes(mux)
	return mux
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func pages(t *testing.T, data []byte) []pdftest.MemPage {
	t.Helper()
	d, err := pdftest.DecodeMem(data)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return d.Pages
}

func labels(ps []pdftest.MemPage) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Label
	}
	return out
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestScaleRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	rec := serve(mux, formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "306"},
		doc("report.pdf", size{Width: 612, Height: 792}, size{Width: 842, Height: 595})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	want := map[string]string{
		"Content-Type":        "application/pdf",
		"Content-Disposition": "attachment; filename*=UTF-8''report_306px.pdf",
		"X-Result-Width":      "306",
		"X-Result-Height":     "396",
		"X-Source-Width":      "612",
		"X-Source-Height":     "792",
		"X-Scale":             "0.5000",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	ps := pages(t, rec.Body.Bytes())
	if len(ps) != 2 || ps[0].Width != 306 || ps[1].Width != 306 || ps[0].ScaleX != 0.5 {
		t.Errorf("pages = %+v", ps)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestScaleRouteUnicodeFilename(t *testing.T) {
	mux := newMux(t, Dependencies{})
	rec := serve(mux, formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "100"},
		doc("보고서 1.pdf", size{Width: 200, Height: 100})))
	got := rec.Header().Get("Content-Disposition")
	want := "attachment; filename*=UTF-8''%EB%B3%B4%EA%B3%A0%EC%84%9C%201_100px.pdf"
	if got != want {
		t.Errorf("disposition = %q, want %q", got, want)
	}
}

func TestScaleRouteErrors(t *testing.T) {
	mux := newMux(t, Dependencies{})
	good := doc("a.pdf", size{Width: 100, Height: 100})
	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing file", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "10"}), 400},
		{"bad width", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "wide"}, good), 400},
		{"zero width", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "0"}, good), 400},
		{"missing width", formRequest(t, "/api/scale-pdf", nil, good), 400},
		{"not a pdf", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "10"},
			upload{field: "file", name: "a.pdf", data: []byte("hello there")}), 400},
		{"malformed pdf", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "10"},
			upload{field: "file", name: "a.pdf", data: []byte("%PDF-1.4 truncated")}), 422},
		{"zero sized page", formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "10"},
			doc("z.pdf", size{Width: 0, Height: 100})), 422},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/api/scale-pdf", nil), 405},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(mux, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body)
			}
			if errorBody(t, rec) == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	mux := newMux(t, Dependencies{MaxUploadBytes: 1024})
	big := upload{field: "file", name: "big.pdf", data: append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 4096)...)}
	rec := serve(mux, formRequest(t, "/api/scale-pdf", map[string]string{"targetWidth": "10"}, big))
	if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMergeRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	rec := serve(mux, formRequest(t, "/api/merge-pdf", map[string]string{"targetWidth": "50"},
		docs("a.pdf", size{Width: 100, Height: 100}, size{Width: 100, Height: 50}), docs("b.pdf", size{Width: 200, Height: 200})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("X-Total-Pages"); got != "3" {
		t.Errorf("total pages = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename*=UTF-8''merged_50px.pdf" {
		t.Errorf("disposition = %q", got)
	}
	var boxes []size
	for _, p := range pages(t, rec.Body.Bytes()) {
		boxes = append(boxes, size{Width: p.Width, Height: p.Height})
	}
	if diff := cmp.Diff([]size{{Width: 50, Height: 50}, {Width: 50, Height: 25}, {Width: 50, Height: 50}}, boxes); diff != "" {
		t.Errorf("boxes (-want +got):\n%s", diff)
	}
}

func TestMixRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	files := []upload{docs("a.pdf", size{Width: 100, Height: 100}), docs("b.pdf", size{Width: 400, Height: 200}, size{Width: 50, Height: 50})}

	order := `[{"fileIndex":1,"pageIndex":1},{"fileIndex":0,"pageIndex":0},{"fileIndex":7,"pageIndex":0},{"fileIndex":1,"pageIndex":0}]`
	rec := serve(mux, formRequest(t, "/api/mix-pdf", map[string]string{"targetWidth": "100", "pageOrder": order}, files...))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	want := []string{"b.pdf/1", "a.pdf/0", "b.pdf/0"}
	if diff := cmp.Diff(want, labels(pages(t, rec.Body.Bytes()))); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if rec.Header().Get("X-Skipped") != "1" {
		t.Errorf("skipped = %q", rec.Header().Get("X-Skipped"))
	}

	rec = serve(mux, formRequest(t, "/api/mix-pdf", map[string]string{"targetWidth": "100", "pageOrder": "{oops"}, files...))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", rec.Code)
	}
	rec = serve(mux, formRequest(t, "/api/mix-pdf", map[string]string{"targetWidth": "100", "pageOrder": "[]"}, files...))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty order status = %d", rec.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	src := doc("scan.pdf", size{Width: 595, Height: 842}, size{Width: 612, Height: 792}, size{Width: 842, Height: 595})
	rec := serve(mux, formRequest(t, "/api/normalize-pdf",
		map[string]string{"policy": "custom", "targetWidth": "500", "targetHeight": "700"}, src))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename*=UTF-8''scan_normalized_500x700.pdf" {
		t.Errorf("disposition = %q", got)
	}
	if rec.Header().Get("X-Page-Count") != "3" || rec.Header().Get("X-Result-Height") != "700" {
		t.Errorf("headers = %v", rec.Header())
	}
	for _, p := range pages(t, rec.Body.Bytes()) {
		if p.Width != 500 || p.Height != 700 {
			t.Errorf("page %s = %gx%g", p.Label, p.Width, p.Height)
		}
	}

	rec = serve(mux, formRequest(t, "/api/normalize-pdf", map[string]string{"policy": "smallest"}, src))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Result-Width") != "612" {
		t.Errorf("smallest: status %d width %q", rec.Code, rec.Header().Get("X-Result-Width"))
	}

	rec = serve(mux, formRequest(t, "/api/normalize-pdf", map[string]string{"policy": "diagonal"}, src))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown policy status = %d", rec.Code)
	}
	rec = serve(mux, formRequest(t, "/api/normalize-pdf", map[string]string{"policy": "custom", "targetWidth": "10"}, src))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("custom without height status = %d", rec.Code)
	}
}

func TestReorderRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	src := doc("book.pdf", size{Width: 1, Height: 1}, size{Width: 2, Height: 2}, size{Width: 3, Height: 3})

	rec := serve(mux, formRequest(t, "/api/reorder-pdf", map[string]string{"pageOrder": "[3,1,1]"}, src))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if diff := cmp.Diff([]string{"book.pdf/2", "book.pdf/0", "book.pdf/0"}, labels(pages(t, rec.Body.Bytes()))); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if rec.Header().Get("X-Page-Count") != "3" {
		t.Errorf("page count = %q", rec.Header().Get("X-Page-Count"))
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename*=UTF-8''book_reordered.pdf" {
		t.Errorf("disposition = %q", got)
	}

	cases := map[string]int{"": 400, "[1,": 400, "[9,0]": 422, "[]": 422}
	for order, status := range cases {
		rec := serve(mux, formRequest(t, "/api/reorder-pdf", map[string]string{"pageOrder": order}, src))
		if rec.Code != status {
			t.Errorf("order %q: status = %d, want %d", order, rec.Code, status)
		}
	}
}

type fakeThumbs struct {
	loaded [][]byte
	err    error
}

func (f *fakeThumbs) Cached(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, err := load(ctx)
	if err != nil {
		return nil, err
	}
	f.loaded = append(f.loaded, doc)
	return []byte("\x89PNG" + key), nil
}

func TestThumbnailRoute(t *testing.T) {
	thumbs := &fakeThumbs{}
	mux := newMux(t, Dependencies{Thumbs: thumbs})
	src := doc("a.pdf", size{Width: 100, Height: 200}, size{Width: 300, Height: 100})

	rec := serve(mux, formRequest(t, "/api/pdf-thumbnail", map[string]string{"pageIndex": "1"}, src))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "image/png" || rec.Header().Get("Cache-Control") != "private, max-age=60" {
		t.Errorf("headers = %v", rec.Header())
	}
	if !strings.HasSuffix(rec.Body.String(), thumbnail.Key(src.data, 1)) {
		t.Errorf("body = %q", rec.Body)
	}
	if len(thumbs.loaded) != 1 {
		t.Fatalf("loaded = %d", len(thumbs.loaded))
	}
	if diff := cmp.Diff([]string{"a.pdf/1"}, labels(pages(t, thumbs.loaded[0]))); diff != "" {
		t.Errorf("extracted (-want +got):\n%s", diff)
	}

	for idx, status := range map[string]int{"5": 400, "-1": 400, "x": 400, "": 400} {
		rec := serve(mux, formRequest(t, "/api/pdf-thumbnail", map[string]string{"pageIndex": idx}, src))
		if rec.Code != status {
			t.Errorf("pageIndex %q: status = %d, want %d", idx, rec.Code, status)
		}
	}
	rec = serve(mux, formRequest(t, "/api/pdf-thumbnail", map[string]string{"pageIndex": "0"},
		upload{field: "file", name: "a.png", data: []byte("\x89PNG\r\n\x1a\n")}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-pdf status = %d", rec.Code)
	}
}

func TestThumbnailRouteUnavailable(t *testing.T) {
	src := doc("a.pdf", size{Width: 1, Height: 1})
	rec := serve(newMux(t, Dependencies{}), formRequest(t, "/api/pdf-thumbnail", map[string]string{"pageIndex": "0"}, src))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled status = %d", rec.Code)
	}
	mux := newMux(t, Dependencies{Thumbs: &fakeThumbs{err: thumbnail.ErrCoolingDown}})
	rec = serve(mux, formRequest(t, "/api/pdf-thumbnail", map[string]string{"pageIndex": "0"}, src))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("cooldown status = %d", rec.Code)
	}
}

func TestInfoRoute(t *testing.T) {
	mux := newMux(t, Dependencies{})
	rec := serve(mux, formRequest(t, "/api/pdf-info", nil, doc("a.pdf", size{Width: 595, Height: 842}, size{Width: 842, Height: 595})))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var got pageInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := pageInfo{Name: "a.pdf", PageCount: 2, Pages: []size{{Width: 595, Height: 842}, {Width: 842, Height: 595}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info (-want +got):\n%s", diff)
	}
}

type fakeHistory struct {
	recs  []history.Record
	err   error
	limit int
}

func (f *fakeHistory) List(_ context.Context, limit int) ([]history.Record, error) {
	f.limit = limit
	return f.recs, f.err
}

func TestHistoryRoute(t *testing.T) {
	h := &fakeHistory{recs: []history.Record{{ID: "b", Filename: "b.pdf"}, {ID: "a", Filename: "a.pdf"}}}
	mux := newMux(t, Dependencies{History: h, HistoryLimit: 25})

	rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK || h.limit != 25 {
		t.Fatalf("status = %d limit = %d", rec.Code, h.limit)
	}
	var got []history.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" {
		t.Errorf("records = %+v", got)
	}

	serve(mux, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	if h.limit != 5 {
		t.Errorf("limit = %d", h.limit)
	}
	if rec := serve(mux, httptest.NewRequest(http.MethodGet, "/api/history?limit=-1", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	h.err = errors.New("redis down")
	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusInternalServerError || errorBody(t, rec) != "Failed to fetch history" {
		t.Errorf("failing store: %d %s", rec.Code, rec.Body)
	}
}

func TestHistoryRouteDisabled(t *testing.T) {
	rec := serve(newMux(t, Dependencies{}), httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("disabled history: %d %q", rec.Code, rec.Body)
	}
}

type fakeStatus struct{ s statuscheck.Summary }

func (f fakeStatus) Summary(context.Context) statuscheck.Summary { return f.s }

func TestStatusRoute(t *testing.T) {
	ready := statuscheck.Summary{Renderer: statuscheck.Status{OK: true, Message: "0/4 renders in flight"}}
	rec := serve(newMux(t, Dependencies{Status: fakeStatus{ready}}), httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"renderer"`) {
		t.Errorf("ready: %d %s", rec.Code, rec.Body)
	}
	rec = serve(newMux(t, Dependencies{Status: fakeStatus{}}), httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready status = %d", rec.Code)
	}
}

func TestHealthAndRequestID(t *testing.T) {
	mux := newMux(t, Dependencies{})
	if rec := serve(mux, httptest.NewRequest(http.MethodGet, "/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("X-Request-ID", "req-42")
	if got := serve(mux, req).Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("request id = %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("outer: %w", err) }
	cases := []struct {
		err  error
		want int
	}{
		{wrap(engine.ErrInvalidInput), 400},
		{wrap(engine.ErrInvalidTarget), 400},
		{wrap(engine.ErrEmptyPagePlan), 422},
		{wrap(engine.ErrNoPagesAvailable), 422},
		{wrap(engine.ErrMalformedDocument), 422},
		{wrap(engine.ErrInvalidSourceGeometry), 422},
		{storage.ErrPasswordRequired, 401},
		{thumbnail.ErrCoolingDown, 503},
		{context.DeadlineExceeded, 503},
		{&httpError{Code: 404, Msg: "gone"}, 404},
		{errors.New("disk full"), 500},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestResultName(t *testing.T) {
	res := &engine.Result{Width: 299.6, Height: 420.2}
	cases := []struct {
		op   engine.Operation
		src  string
		want string
	}{
		{engine.OpScale, "dir/report.pdf", "report_300px.pdf"},
		{engine.OpMerge, "x.pdf", "merged_300px.pdf"},
		{engine.OpMix, "x.pdf", "mixed_300px.pdf"},
		{engine.OpNormalize, "scan.PDF", "scan_normalized_300x420.pdf"},
		{engine.OpReorder, "", "document_reordered.pdf"},
		{engine.OpExtract, "a.pdf", "a_page3.pdf"},
	}
	for _, tc := range cases {
		if got := resultName(tc.op, tc.src, res, 2); got != tc.want {
			t.Errorf("%s(%q) = %q, want %q", tc.op, tc.src, got, tc.want)
		}
	}
}

func TestCleanupResults(t *testing.T) {
	dir := t.TempDir()
	l := NewLocalResults(dir, 0)
	res := &engine.Result{Data: []byte("%PDF-x")}
	old, err := l.Save(context.Background(), "old", "a.pdf", res, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Save(context.Background(), "new", "a.pdf", res, ""); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-2 * time.Hour)
	oldFile := strings.TrimPrefix(old.Ref, "/api/results/")
	if err := os.Chtimes(filepath.Join(dir, oldFile), past, past); err != nil {
		t.Fatal(err)
	}
	if n := CleanupResults(dir, time.Hour); n != 1 {
		t.Errorf("removed = %d", n)
	}
	if _, err := l.Open(oldFile); err == nil {
		t.Error("old result still present")
	}
	if _, err := l.Open("new_a.pdf"); err != nil {
		t.Errorf("new result: %v", err)
	}
}
