package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/local/pagecomposer/internal/engine"
)

const formMemory = 32 << 20

func (o *Orchestrator) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, o.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return &httpError{Code: http.StatusRequestEntityTooLarge, Msg: fmt.Sprintf("upload exceeds %d MB", o.deps.MaxUploadBytes>>20)}
		}
		return &httpError{Code: http.StatusBadRequest, Msg: "invalid multipart form", Err: err}
	}
	return nil
}

// formFiles reads every upload under field. Each one must sniff as a PDF.
func (o *Orchestrator) formFiles(r *http.Request, field string) ([]engine.SourceFile, error) {
	var hdrs []*multipart.FileHeader
	if r.MultipartForm != nil {
		hdrs = r.MultipartForm.File[field]
	}
	if len(hdrs) == 0 {
		return nil, badRequest("no file provided")
	}
	out := make([]engine.SourceFile, 0, len(hdrs))
	for _, h := range hdrs {
		data, err := readPart(h)
		if err != nil {
			return nil, &httpError{Code: http.StatusBadRequest, Msg: "cannot read " + h.Filename, Err: err}
		}
		if len(data) > 0 {
			if err := o.deps.Detector.CheckPDF(h.Filename, data); err != nil {
				return nil, &httpError{Code: http.StatusBadRequest, Msg: "PDF file required", Err: err}
			}
		}
		out = append(out, engine.SourceFile{Name: h.Filename, Data: data})
	}
	return out, nil
}

func (o *Orchestrator) formFile(r *http.Request, field string) (engine.SourceFile, error) {
	files, err := o.formFiles(r, field)
	if err != nil {
		return engine.SourceFile{}, err
	}
	return files[0], nil
}

func readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formFloat parses an optional number. A missing field reads as 0, which the
// engine rejects where a dimension is required.
func formFloat(r *http.Request, field string) (float64, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("%s must be a number", field))
	}
	return f, nil
}

func formJSON(r *http.Request, field string, v any) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return true, &httpError{Code: http.StatusBadRequest, Msg: fmt.Sprintf("%s is not valid JSON", field), Err: err}
	}
	return true, nil
}

// resultName builds the download name for an operation's output.
func resultName(op engine.Operation, source string, res *engine.Result, page int) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." || base == "/" {
		base = "document"
	}
	w, h := round(res.Width), round(res.Height)
	switch op {
	case engine.OpScale:
		return fmt.Sprintf("%s_%dpx.pdf", base, w)
	case engine.OpMerge:
		return fmt.Sprintf("merged_%dpx.pdf", w)
	case engine.OpMix:
		return fmt.Sprintf("mixed_%dpx.pdf", w)
	case engine.OpNormalize:
		return fmt.Sprintf("%s_normalized_%dx%d.pdf", base, w, h)
	case engine.OpReorder:
		return base + "_reordered.pdf"
	default:
		return fmt.Sprintf("%s_page%d.pdf", base, page+1)
	}
}

func round(v float64) int64 { return int64(math.Round(v)) }

// contentDisposition encodes name per RFC 5987 so non-ASCII names survive.
func contentDisposition(name string) string {
	return "attachment; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
}

func setResultHeaders(h http.Header, res *engine.Result) {
	h.Set("X-Result-Width", strconv.FormatInt(round(res.Width), 10))
	h.Set("X-Result-Height", strconv.FormatInt(round(res.Height), 10))
	if res.Skipped > 0 {
		h.Set("X-Skipped", strconv.Itoa(res.Skipped))
	}
}

func writePDF(w http.ResponseWriter, name string, data []byte) error {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", contentDisposition(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(data)
	return err
}
