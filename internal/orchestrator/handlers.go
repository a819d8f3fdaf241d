package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/thumbnail"
)

func (o *Orchestrator) handleScale(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	src, err := o.formFile(r, "file")
	if err != nil {
		return err
	}
	width, err := formFloat(r, "targetWidth")
	if err != nil {
		return err
	}
	res, err := o.deps.Engine.Scale(r.Context(), src, width)
	if err != nil {
		return err
	}
	h := w.Header()
	setResultHeaders(h, res)
	h.Set("X-Source-Width", strconv.FormatInt(round(res.SourceWidth), 10))
	h.Set("X-Source-Height", strconv.FormatInt(round(res.SourceHeight), 10))
	h.Set("X-Scale", strconv.FormatFloat(res.Scale, 'f', 4, 64))
	return writePDF(w, resultName(engine.OpScale, src.Name, res, 0), res.Data)
}

func (o *Orchestrator) handleMerge(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	srcs, err := o.formFiles(r, "files")
	if err != nil {
		return err
	}
	width, err := formFloat(r, "targetWidth")
	if err != nil {
		return err
	}
	res, err := o.deps.Engine.Merge(r.Context(), srcs, width)
	if err != nil {
		return err
	}
	setResultHeaders(w.Header(), res)
	w.Header().Set("X-Total-Pages", strconv.Itoa(res.PageCount))
	return writePDF(w, resultName(engine.OpMerge, "", res, 0), res.Data)
}

func (o *Orchestrator) handleMix(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	srcs, err := o.formFiles(r, "files")
	if err != nil {
		return err
	}
	width, err := formFloat(r, "targetWidth")
	if err != nil {
		return err
	}
	var refs []engine.PageRef
	if _, err := formJSON(r, "pageOrder", &refs); err != nil {
		return err
	}
	res, err := o.deps.Engine.Mix(r.Context(), srcs, refs, width)
	if err != nil {
		return err
	}
	setResultHeaders(w.Header(), res)
	w.Header().Set("X-Total-Pages", strconv.Itoa(res.PageCount))
	return writePDF(w, resultName(engine.OpMix, "", res, 0), res.Data)
}

func (o *Orchestrator) handleNormalize(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	src, err := o.formFile(r, "file")
	if err != nil {
		return err
	}
	tw, err := formFloat(r, "targetWidth")
	if err != nil {
		return err
	}
	th, err := formFloat(r, "targetHeight")
	if err != nil {
		return err
	}
	policy, err := engine.ParseCanvasPolicy(r.FormValue("policy"), tw, th)
	if err != nil {
		return err
	}
	res, err := o.deps.Engine.Normalize(r.Context(), src, policy)
	if err != nil {
		return err
	}
	setResultHeaders(w.Header(), res)
	w.Header().Set("X-Page-Count", strconv.Itoa(res.PageCount))
	return writePDF(w, resultName(engine.OpNormalize, src.Name, res, 0), res.Data)
}

func (o *Orchestrator) handleReorder(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	src, err := o.formFile(r, "file")
	if err != nil {
		return err
	}
	var order []int
	ok, err := formJSON(r, "pageOrder", &order)
	if err != nil {
		return err
	}
	if !ok {
		return badRequest("pageOrder is required")
	}
	res, err := o.deps.Engine.Reorder(r.Context(), src, order)
	if err != nil {
		return err
	}
	w.Header().Set("X-Page-Count", strconv.Itoa(res.PageCount))
	if res.Skipped > 0 {
		w.Header().Set("X-Skipped", strconv.Itoa(res.Skipped))
	}
	return writePDF(w, resultName(engine.OpReorder, src.Name, res, 0), res.Data)
}

func (o *Orchestrator) handleThumbnail(w http.ResponseWriter, r *http.Request) error {
	if o.deps.Thumbs == nil {
		return &httpError{Code: http.StatusServiceUnavailable, Msg: "thumbnails disabled"}
	}
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	src, err := o.formFile(r, "file")
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(strings.TrimSpace(r.FormValue("pageIndex")))
	if err != nil || index < 0 {
		return badRequest("pageIndex must be a non-negative integer")
	}

	png, err := o.deps.Thumbs.Cached(r.Context(), thumbnail.Key(src.Data, index), func(ctx context.Context) ([]byte, error) {
		res, err := o.deps.Engine.ExtractPage(ctx, src, index)
		if err != nil {
			return nil, err
		}
		return res.Data, nil
	})
	if err != nil {
		return err
	}
	logger.Ctx(r.Context()).Debug().Int("page", index).Int("bytes", len(png)).Msg("thumbnail served")
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(png)
	return err
}

type pageInfo struct {
	Name      string        `json:"name"`
	PageCount int           `json:"pageCount"`
	Pages     []engine.Size `json:"pages"`
}

func (o *Orchestrator) handleInfo(w http.ResponseWriter, r *http.Request) error {
	if err := o.parseForm(w, r); err != nil {
		return err
	}
	src, err := o.formFile(r, "file")
	if err != nil {
		return err
	}
	info, err := o.deps.Engine.Inspect(r.Context(), src)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pageInfo{Name: info.Name, PageCount: len(info.Pages), Pages: info.Pages})
	return nil
}
