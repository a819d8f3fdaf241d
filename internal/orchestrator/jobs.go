package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/storage"
)

// composeRequest runs any operation on referenced sources and stores the
// result instead of streaming it back.
type composeRequest struct {
	Operation    string          `json:"operation"`
	Sources      []sourceRef     `json:"sources"`
	TargetWidth  float64         `json:"targetWidth"`
	TargetHeight float64         `json:"targetHeight"`
	Policy       string          `json:"policy"`
	PageOrder    json.RawMessage `json:"pageOrder"`
	PageIndex    int             `json:"pageIndex"`
	Output       struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	} `json:"output"`
}

type sourceRef struct {
	Ref      string `json:"ref"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type composeResponse struct {
	JobID        string  `json:"jobId"`
	Operation    string  `json:"operation"`
	Result       string  `json:"result"`
	Name         string  `json:"name"`
	Encrypted    bool    `json:"encrypted"`
	Size         int     `json:"size"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PageCount    int     `json:"pageCount"`
	Skipped      int     `json:"skipped,omitempty"`
	Scale        float64 `json:"scale,omitempty"`
	SourceWidth  float64 `json:"sourceWidth,omitempty"`
	SourceHeight float64 `json:"sourceHeight,omitempty"`
}

func (o *Orchestrator) handleCompose(w http.ResponseWriter, r *http.Request) error {
	if o.deps.Sources == nil || o.deps.Results == nil {
		return &httpError{Code: http.StatusServiceUnavailable, Msg: "compose jobs are not configured"}
	}
	defer r.Body.Close()
	var req composeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return &httpError{Code: http.StatusBadRequest, Msg: "invalid json", Err: err}
	}
	op := engine.Operation(strings.ToLower(strings.TrimSpace(req.Operation)))
	if len(req.Sources) == 0 {
		return badRequest("sources are required")
	}
	switch op {
	case engine.OpScale, engine.OpNormalize, engine.OpReorder, engine.OpExtract:
		if len(req.Sources) != 1 {
			return badRequest(fmt.Sprintf("%s takes exactly one source", op))
		}
	case engine.OpMerge, engine.OpMix:
	default:
		return badRequest(fmt.Sprintf("unknown operation %q", req.Operation))
	}

	jobID := uuid.NewString()
	lg := logger.Ctx(r.Context()).With().Str("job_id", jobID).Str("op", string(op)).Logger()
	lg.Info().Int("sources", len(req.Sources)).Msg("compose job received")

	srcs := make([]engine.SourceFile, len(req.Sources))
	g, gctx := errgroup.WithContext(r.Context())
	for i, s := range req.Sources {
		g.Go(func() error {
			src, err := o.deps.Sources.Fetch(gctx, s.Ref, s.Name, s.Password)
			if err != nil {
				return err
			}
			srcs[i] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res, err := o.run(r, op, srcs, &req)
	if err != nil {
		return err
	}

	name := req.Output.Name
	if name == "" {
		name = resultName(op, srcs[0].Name, res, req.PageIndex)
	}
	saved, err := o.deps.Results.Save(r.Context(), jobID, name, res, req.Output.Password)
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	lg.Info().Str("result", saved.Ref).Int("pages", res.PageCount).Msg("compose job finished")

	writeJSON(w, http.StatusCreated, composeResponse{
		JobID:        jobID,
		Operation:    string(op),
		Result:       saved.Ref,
		Name:         name,
		Encrypted:    saved.Encrypted,
		Size:         len(res.Data),
		Width:        res.Width,
		Height:       res.Height,
		PageCount:    res.PageCount,
		Skipped:      res.Skipped,
		Scale:        res.Scale,
		SourceWidth:  res.SourceWidth,
		SourceHeight: res.SourceHeight,
	})
	return nil
}

func (o *Orchestrator) run(r *http.Request, op engine.Operation, srcs []engine.SourceFile, req *composeRequest) (*engine.Result, error) {
	ctx, eng := r.Context(), o.deps.Engine
	switch op {
	case engine.OpScale:
		return eng.Scale(ctx, srcs[0], req.TargetWidth)
	case engine.OpMerge:
		return eng.Merge(ctx, srcs, req.TargetWidth)
	case engine.OpMix:
		var refs []engine.PageRef
		if err := decodeOrder(req.PageOrder, &refs); err != nil {
			return nil, err
		}
		return eng.Mix(ctx, srcs, refs, req.TargetWidth)
	case engine.OpNormalize:
		policy, err := engine.ParseCanvasPolicy(req.Policy, req.TargetWidth, req.TargetHeight)
		if err != nil {
			return nil, err
		}
		return eng.Normalize(ctx, srcs[0], policy)
	case engine.OpReorder:
		var order []int
		if err := decodeOrder(req.PageOrder, &order); err != nil {
			return nil, err
		}
		if order == nil {
			return nil, badRequest("pageOrder is required")
		}
		return eng.Reorder(ctx, srcs[0], order)
	default:
		return eng.ExtractPage(ctx, srcs[0], req.PageIndex)
	}
}

func decodeOrder(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &httpError{Code: http.StatusBadRequest, Msg: "pageOrder is not valid JSON", Err: err}
	}
	return nil
}

type resultReader interface {
	Open(file string) ([]byte, error)
}

// handleResult serves results written by LocalResults.
func (o *Orchestrator) handleResult(w http.ResponseWriter, r *http.Request) error {
	rr, ok := o.deps.Results.(resultReader)
	if !ok {
		return &httpError{Code: http.StatusNotFound, Msg: "results are not stored locally"}
	}
	file := strings.TrimPrefix(r.URL.Path, "/api/results/")
	data, err := rr.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return &httpError{Code: http.StatusNotFound, Msg: "result not found"}
	}
	if err != nil {
		return err
	}
	name := file
	if i := strings.IndexByte(file, '_'); i >= 0 {
		name = file[i+1:]
	}
	if storage.IsEncrypted(data) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", contentDisposition(name+".enc"))
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(data)
		return err
	}
	return writePDF(w, name, data)
}
