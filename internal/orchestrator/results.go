package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/storage"
)

// Saved describes where a composed result was stored.
type Saved struct {
	Ref       string
	Encrypted bool
}

// ResultStore persists results of /api/compose jobs.
type ResultStore interface {
	Save(ctx context.Context, jobID, name string, res *engine.Result, password string) (Saved, error)
}

// S3Results uploads results under prefix/<job>/<name>.
type S3Results struct {
	store  ObjectStore
	prefix string
}

func NewS3Results(store ObjectStore, prefix string) *S3Results {
	return &S3Results{store: store, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Results) Save(ctx context.Context, jobID, name string, res *engine.Result, password string) (Saved, error) {
	key := path.Join(s.prefix, jobID, name)
	meta := &storage.FileMetadata{
		OriginalName: name,
		ContentType:  "application/pdf",
		Metadata: map[string]string{
			"job_id":     jobID,
			"operation":  string(res.Op),
			"page_count": fmt.Sprint(res.PageCount),
			"created":    time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.store.Upload(ctx, key, res.Data, password, meta); err != nil {
		return Saved{}, err
	}
	ref := fmt.Sprintf("s3://%s/%s", s.store.Bucket(), key)
	logger.Ctx(ctx).Info().Str("job_id", jobID).Str("ref", ref).Msg("result uploaded")
	return Saved{Ref: ref, Encrypted: password != ""}, nil
}

// LocalResults writes results to a directory and prunes files older than
// retention after each write.
type LocalResults struct {
	dir       string
	retention time.Duration
}

func NewLocalResults(dir string, retention time.Duration) *LocalResults {
	if dir == "" {
		dir = "results"
	}
	return &LocalResults{dir: dir, retention: retention}
}

func (l *LocalResults) Save(ctx context.Context, jobID, name string, res *engine.Result, password string) (Saved, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return Saved{}, err
	}
	data := res.Data
	if password != "" {
		enc, err := storage.Encrypt(data, password, storage.FormatGCM)
		if err != nil {
			return Saved{}, err
		}
		data = enc
	}
	file := jobID + "_" + filepath.Base(name)
	if err := os.WriteFile(filepath.Join(l.dir, file), data, 0o644); err != nil {
		return Saved{}, err
	}
	if l.retention > 0 {
		if n := CleanupResults(l.dir, l.retention); n > 0 {
			logger.Ctx(ctx).Debug().Int("removed", n).Msg("pruned old results")
		}
	}
	return Saved{Ref: "/api/results/" + file, Encrypted: password != ""}, nil
}

// Open returns a stored result by its file name.
func (l *LocalResults) Open(file string) ([]byte, error) {
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(l.dir, file))
}
