package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/filetype"
	"github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/storage"
)

// ObjectStore is the part of the S3 client the service uses.
type ObjectStore interface {
	Download(ctx context.Context, key, password string) ([]byte, *storage.FileMetadata, error)
	Upload(ctx context.Context, key string, data []byte, password string, meta *storage.FileMetadata) error
	Bucket() string
}

// Fetcher resolves source references:
//   - s3://bucket/key (the configured bucket only)
//   - http(s)://host/path
//   - file://relative/path under the configured source directory
type Fetcher struct {
	store    ObjectStore
	client   *http.Client
	localDir string
	maxBytes int64
	detector *filetype.Detector
}

type FetcherOptions struct {
	Store      ObjectStore // nil disables s3:// refs
	HTTPClient *http.Client
	LocalDir   string // empty disables file:// refs
	MaxBytes   int64
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 100 << 20
	}
	return &Fetcher{
		store:    opts.Store,
		client:   opts.HTTPClient,
		localDir: opts.LocalDir,
		maxBytes: opts.MaxBytes,
		detector: filetype.New(),
	}
}

// Fetch loads ref and opens its password envelope if it has one. name, when
// empty, is taken from the stored metadata or the last path element.
func (f *Fetcher) Fetch(ctx context.Context, ref, name, password string) (engine.SourceFile, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "s3://"):
		var meta *storage.FileMetadata
		data, meta, err = f.fetchS3(ctx, ref, password)
		if err == nil && name == "" && meta != nil {
			name = meta.OriginalName
		}
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err = f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		data, err = f.fetchFile(strings.TrimPrefix(ref, "file://"))
	default:
		return engine.SourceFile{}, badRequest(fmt.Sprintf("unsupported source reference %q", ref))
	}
	if err != nil {
		return engine.SourceFile{}, err
	}

	if !strings.HasPrefix(ref, "s3://") && storage.IsEncrypted(data) {
		if password == "" {
			return engine.SourceFile{}, storage.ErrPasswordRequired
		}
		plain, _, err := storage.Decrypt(data, password)
		if err != nil {
			return engine.SourceFile{}, &httpError{Code: http.StatusBadRequest, Msg: "cannot decrypt " + ref, Err: err}
		}
		data = plain
	}
	if name == "" {
		name = path.Base(ref)
	}
	if err := f.detector.CheckPDF(name, data); err != nil {
		return engine.SourceFile{}, &httpError{Code: http.StatusBadRequest, Msg: "PDF file required", Err: err}
	}
	logger.Ctx(ctx).Debug().Str("ref", ref).Int("size", len(data)).Msg("fetched source")
	return engine.SourceFile{Name: name, Data: data}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, ref, password string) ([]byte, *storage.FileMetadata, error) {
	if f.store == nil {
		return nil, nil, badRequest("s3 sources are not configured")
	}
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return nil, nil, badRequest("invalid s3 url: " + ref)
	}
	bucket, key := p[:slash], p[slash+1:]
	if bucket != f.store.Bucket() {
		return nil, nil, badRequest(fmt.Sprintf("bucket %q is not served here", bucket))
	}
	data, meta, err := f.store.Download(ctx, key, password)
	if err != nil {
		return nil, nil, &httpError{Code: http.StatusBadGateway, Msg: "cannot fetch " + ref, Err: err}
	}
	return data, meta, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, badRequest("invalid url: " + url)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &httpError{Code: http.StatusBadGateway, Msg: "cannot fetch " + url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{Code: http.StatusBadGateway, Msg: fmt.Sprintf("cannot fetch %s: http %d", url, resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &httpError{Code: http.StatusBadGateway, Msg: "cannot read " + url, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &httpError{Code: http.StatusRequestEntityTooLarge, Msg: "source exceeds upload limit"}
	}
	return data, nil
}

func (f *Fetcher) fetchFile(rel string) ([]byte, error) {
	if f.localDir == "" {
		return nil, badRequest("file sources are not configured")
	}
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(f.localDir, clean)
	st, err := os.Stat(full)
	if err != nil {
		return nil, &httpError{Code: http.StatusNotFound, Msg: "source not found: " + rel}
	}
	if st.Size() > f.maxBytes {
		return nil, &httpError{Code: http.StatusRequestEntityTooLarge, Msg: "source exceeds upload limit"}
	}
	return os.ReadFile(full)
}
