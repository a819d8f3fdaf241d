// Package thumbnail rasterises single-page PDFs into small PNG previews.
package thumbnail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/local/pagecomposer/internal/limiter"
	"github.com/local/pagecomposer/internal/metrics"
)

// ErrCoolingDown is returned while a document that recently failed to render
// is being skipped.
var ErrCoolingDown = errors.New("thumbnail: document recently failed to render")

// Cache stores rendered thumbnails.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, png []byte) error
}

type Options struct {
	MaxWidth  int
	MaxHeight int
	Limiter   *limiter.Limiter
	Cache     Cache // optional
}

type Renderer struct {
	maxW, maxH int
	lim        *limiter.Limiter
	cache      Cache
}

func New(opts Options) *Renderer {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 200
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = 200
	}
	if opts.Limiter == nil {
		opts.Limiter = limiter.New(limiter.Options{MaxInflight: 4})
	}
	return &Renderer{maxW: opts.MaxWidth, maxH: opts.MaxHeight, lim: opts.Limiter, cache: opts.Cache}
}

// Key identifies page index of the source document src.
func Key(src []byte, index int) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(index)
}

// documentKey strips the page index from a Key so a failing document cools
// down as a whole.
func documentKey(key string) string {
	if i := strings.LastIndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// Fit scales w x h into a maxW x maxH box keeping the aspect ratio and rounds
// the result to whole pixels.
func Fit(w, h float64, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	s := math.Min(float64(maxW)/w, float64(maxH)/h)
	pw := int(math.Round(w * s))
	ph := int(math.Round(h * s))
	return max(pw, 1), max(ph, 1)
}

// Cached returns the thumbnail stored under key. On a miss it calls load for
// the single-page document, renders it and stores the PNG. Cache failures
// only cost a re-render.
func (r *Renderer) Cached(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	lg := log.With().Str("thumbnail", key).Logger()
	cacheState := "off"
	if r.cache != nil {
		b, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			lg.Warn().Err(err).Msg("thumbnail cache read failed")
			cacheState = "miss"
		case ok:
			metrics.IncThumbnail("ok", "hit")
			return b, nil
		default:
			cacheState = "miss"
		}
	}
	doc := documentKey(key)
	if r.lim.IsOpen(ctx, doc) {
		metrics.IncThumbnail("cooldown", cacheState)
		return nil, ErrCoolingDown
	}

	pdf, err := load(ctx)
	if err != nil {
		metrics.IncThumbnail("error", cacheState)
		return nil, err
	}
	img, err := r.Render(ctx, pdf)
	if err != nil {
		metrics.IncThumbnail("error", cacheState)
		if ctx.Err() == nil {
			d := r.lim.Open(ctx, doc)
			lg.Warn().Err(err).Dur("cooldown", d).Msg("thumbnail render failed")
		}
		return nil, err
	}
	metrics.IncThumbnail("ok", cacheState)
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, img); err != nil {
			lg.Warn().Err(err).Msg("thumbnail cache write failed")
		}
	}
	return img, nil
}

// Render rasterises the first page of pdf into a PNG that fits the
// configured box.
func (r *Renderer) Render(ctx context.Context, pdf []byte) ([]byte, error) {
	release, err := r.lim.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()
	if doc.NumPage() < 1 {
		return nil, errors.New("document has no pages")
	}

	bounds, err := doc.Bound(0)
	if err != nil {
		return nil, fmt.Errorf("page bounds: %w", err)
	}
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	tw, th := Fit(w, h, r.maxW, r.maxH)
	if tw == 0 {
		return nil, fmt.Errorf("page has no area (%gx%g)", w, h)
	}

	// Page bounds are in points, which are 1/72 inch.
	dpi := 72 * float64(tw) / w
	raw, err := doc.ImageDPI(0, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	var out image.Image = raw
	if rb := raw.Bounds(); rb.Dx() != tw || rb.Dy() != th {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), raw, rb, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	log.Debug().
		Int("width", tw).
		Int("height", th).
		Float64("dpi", dpi).
		Int("png_size", buf.Len()).
		Msg("rendered thumbnail")
	return buf.Bytes(), nil
}
