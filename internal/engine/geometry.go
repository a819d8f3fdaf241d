package engine

import (
	"fmt"
	"math"
)

// Size is a page box in the document's native unit (points for PDF).
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns w*h.
func (s Size) Area() float64 { return s.Width * s.Height }

// Within reports whether s is within eps of o in both dimensions.
func (s Size) Within(o Size, eps float64) bool {
	return math.Abs(s.Width-o.Width) < eps && math.Abs(s.Height-o.Height) < eps
}

func (s Size) String() string { return fmt.Sprintf("%gx%g", s.Width, s.Height) }

// TargetMode selects how a page is fitted to its target.
type TargetMode int

const (
	// ModeIdentity copies the page without scaling.
	ModeIdentity TargetMode = iota
	// ModeUniformWidth scales both axes by targetWidth / sourceWidth.
	ModeUniformWidth
	// ModeExplicitSize scales each axis independently to the target box.
	ModeExplicitSize
)

func (m TargetMode) String() string {
	switch m {
	case ModeUniformWidth:
		return "uniform-width"
	case ModeExplicitSize:
		return "explicit-size"
	default:
		return "identity"
	}
}

// TargetSpec is the requested size of one output page.
type TargetSpec struct {
	Mode   TargetMode
	Width  float64
	Height float64
}

func UniformWidth(w float64) TargetSpec { return TargetSpec{Mode: ModeUniformWidth, Width: w} }

func ExplicitSize(w, h float64) TargetSpec {
	return TargetSpec{Mode: ModeExplicitSize, Width: w, Height: h}
}

func Identity() TargetSpec { return TargetSpec{Mode: ModeIdentity} }

// Validate rejects non-positive or non-finite target dimensions.
func (t TargetSpec) Validate() error {
	switch t.Mode {
	case ModeUniformWidth:
		if !positive(t.Width) {
			return invalidTarget("target width must be > 0, got %g", t.Width)
		}
	case ModeExplicitSize:
		if !positive(t.Width) || !positive(t.Height) {
			return invalidTarget("target size must be > 0, got %gx%g", t.Width, t.Height)
		}
	}
	return nil
}

// Transform is the page box and content transform for one output page.
type Transform struct {
	ScaleX     float64
	ScaleY     float64
	TranslateX float64
	TranslateY float64
	Box        Size
}

// IsIdentity reports whether applying t leaves content untouched.
func (t Transform) IsIdentity() bool {
	return t.ScaleX == 1 && t.ScaleY == 1 && t.TranslateX == 0 && t.TranslateY == 0
}

// Resolve computes the transform that fits page into target.
//
// Content keeps its top edge anchored to the new page's top edge under the
// bottom-left page coordinate convention: translateY = newHeight - h*scaleY.
// Every current target satisfies newHeight == h*scaleY, so the term is zero.
func Resolve(page Size, target TargetSpec) (Transform, error) {
	if target.Mode == ModeIdentity {
		return Transform{ScaleX: 1, ScaleY: 1, Box: page}, nil
	}
	if err := target.Validate(); err != nil {
		return Transform{}, err
	}
	if !positive(page.Width) || !positive(page.Height) {
		return Transform{}, newError(ErrInvalidSourceGeometry, fmt.Sprintf("page size %s", page))
	}

	var t Transform
	switch target.Mode {
	case ModeUniformWidth:
		s := target.Width / page.Width
		t.ScaleX, t.ScaleY = s, s
		t.Box = Size{Width: target.Width, Height: page.Height * s}
	case ModeExplicitSize:
		t.ScaleX = target.Width / page.Width
		t.ScaleY = target.Height / page.Height
		t.Box = Size{Width: target.Width, Height: target.Height}
	default:
		return Transform{}, invalidInput("unknown target mode %d", target.Mode)
	}
	if !positive(t.ScaleX) || !positive(t.ScaleY) {
		return Transform{}, newError(ErrInvalidSourceGeometry,
			fmt.Sprintf("scale %gx%g for page %s", t.ScaleX, t.ScaleY, page))
	}
	t.TranslateX = 0
	t.TranslateY = t.Box.Height - page.Height*t.ScaleY
	return t, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
