package engine

import (
	"strings"
)

// PolicyKind names a canvas-size policy.
type PolicyKind string

const (
	PolicyFirst         PolicyKind = "first"
	PolicyLargest       PolicyKind = "largest"
	PolicySmallest      PolicyKind = "smallest"
	PolicyExplicitWidth PolicyKind = "explicit-width"
	PolicyCustom        PolicyKind = "custom"
)

// CanvasPolicy resolves the single target size used for a batch of pages.
type CanvasPolicy struct {
	Kind   PolicyKind
	Width  float64
	Height float64
}

func FirstPage() CanvasPolicy    { return CanvasPolicy{Kind: PolicyFirst} }
func LargestPage() CanvasPolicy  { return CanvasPolicy{Kind: PolicyLargest} }
func SmallestPage() CanvasPolicy { return CanvasPolicy{Kind: PolicySmallest} }

func ExplicitWidth(w float64) CanvasPolicy {
	return CanvasPolicy{Kind: PolicyExplicitWidth, Width: w}
}

func CustomSize(w, h float64) CanvasPolicy {
	return CanvasPolicy{Kind: PolicyCustom, Width: w, Height: h}
}

// ParseCanvasPolicy maps a request policy name to a CanvasPolicy. An empty name
// with both dimensions set means custom.
func ParseCanvasPolicy(name string, w, h float64) (CanvasPolicy, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(name))) {
	case PolicyFirst:
		return FirstPage(), nil
	case PolicyLargest:
		return LargestPage(), nil
	case PolicySmallest:
		return SmallestPage(), nil
	case PolicyCustom:
		return CustomSize(w, h), nil
	case PolicyExplicitWidth:
		return ExplicitWidth(w), nil
	case "":
		if w != 0 || h != 0 {
			return CustomSize(w, h), nil
		}
		return FirstPage(), nil
	}
	return CanvasPolicy{}, invalidInput("unknown canvas policy %q", name)
}

// ResolveCanvas picks the target size for candidates under policy.
//
// For explicit-width the height is left at zero: every page keeps its own
// aspect ratio and derives its height from UniformWidth.
func ResolveCanvas(candidates []Size, policy CanvasPolicy) (Size, error) {
	if len(candidates) == 0 {
		return Size{}, newError(ErrNoPagesAvailable, "no candidate pages")
	}
	switch policy.Kind {
	case PolicyFirst:
		return candidates[0], nil
	case PolicyLargest:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Area() > best.Area() {
				best = c
			}
		}
		return best, nil
	case PolicySmallest:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.Area() < best.Area() {
				best = c
			}
		}
		return best, nil
	case PolicyExplicitWidth:
		if !positive(policy.Width) {
			return Size{}, invalidTarget("target width must be > 0, got %g", policy.Width)
		}
		return Size{Width: policy.Width}, nil
	case PolicyCustom:
		if !positive(policy.Width) || !positive(policy.Height) {
			return Size{}, invalidTarget("target size must be > 0, got %gx%g", policy.Width, policy.Height)
		}
		return Size{Width: policy.Width, Height: policy.Height}, nil
	}
	return Size{}, invalidInput("unknown canvas policy %q", policy.Kind)
}
