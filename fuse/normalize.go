package fuse

import (
	"fmt"
	"strings"

	"github.com/viterin/vek"
)

// DefaultEpsilon guards the ε-variant of min-max scaling against a zero range.
const DefaultEpsilon = 1e-6

// NormalizeMode selects a score normalization.
type NormalizeMode int

const (
	NormalizeL2           NormalizeMode = iota // divide by the Euclidean norm
	NormalizeMinMax                            // (s-min)/(max-min+ε)
	NormalizeMinMaxOrZero                      // (s-min)/(max-min), 0 when max == min
)

func (m NormalizeMode) String() string {
	switch m {
	case NormalizeL2:
		return "l2"
	case NormalizeMinMax:
		return "minmax"
	case NormalizeMinMaxOrZero:
		return "minmax_zero"
	default:
		return "unknown"
	}
}

// ParseNormalizeMode maps a mode name to a NormalizeMode.
func ParseNormalizeMode(name string) (NormalizeMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "l2":
		return NormalizeL2, nil
	case "minmax", "min_max":
		return NormalizeMinMax, nil
	case "minmax_zero", "min_max_zero":
		return NormalizeMinMaxOrZero, nil
	default:
		return 0, fmt.Errorf("%w: unknown normalize mode %q", ErrInvalidInput, name)
	}
}

// Normalize rescales scores with the given mode. The input is never modified.
func Normalize(mode NormalizeMode, scores []float64) ([]float64, error) {
	switch mode {
	case NormalizeL2:
		return L2Normalize(scores)
	case NormalizeMinMax:
		return MinMaxNormalize(scores, DefaultEpsilon), nil
	case NormalizeMinMaxOrZero:
		return MinMaxOrZero(scores), nil
	default:
		return nil, fmt.Errorf("%w: unknown normalize mode %d", ErrInvalidInput, mode)
	}
}

// L2Normalize divides every score by the Euclidean norm of the vector.
// A non-empty vector with zero norm is ErrNumericDegenerate.
func L2Normalize(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return []float64{}, nil
	}
	norm := vek.Norm(scores)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero-norm score vector", ErrNumericDegenerate)
	}
	return vek.DivNumber(scores, norm), nil
}

// MinMaxNormalize computes (s-min)/(max-min+eps). With all-equal scores every
// element becomes 0.
func MinMaxNormalize(scores []float64, eps float64) []float64 {
	if len(scores) == 0 {
		return []float64{}
	}
	lo, hi := vek.Min(scores), vek.Max(scores)
	out := vek.SubNumber(scores, lo)
	vek.DivNumber_Inplace(out, hi-lo+eps)
	return out
}

// MinMaxOrZero computes (s-min)/(max-min), or 0 for every element when
// max == min.
func MinMaxOrZero(scores []float64) []float64 {
	if len(scores) == 0 {
		return []float64{}
	}
	lo, hi := vek.Min(scores), vek.Max(scores)
	if hi == lo {
		return make([]float64, len(scores))
	}
	out := vek.SubNumber(scores, lo)
	vek.DivNumber_Inplace(out, hi-lo)
	return out
}
