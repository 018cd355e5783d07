package meta

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Transform is a pair of mutually inverse scalar functions bound to one
// output measure. Forward is applied to observed outputs before fitting,
// Inverse to predictions before they are returned.
//
// The clip transform is lossy by design: Forward is the identity and only
// Inverse (clamping into the bounds) is meaningful.
type Transform struct {
	Spec    string
	Forward func(float64) float64
	Inverse func(float64) float64
}

func identity(y float64) float64 { return y }

// IsIdentity reports whether the transform is the identity pair.
func (t Transform) IsIdentity() bool {
	return t.Spec == "" || t.Spec == "linear"
}

// ParseTransform resolves a transform spec string to a (forward, inverse)
// pair. Recognized kinds: "linear" (or empty), "log"/"ln"/"log-linear",
// "log1p"/"log1p-linear", "logxp(C)", and "clip(LO,HI)" where either clip
// bound may be empty for a one-sided range. Unknown kinds are a
// configuration error; callers wrap the error with the offending measure
// name.
func ParseTransform(spec string) (Transform, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	name, args := s, ""
	if i := strings.Index(s, "("); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Transform{}, fmt.Errorf("malformed metamodel type %q", spec)
		}
		name = s[:i]
		args = s[i+1 : len(s)-1]
	}

	switch name {
	case "", "linear":
		return Transform{Spec: "linear", Forward: identity, Inverse: identity}, nil
	case "log", "ln", "log-linear":
		return Transform{Spec: "log", Forward: math.Log, Inverse: math.Exp}, nil
	case "log1p", "log1p-linear":
		return Transform{Spec: "log1p", Forward: math.Log1p, Inverse: math.Expm1}, nil
	case "logxp", "logxp-linear":
		shift, err := strconv.ParseFloat(strings.TrimSpace(args), 64)
		if err != nil {
			return Transform{}, fmt.Errorf("metamodel type %q needs one numeric argument", spec)
		}
		return Transform{
			Spec:    fmt.Sprintf("logxp(%g)", shift),
			Forward: func(y float64) float64 { return math.Log(y + shift) },
			Inverse: func(y float64) float64 { return math.Exp(y) - shift },
		}, nil
	case "clip":
		lo, hi, err := parseClipBounds(args)
		if err != nil {
			return Transform{}, fmt.Errorf("metamodel type %q: %w", spec, err)
		}
		return Transform{
			Spec:    s,
			Forward: identity,
			Inverse: func(y float64) float64 { return math.Min(math.Max(y, lo), hi) },
		}, nil
	}
	return Transform{}, fmt.Errorf("unknown metamodel type %q", spec)
}

// parseClipBounds parses "LO,HI" where either side may be empty or "none"
// for an unbounded side.
func parseClipBounds(args string) (lo, hi float64, err error) {
	parts := strings.Split(args, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("clip needs two bounds, got %d", len(parts))
	}
	lo, hi = math.Inf(-1), math.Inf(1)
	if s := strings.TrimSpace(parts[0]); s != "" && s != "none" {
		if lo, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, 0, fmt.Errorf("bad lower bound %q", s)
		}
	}
	if s := strings.TrimSpace(parts[1]); s != "" && s != "none" {
		if hi, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, 0, fmt.Errorf("bad upper bound %q", s)
		}
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("lower bound %g above upper bound %g", lo, hi)
	}
	return lo, hi, nil
}
