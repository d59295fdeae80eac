// Package rules implements the fee rule matching and evaluation engine.
//
// Rule datasets encode bounds as strings ("100k-1m", ">8.3%", "3-5",
// "immediate"). The parser converts those encodings into typed values once
// at load time; the matcher then evaluates per-field predicates against a
// transaction context without re-parsing anything.
package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrUnparseable marks a rule field encoding that could not be interpreted.
// Callers must fail closed: an unparseable bound never matches, it is never
// coerced to 0.0.
var ErrUnparseable = errors.New("unparseable value")

// ParseError reports a rule field that could not be parsed.
type ParseError struct {
	Field string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseScalar converts a single numeric encoding into a float64. It strips
// currency symbols, thousands separators, and leading comparison operators,
// expands k/m magnitude suffixes, and applies a trailing % as a final
// division by 100. The order is fixed: magnitude first, percentage last, so
// "1.5k%" is 1500/100 = 15, and "8.3%" is 0.083.
func ParseScalar(text string) (float64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrUnparseable)
	}

	// Leading comparison operators carry range semantics handled by
	// ParseRange; here they are noise around the number itself.
	for _, op := range []string{">=", "<=", "≥", "≤", ">", "<"} {
		if strings.HasPrefix(s, op) {
			s = strings.TrimSpace(strings.TrimPrefix(s, op))
			break
		}
	}

	// Currency symbols and thousands separators.
	s = strings.NewReplacer("€", "", "$", "", ",", "", " ", "").Replace(s)

	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSuffix(s, "%")
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}

	f *= multiplier
	if percent {
		f /= 100
	}
	return f, nil
}

// Range is a typed numeric interval with per-bound inclusivity, produced
// once at rule load time.
type Range struct {
	Min, Max                   float64
	MinExclusive, MaxExclusive bool
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	if r.MinExclusive {
		if v <= r.Min {
			return false
		}
	} else if v < r.Min {
		return false
	}
	if r.MaxExclusive {
		if v >= r.Max {
			return false
		}
	} else if v > r.Max {
		return false
	}
	return true
}

// Wildcard reports whether the range admits every value.
func (r Range) Wildcard() bool {
	return math.IsInf(r.Min, -1) && math.IsInf(r.Max, 1)
}

// WildcardRange admits every value. It is the parse of a null/missing bound.
func WildcardRange() Range {
	return Range{Min: math.Inf(-1), Max: math.Inf(1)}
}

// ParseRange converts a range encoding into a typed Range. Four syntaxes
// are recognized:
//
//	"A-B"  closed range, both bounds inclusive
//	">A"   open-ended above ("≥A" and ">=A" force the bound inclusive)
//	"<A"   open-ended below ("≤A" and "<=A" force the bound inclusive)
//	"A"    exact match, [A, A]
//
// Whether bare ">" and "<" are strict is fixed by the bounds policy. An
// empty string is the wildcard range. When exactly one bound of "A-B"
// carries a % sign, the percentage scaling is propagated to both bounds.
func ParseRange(text string, bounds domain.BoundsPolicy) (Range, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return WildcardRange(), nil
	}

	strict := bounds != domain.BoundsInclusive

	switch {
	case strings.HasPrefix(s, ">="), strings.HasPrefix(s, "≥"):
		min, err := ParseScalar(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: min, Max: math.Inf(1)}, nil

	case strings.HasPrefix(s, "<="), strings.HasPrefix(s, "≤"):
		max, err := ParseScalar(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: math.Inf(-1), Max: max}, nil

	case strings.HasPrefix(s, ">"):
		min, err := ParseScalar(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: min, MinExclusive: strict, Max: math.Inf(1)}, nil

	case strings.HasPrefix(s, "<"):
		max, err := ParseScalar(s)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: math.Inf(-1), Max: max, MaxExclusive: strict}, nil
	}

	// Closed range "A-B". Bounds in these datasets are non-negative, so a
	// single interior dash is unambiguous.
	if lo, hi, ok := strings.Cut(s, "-"); ok && lo != "" && hi != "" {
		min, err := ParseScalar(lo)
		if err != nil {
			return Range{}, err
		}
		max, err := ParseScalar(hi)
		if err != nil {
			return Range{}, err
		}

		// "7.7-8.3%" shares one % sign across the whole range.
		loPct := strings.HasSuffix(strings.TrimSpace(lo), "%")
		hiPct := strings.HasSuffix(strings.TrimSpace(hi), "%")
		if loPct != hiPct {
			if !loPct {
				min /= 100
			} else {
				max /= 100
			}
		}

		if min > max {
			return Range{}, fmt.Errorf("%w: inverted range %q", ErrUnparseable, text)
		}
		return Range{Min: min, Max: max}, nil
	}

	// Bare scalar: exact-match range.
	v, err := ParseScalar(s)
	if err != nil {
		return Range{}, err
	}
	return Range{Min: v, Max: v}, nil
}

// captureDelaySpec is the parsed form of a rule's capture_delay field,
// which mixes categorical tokens with numeric-day range encodings.
type captureDelaySpec struct {
	token string // exact categorical token, "" when numeric
	rng   Range
}

// parseCaptureDelay interprets a rule's capture_delay encoding. Values
// containing any range syntax or a plain number are numeric-day specs;
// anything else is a categorical token requiring exact equality.
func parseCaptureDelay(text string, bounds domain.BoundsPolicy) (captureDelaySpec, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return captureDelaySpec{}, fmt.Errorf("%w: empty capture delay", ErrUnparseable)
	}

	if s == domain.CaptureImmediate || s == domain.CaptureManual {
		return captureDelaySpec{token: s}, nil
	}

	rng, err := ParseRange(s, bounds)
	if err != nil {
		// Unknown token: treat as categorical rather than reject, so new
		// dataset tokens still match by exact equality.
		return captureDelaySpec{token: s}, nil
	}
	return captureDelaySpec{rng: rng}, nil
}

// matches applies the capture delay contract: a categorical rule token
// requires exact string equality, and a numeric rule spec applies only when
// the merchant value itself is numeric. "manual" never satisfies ">5".
func (c captureDelaySpec) matches(merchantValue string) bool {
	if c.token != "" {
		return merchantValue == c.token
	}
	days, err := strconv.ParseFloat(strings.TrimSpace(merchantValue), 64)
	if err != nil {
		return false
	}
	return c.rng.Contains(days)
}

// MatchCaptureDelay reports whether a merchant capture_delay value
// satisfies a rule capture_delay encoding under the given bounds policy.
// Unparseable rule encodings fail closed.
func MatchCaptureDelay(merchantValue, ruleValue string, bounds domain.BoundsPolicy) bool {
	spec, err := parseCaptureDelay(ruleValue, bounds)
	if err != nil {
		return false
	}
	return spec.matches(merchantValue)
}
