package fittext

import "math"

// searchState is one snapshot of the bisection search. Steps produce a new
// state rather than mutating in place, so a stale callback can never observe
// a half-applied transition.
type searchState struct {
	generation int
	current    float64
	previous   float64
	bracketMin float64
	bracketMax float64
}

// reset begins a fresh search over [min, max]. The first candidate is max,
// with previous pinned to min so the first step sees the full spread.
func (s searchState) reset(min, max float64) searchState {
	return searchState{
		generation: s.generation + 1,
		current:    max,
		previous:   min,
		bracketMin: min,
		bracketMax: max,
	}
}

type stepOutcome int

const (
	// stepContinue means current changed and must be applied and re-measured.
	stepContinue stepOutcome = iota
	// stepConverged means current fits and the spread is within resolution.
	stepConverged
	// stepFailed means the floor of the range still overflows.
	stepFailed
)

// step advances the search given whether the content overflows its viewport
// at s.current. The bracket never expands: an overflowing candidate lowers
// bracketMax, a fitting one raises bracketMin, and the next candidate lands
// halfway into the remaining spread.
func (s searchState) step(overflow bool, resolution float64) (searchState, stepOutcome) {
	withinResolution := math.Abs(s.current-s.previous) <= resolution
	ascending := s.current > s.previous

	if withinResolution {
		switch {
		case overflow && s.current == s.previous:
			// Nothing smaller left to try.
			return s, stepFailed
		case overflow:
			// Step back to a smaller candidate before terminating.
			next := s
			if ascending {
				next.current = s.previous
			} else {
				next.current = s.bracketMin
			}
			return next, stepContinue
		default:
			return s, stepConverged
		}
	}

	next := s
	var delta float64
	if overflow {
		if ascending {
			delta = s.previous - s.current
		} else {
			delta = s.bracketMin - s.current
		}
		next.bracketMax = math.Min(s.bracketMax, s.current)
	} else {
		if ascending {
			delta = s.bracketMax - s.current
		} else {
			delta = s.previous - s.current
		}
		next.bracketMin = math.Max(s.bracketMin, s.current)
	}
	next.previous = s.current
	next.current = s.current + delta/2
	return next, stepContinue
}
