package service

import (
	"math"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/directory"
)

// normEpsilon bounds how far from unit length a template may be before it is
// rescaled.  Templates already unit length are kept bit-for-bit.
const normEpsilon = 1e-12

// normalizeTemplate checks tpl has dim finite components and a non-zero norm
// and returns an L2-normalized copy.
func normalizeTemplate(field string, tpl []float64, dim int) ([]float64, error) {
	if len(tpl) == 0 {
		return nil, invalid(field, "is required")
	}
	if len(tpl) != dim {
		return nil, invalid(field, "must have %d components, got %d", dim, len(tpl))
	}
	var sum float64
	for _, v := range tpl {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalid(field, "must contain only finite numbers")
		}
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, invalid(field, "must not be the zero vector")
	}

	out := make([]float64, len(tpl))
	if math.Abs(norm-1) <= normEpsilon {
		copy(out, tpl)
		return out, nil
	}
	for i, v := range tpl {
		out[i] = v / norm
	}
	return out, nil
}

// similarity is the cosine similarity of two unit vectors.
func similarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(-1)
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

type matchResult struct {
	principal directory.Principal
	score     float64
	compared  int
	found     bool
}

// bestMatch compares probe with every template of every principal not locked
// at now.  Principals are visited in enrollment order and only a strictly
// higher score replaces the current best, so ties go to the earlier
// principal.  Nothing at or below zero similarity counts as a match.
func bestMatch(probe []float64, principals []directory.Principal, now time.Time) matchResult {
	var res matchResult
	best := math.Inf(-1)
	for _, p := range principals {
		if p.IsLocked(now) {
			continue
		}
		for _, tpl := range p.Templates {
			s := similarity(probe, tpl)
			res.compared++
			if s > best {
				best = s
				res.principal = p
			}
		}
	}
	if res.compared == 0 || math.IsInf(best, -1) {
		return res
	}
	res.score = best
	res.found = best > 0
	return res
}
