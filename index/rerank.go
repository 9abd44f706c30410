package index

import (
	"strings"
	"time"
)

// Candidate fetch multiplier: reranking needs headroom beyond the
// requested limit because boosts can reorder the raw KNN list.
const candidateMultiplier = 3

// Boost parameters per domain. A boost factor below 1.0 improves rank;
// factors multiply onto the raw vector distance.
const (
	docRecencyBoost  = 0.15
	docRecencyWindow = 30 * 24 * time.Hour
	docPathBoostFull = 0.20
	docPathBoostTerm = 0.10

	traceRecencyBoost  = 0.20
	traceRecencyWindow = 14 * 24 * time.Hour

	convRecencyBoost  = 0.20
	convRecencyWindow = 14 * 24 * time.Hour
	convDensityBoost  = 0.15
	convXrefBoost     = 0.10
)

// recencyFactor returns the multiplicative boost for an item of the
// given age. The boost is maxBoost at age zero and decays linearly to
// nothing at the window edge.
func recencyFactor(age time.Duration, maxBoost float64, window time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if age >= window {
		return 1.0
	}
	boost := maxBoost * (1 - float64(age)/float64(window))
	return 1.0 - boost
}

// pathFactor boosts documents whose path contains the query. A full
// query substring match beats individual term matches.
func pathFactor(query, path string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	p := strings.ToLower(path)
	if q != "" && strings.Contains(p, q) {
		return 1.0 - docPathBoostFull
	}
	for _, term := range queryTerms(query) {
		if strings.Contains(p, term) {
			return 1.0 - docPathBoostTerm
		}
	}
	return 1.0
}

// densityFactor rewards multiple matches clustered in one session.
// hits is the number of distinct pairs from the same session among the
// candidates; the boost applies from two hits and saturates at four.
func densityFactor(hits int) float64 {
	if hits < 2 {
		return 1.0
	}
	scale := float64(hits-1) / 3.0
	if scale > 1 {
		scale = 1
	}
	return 1.0 - convDensityBoost*scale
}

// xrefFactor applies a flat boost when any of the candidate's
// cross-reference tokens overlaps a query term.
func xrefFactor(refs []string, terms []string) float64 {
	for _, ref := range refs {
		for _, term := range terms {
			if ref == term {
				return 1.0 - convXrefBoost
			}
		}
	}
	return 1.0
}

// queryTerms splits a query into lowercased terms longer than two
// characters.
func queryTerms(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
