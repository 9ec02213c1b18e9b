package session

import (
	"strings"
)

// Autodetect decides whether an input warrants the iterative goal loop
// or a one-shot translate-then-plan, with a confidence in the choice.
type Autodetect struct {
	Iterative  bool
	Score      int
	Confidence float64
}

var (
	iterativeKeywords = []string{"analyze", "understand", "improve", "refactor", "optimize", "organize by"}
	oneShotKeywords   = []string{"list", "show", "display", "status of"}
	clauseSeparators  = []string{" then ", " after ", " and "}
)

// DetectMode scores the input: exploratory verbs push toward the goal
// loop, query verbs push away, long multi-clause inputs push toward.
func DetectMode(input string) Autodetect {
	lower := " " + strings.ToLower(input) + " "
	score := 0
	for _, kw := range iterativeKeywords {
		score += 3 * strings.Count(lower, kw)
	}
	for _, kw := range oneShotKeywords {
		score -= 3 * strings.Count(lower, kw)
	}
	for _, sep := range clauseSeparators {
		score += strings.Count(lower, sep)
	}
	if len(strings.Fields(input)) > 15 {
		score += 2
	}

	d := Autodetect{Score: score, Iterative: score >= 2}
	// Distance from the decision threshold, saturating at 6.
	dist := score - 2
	if dist < 0 {
		dist = 1 - dist
	}
	if dist > 6 {
		dist = 6
	}
	d.Confidence = 0.5 + float64(dist)/12
	return d
}
