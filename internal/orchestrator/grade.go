package orchestrator

// Grade maps an overall score to a letter grade, per spec §4.4's grade
// mapping. It is a pure function deliberately kept free of any scoring
// heuristics — those live in the per-dimension AI prompts, not here.
func Grade(score int) string {
	switch {
	case score >= 85:
		return "A"
	case score >= 70:
		return "B"
	case score >= 55:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}
