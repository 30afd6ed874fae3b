package scorer

import (
	"math"

	"repufi/models"
)

var gradeTable = []struct {
	min    float64
	letter string
	label  string
}{
	{9.5, "A+", "Exceptional"},
	{9.0, "A", "Excellent"},
	{8.5, "A-", "Very Strong"},
	{8.0, "B+", "Strong"},
	{7.0, "B", "Good"},
	{6.0, "B-", "Above Average"},
	{5.5, "C+", "Average"},
	{5.0, "C", "Fair"},
}

// GradeFor maps a total score to its letter grade.
func GradeFor(total float64) models.Grade {
	for _, g := range gradeTable {
		if total >= g.min {
			return models.Grade{Letter: g.letter, Label: g.label}
		}
	}
	return models.Grade{Letter: "C-", Label: "Needs Improvement"}
}

// EligibilityFor reports whether total qualifies as a backer and encodes it
// the way the vouching contract expects (one implied decimal).
func (s *Scorer) EligibilityFor(total float64) models.Eligibility {
	contract := math.Round(total * 10)
	if contract < 0 {
		contract = 0
	}
	return models.Eligibility{
		Backer:        total >= s.params.MinBackerScore,
		ContractScore: uint(contract),
	}
}
