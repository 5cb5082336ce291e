// Package scoring turns a frozen answer ledger into marks. Scoring is a pure
// function of the exam sections and the ledger: the same inputs always give
// bit-identical results.
package scoring

import (
	"math"
	"sort"

	"github.com/stemsi/exstem-session/internal/model"
)

// Scorer grades answers. Numeric compares NUMERICAL answers; MCQ answers are
// always compared exactly.
type Scorer struct {
	Numeric Comparator
}

// New returns a scorer using the given numeric comparator.
func New(numeric Comparator) *Scorer {
	if numeric == nil {
		numeric = ExactComparator{}
	}
	return &Scorer{Numeric: numeric}
}

// Score grades with exact comparison everywhere.
func Score(sections []model.Section, ledger map[string]model.Answer) model.ScoreResult {
	return New(nil).Score(sections, ledger)
}

// Score walks every question of every section. Unattempted questions count
// toward totals only; wrong answers cost their negative marks.
func (s *Scorer) Score(sections []model.Section, ledger map[string]model.Answer) model.ScoreResult {
	res := model.ScoreResult{
		Sections: make(map[string]model.SectionScore, len(sections)),
	}

	for _, sec := range sections {
		ss := model.SectionScore{}
		for _, q := range sec.Questions {
			ss.TotalMarks += q.Marks

			given, ok := ledger[q.ID]
			if !ok || given.IsEmpty() {
				continue
			}
			ss.Attempted++

			if s.correct(q, given) {
				ss.Correct++
				ss.Score += q.Marks
			} else {
				ss.Score -= q.NegativeMarks
			}
		}
		res.Sections[sec.ID] = ss

		res.TotalScore += ss.Score
		res.TotalMarks += ss.TotalMarks
		res.Attempted += ss.Attempted
		res.Correct += ss.Correct
	}

	if res.TotalMarks > 0 {
		res.Percentage = round2(res.TotalScore / res.TotalMarks * 100)
	}
	return res
}

func (s *Scorer) correct(q model.Question, given model.Answer) bool {
	switch q.Type {
	case model.QuestionTypeMCQ:
		return ExactComparator{}.Equal(given.String(), q.CorrectAnswer.String())

	case model.QuestionTypeNumerical:
		return s.Numeric.Equal(given.String(), q.CorrectAnswer.String())

	case model.QuestionTypeMSQ:
		return sameSet(given.Set(), q.CorrectAnswer.Set())

	default:
		// Unknown question types never award marks.
		return false
	}
}

// sameSet compares option sets ignoring order. Comparison is case sensitive.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
