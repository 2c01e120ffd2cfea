package reports

import "math"

// CalculateGrade maps a score onto a letter grade. A nil or NaN score
// has no grade.
func CalculateGrade(score *float64) string {
	if score == nil || math.IsNaN(*score) {
		return ""
	}
	switch s := *score; {
	case s >= 90:
		return "A+"
	case s >= 80:
		return "A"
	case s >= 70:
		return "B+"
	case s >= 60:
		return "B"
	case s >= 50:
		return "C"
	case s >= 40:
		return "D"
	default:
		return "E"
	}
}

// OverallRemark returns the remark word for a letter grade, or "" for
// anything unrecognized.
func OverallRemark(grade string) string {
	switch grade {
	case "A+", "A":
		return "Excellent"
	case "B+":
		return "Very Good"
	case "B":
		return "Good"
	case "C":
		return "Fair"
	case "D":
		return "Pass"
	case "E":
		return "Fail"
	default:
		return ""
	}
}

// Float returns a pointer to v, for building scores in code.
func Float(v float64) *float64 { return &v }

// Total sums the recorded components of s. It is nil while nothing has
// been recorded.
func (s Subject) Total() *float64 {
	var (
		sum  float64
		seen bool
	)
	for _, c := range []*float64{s.Project, s.CA1, s.CA2, s.CA3, s.Exam} {
		if c != nil {
			sum += *c
			seen = true
		}
	}
	if !seen {
		return nil
	}
	return &sum
}

// Grade is the letter grade of the subject total.
func (s Subject) Grade() string { return CalculateGrade(s.Total()) }

// Summary is the derived result block of a report.
type Summary struct {
	Total    *float64        `json:"total"`
	Average  *float64        `json:"average"`
	Graded   int             `json:"graded"`
	Grade    string          `json:"grade"`
	Remark   string          `json:"remark"`
	Subjects []SubjectResult `json:"subjects"`
}

// SubjectResult is one subject's total and grade.
type SubjectResult struct {
	Subject string   `json:"subject"`
	Total   *float64 `json:"total"`
	Grade   string   `json:"grade"`
}

// Summarize totals every graded subject and grades the average.
func (r Report) Summarize() Summary {
	var (
		sum float64
		out Summary
	)
	out.Subjects = make([]SubjectResult, 0, len(r.Cognitive))
	for _, s := range r.Cognitive {
		total := s.Total()
		out.Subjects = append(out.Subjects, SubjectResult{Subject: s.Subject, Total: total, Grade: CalculateGrade(total)})
		if total != nil {
			sum += *total
			out.Graded++
		}
	}
	if out.Graded == 0 {
		return out
	}
	avg := sum / float64(out.Graded)
	out.Total = &sum
	out.Average = &avg
	out.Grade = CalculateGrade(out.Average)
	out.Remark = OverallRemark(out.Grade)
	return out
}
