// Copyright 2026 © The Reportcard Authors
// SPDX-License-Identifier: Apache-2.0

// Package reports holds the student report cards edited by the client,
// with their canonical defaults, load-time normalization and grading
// helpers.
package reports

import (
	"encoding/json"
	"maps"
	"slices"
)

// Report is one student's report card.
type Report struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	Class      string `json:"class"`
	Department string `json:"department"`
	Session    string `json:"session"`

	DaysPresent      *float64 `json:"daysPresent"`
	DaysAbsent       *float64 `json:"daysAbsent"`
	DaysSchoolOpened *float64 `json:"daysSchoolOpened"`
	TotalPupils      *float64 `json:"totalPupils"`
	ClassAverage     *float64 `json:"classAverage"`

	Cognitive   []Subject         `json:"cognitive"`
	Psychomotor map[string]string `json:"psychomotor"`
	Affective   map[string]string `json:"affective"`

	TeacherRemark  string `json:"teacherRemark"`
	ResumptionDate string `json:"resumptionDate"`

	// Extra keeps fields this version does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

// Subject is the score breakdown of one cognitive subject.
type Subject struct {
	Subject string   `json:"subject"`
	Project *float64 `json:"project"`
	CA1     *float64 `json:"ca1"`
	CA2     *float64 `json:"ca2"`
	CA3     *float64 `json:"ca3"`
	Exam    *float64 `json:"exam"`
	Remark  *string  `json:"remark"`

	Extra map[string]json.RawMessage `json:"-"`
}

const (
	DefaultClass          = "GRADE ONE"
	DefaultDepartment     = "PRIMARY"
	DefaultSession        = "2024/2025"
	DefaultResumptionDate = "January 8th, 2025"
	DefaultSkillGrade     = "A"

	// UnknownSubject names stored subjects past the canonical list.
	UnknownSubject = "UNKNOWN"
)

var (
	subjectNames = []string{
		"MATHEMATICS",
		"ENGLISH STUDIES",
		"BASIC SCIENCE",
		"PHY. AND HEALTH EDU.",
		"PREVOCATIONAL STUDIES",
		"NATIONAL VALUES",
		"CUL. AND CREATIVE ART",
		"COMPUTER SCIENCE",
		"FRENCH",
		"HISTORY",
		"MUSIC",
	}

	psychomotorKeys = []string{
		"WRITING", "READING", "FLUENCY", "GAME", "SPORT", "CREATIVITY",
		"MUSICAL SKILLS", "LANGUAGE SKILLS",
	}

	affectiveKeys = []string{
		"PUNCTUALITY", "ATTENDANCE", "RELIABILITY", "NEATNESS", "POLITENESS", "HONESTY",
		"RELATIONSHIP WITH STAFF MEMBERS", "RELATIONSHIP WITH FELLOW STUDENTS",
		"SELF-CONTROL", "CO-OPERATION", "SENSE OF RESPONSIBILITY", "ATTENTIVENESS",
		"INITIATIVE", "ORGANIZATIONAL ABILITY", "PERSEVERANCE", "PHYSICAL DEVELOPMENT",
	}

	// deprecatedFields are dropped from stored reports on load.
	deprecatedFields = []string{"dob", "gender", "admissionNo"}
)

// SubjectNames returns the canonical subject order.
func SubjectNames() []string { return slices.Clone(subjectNames) }

// PsychomotorKeys returns the canonical psychomotor skills in display order.
func PsychomotorKeys() []string { return slices.Clone(psychomotorKeys) }

// AffectiveKeys returns the canonical affective skills in display order.
func AffectiveKeys() []string { return slices.Clone(affectiveKeys) }

// NewReport returns a report with every default filled in.
func NewReport(id string) Report {
	return Report{
		ID:             id,
		Class:          DefaultClass,
		Department:     DefaultDepartment,
		Session:        DefaultSession,
		Cognitive:      DefaultSubjects(),
		Psychomotor:    DefaultPsychomotor(),
		Affective:      DefaultAffective(),
		ResumptionDate: DefaultResumptionDate,
	}
}

// DefaultSubjects returns the canonical subject list with empty scores.
func DefaultSubjects() []Subject {
	out := make([]Subject, len(subjectNames))
	for i, name := range subjectNames {
		out[i] = Subject{Subject: name}
	}
	return out
}

func DefaultPsychomotor() map[string]string { return skillMap(psychomotorKeys) }

func DefaultAffective() map[string]string { return skillMap(affectiveKeys) }

func skillMap(keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = DefaultSkillGrade
	}
	return m
}

// defaultSubjectAt returns the template for position i of a stored list.
func defaultSubjectAt(i int) Subject {
	if i < len(subjectNames) {
		return Subject{Subject: subjectNames[i]}
	}
	return Subject{Subject: UnknownSubject}
}

// Clone returns a deep copy of r.
func (r Report) Clone() Report {
	out := r
	out.DaysPresent = cloneFloat(r.DaysPresent)
	out.DaysAbsent = cloneFloat(r.DaysAbsent)
	out.DaysSchoolOpened = cloneFloat(r.DaysSchoolOpened)
	out.TotalPupils = cloneFloat(r.TotalPupils)
	out.ClassAverage = cloneFloat(r.ClassAverage)
	if r.Cognitive != nil {
		out.Cognitive = make([]Subject, len(r.Cognitive))
		for i, s := range r.Cognitive {
			out.Cognitive[i] = s.Clone()
		}
	}
	out.Psychomotor = maps.Clone(r.Psychomotor)
	out.Affective = maps.Clone(r.Affective)
	out.Extra = cloneRaw(r.Extra)
	return out
}

// Clone returns a deep copy of s.
func (s Subject) Clone() Subject {
	out := s
	out.Project = cloneFloat(s.Project)
	out.CA1 = cloneFloat(s.CA1)
	out.CA2 = cloneFloat(s.CA2)
	out.CA3 = cloneFloat(s.CA3)
	out.Exam = cloneFloat(s.Exam)
	if s.Remark != nil {
		remark := *s.Remark
		out.Remark = &remark
	}
	out.Extra = cloneRaw(s.Extra)
	return out
}

func cloneReports(in []Report) []Report {
	if in == nil {
		return nil
	}
	out := make([]Report, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneRaw(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
