package reports

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

var null = []byte("null")

// Normalize decodes a stored report list and reconciles every entry with
// the defaults: stored values override defaults, deprecated fields are
// dropped, subjects are realigned by position and skill maps always hold
// every canonical key. Only undecodable JSON or a top level that is not an
// array is an error; a field holding the wrong kind of value keeps its
// default.
func Normalize(raw []byte) ([]Report, error) {
	if !startsWith(raw, '[') {
		return nil, fmt.Errorf("decode report list: expected a JSON array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode report list: %w", err)
	}
	out := make([]Report, 0, len(items))
	for i, item := range items {
		r, err := NormalizeReport(item)
		if err != nil {
			return nil, fmt.Errorf("report %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// NormalizeReport decodes one stored report over a fresh default report.
// Anything but a JSON object yields the defaults.
func NormalizeReport(raw []byte) (Report, error) {
	r := NewReport("")
	if !startsWith(raw, '{') {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}

// UnmarshalJSON overlays the encoded fields onto r. Fields missing from
// data keep their current value, so decoding into NewReport fills gaps
// with defaults.
func (r *Report) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range deprecatedFields {
		delete(fields, k)
	}

	for key, raw := range fields {
		var err error
		switch key {
		case "id":
			err = decodeString(raw, &r.ID)
		case "fullName":
			err = decodeString(raw, &r.FullName)
		case "class":
			err = decodeString(raw, &r.Class)
		case "department":
			err = decodeString(raw, &r.Department)
		case "session":
			err = decodeString(raw, &r.Session)
		case "teacherRemark":
			err = decodeString(raw, &r.TeacherRemark)
		case "resumptionDate":
			err = decodeString(raw, &r.ResumptionDate)
		case "daysPresent":
			r.DaysPresent, err = decodeNumber(raw, r.DaysPresent)
		case "daysAbsent":
			r.DaysAbsent, err = decodeNumber(raw, r.DaysAbsent)
		case "daysSchoolOpened":
			r.DaysSchoolOpened, err = decodeNumber(raw, r.DaysSchoolOpened)
		case "totalPupils":
			r.TotalPupils, err = decodeNumber(raw, r.TotalPupils)
		case "classAverage":
			r.ClassAverage, err = decodeNumber(raw, r.ClassAverage)
		case "cognitive":
			err = r.decodeCognitive(raw)
		case "psychomotor":
			r.Psychomotor, err = mergeSkills(DefaultPsychomotor(), r.Psychomotor, raw)
		case "affective":
			r.Affective, err = mergeSkills(DefaultAffective(), r.Affective, raw)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[key] = append(json.RawMessage(nil), raw...)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

// decodeCognitive realigns the stored subject list against the canonical
// one. Every canonical position is present in the result; stored entries
// past the canonical list are kept on an UnknownSubject template.
func (r *Report) decodeCognitive(raw json.RawMessage) error {
	if !startsWith(raw, '[') {
		r.Cognitive = DefaultSubjects()
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	n := max(len(items), len(subjectNames))
	subjects := make([]Subject, n)
	for i := range subjects {
		s := defaultSubjectAt(i)
		if i < len(items) && startsWith(items[i], '{') {
			if err := json.Unmarshal(items[i], &s); err != nil {
				return fmt.Errorf("subject %d: %w", i, err)
			}
		}
		subjects[i] = s
	}
	r.Cognitive = subjects
	return nil
}

// MarshalJSON writes the known fields followed by any preserved extras.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return marshalWithExtra(plain(r), r.Extra)
}

// UnmarshalJSON overlays the encoded fields onto s. A missing remark is
// left nil.
func (s *Subject) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, raw := range fields {
		var err error
		switch key {
		case "subject":
			err = decodeString(raw, &s.Subject)
		case "project":
			s.Project, err = decodeNumber(raw, s.Project)
		case "ca1":
			s.CA1, err = decodeNumber(raw, s.CA1)
		case "ca2":
			s.CA2, err = decodeNumber(raw, s.CA2)
		case "ca3":
			s.CA3, err = decodeNumber(raw, s.CA3)
		case "exam":
			s.Exam, err = decodeNumber(raw, s.Exam)
		case "remark":
			s.Remark, err = decodeOptString(raw, s.Remark)
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[key] = append(json.RawMessage(nil), raw...)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}

func (s Subject) MarshalJSON() ([]byte, error) {
	type plain Subject
	return marshalWithExtra(plain(s), s.Extra)
}

// marshalWithExtra encodes v and appends extra keys that v does not
// already define.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, known := fields[k]; !known {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), null)
}

// startsWith reports whether the first non-space byte of raw is c.
func startsWith(raw []byte, c byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == c
}

func decodeScalar(raw json.RawMessage) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// scalarText renders strings, numbers and booleans as text.
func scalarText(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case json.Number:
		return tv.String(), true
	case bool:
		return strconv.FormatBool(tv), true
	}
	return "", false
}

// decodeString sets *dst from a JSON scalar. null, objects and arrays keep
// *dst.
func decodeString(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	v, err := decodeScalar(raw)
	if err != nil {
		return err
	}
	if s, ok := scalarText(v); ok {
		*dst = s
	}
	return nil
}

// decodeOptString is decodeString for nullable fields: null clears the
// value, objects and arrays keep cur.
func decodeOptString(raw json.RawMessage, cur *string) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	v, err := decodeScalar(raw)
	if err != nil {
		return nil, err
	}
	if s, ok := scalarText(v); ok {
		return &s, nil
	}
	return cur, nil
}

// decodeNumber accepts numbers, numeric strings and the empty string that
// cleared form inputs leave behind. Any other value keeps cur.
func decodeNumber(raw json.RawMessage, cur *float64) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	v, err := decodeScalar(raw)
	if err != nil {
		return nil, err
	}
	var text string
	switch tv := v.(type) {
	case json.Number:
		text = tv.String()
	case string:
		text = strings.TrimSpace(tv)
		if text == "" {
			return nil, nil
		}
	default:
		return cur, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return cur, nil
	}
	return &f, nil
}

// mergeSkills unions defaults, the current map and the stored map, later
// sources winning. Stored scalars are kept as text; a stored value that is
// not an object leaves the merged defaults.
func mergeSkills(defaults, current map[string]string, raw json.RawMessage) (map[string]string, error) {
	out := defaults
	maps.Copy(out, current)
	if !startsWith(raw, '{') {
		return out, nil
	}
	var stored map[string]json.RawMessage
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	for k, item := range stored {
		v, err := decodeScalar(item)
		if err != nil {
			return nil, err
		}
		if text, ok := scalarText(v); ok {
			out[k] = text
		}
	}
	return out, nil
}
