package records

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
)

// Filter maps payload fields to the exact value they must hold. Entries
// whose value is nil, a nil pointer or the empty string are ignored, so a
// partially filled filter simply constrains fewer fields.
type Filter map[string]any

// Keys returns the constrained field names in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k, v := range f {
		if !blank(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// FormatFilter builds the Qdrant filter for f. It returns nil when no
// entry survives, which Qdrant treats as "match everything".
func FormatFilter(f Filter) *pb.Filter {
	keys := f.Keys()
	if len(keys) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, fieldCondition(k, f[k]))
	}
	return &pb.Filter{Must: must}
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return true
	}
	return false
}

func fieldCondition(key string, value any) *pb.Condition {
	field := &pb.FieldCondition{Key: key}
	value = deref(value)

	switch v := value.(type) {
	case string:
		field.Match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}}
	case bool:
		field.Match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}}
	case int:
		field.Match = integerMatch(int64(v))
	case int32:
		field.Match = integerMatch(int64(v))
	case int64:
		field.Match = integerMatch(v)
	case uint32:
		field.Match = integerMatch(int64(v))
	case float32:
		field.Match, field.Range = floatMatch(float64(v))
	case float64:
		field.Match, field.Range = floatMatch(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			field.Match = integerMatch(n)
		} else if f, err := v.Float64(); err == nil {
			field.Match, field.Range = floatMatch(f)
		} else {
			field.Match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v.String()}}
		}
	default:
		field.Match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(v)}}
	}

	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: field}}
}

func integerMatch(n int64) *pb.Match {
	return &pb.Match{MatchValue: &pb.Match_Integer{Integer: n}}
}

// floatMatch matches integral floats (the usual shape of decoded JSON
// numbers) as integers and pins anything else with a closed range.
func floatMatch(f float64) (*pb.Match, *pb.Range) {
	if isIntegral(f) {
		return integerMatch(int64(f)), nil
	}
	return nil, &pb.Range{Gte: &f, Lte: &f}
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.IsValid() {
		return rv.Interface()
	}
	return v
}
