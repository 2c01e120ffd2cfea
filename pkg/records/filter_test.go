package records

import (
	"encoding/json"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
)

func TestFormatFilterDropsBlankValues(t *testing.T) {
	var nilPtr *string
	name := "Ada"
	f := Filter{
		"empty":  "",
		"nil":    nil,
		"nilptr": nilPtr,
		"name":   &name,
		"class":  "GRADE ONE",
	}

	got := FormatFilter(f)
	must := got.GetMust()
	if len(must) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(must))
	}
	// keys are sorted
	if must[0].GetField().GetKey() != "class" || must[1].GetField().GetKey() != "name" {
		t.Fatalf("unexpected keys %q %q", must[0].GetField().GetKey(), must[1].GetField().GetKey())
	}
	if must[1].GetField().GetMatch().GetKeyword() != "Ada" {
		t.Fatalf("pointer value not dereferenced: %v", must[1])
	}
}

func TestFormatFilterEmpty(t *testing.T) {
	if FormatFilter(nil) != nil {
		t.Fatal("nil filter should produce nil")
	}
	if FormatFilter(Filter{"a": "", "b": nil}) != nil {
		t.Fatal("all-blank filter should produce nil")
	}
}

func TestFormatFilterValueKinds(t *testing.T) {
	tests := []struct {
		name  string
		value any
		check func(*pb.FieldCondition) bool
	}{
		{"string", "x", func(c *pb.FieldCondition) bool { return c.GetMatch().GetKeyword() == "x" }},
		{"int", 7, func(c *pb.FieldCondition) bool { return c.GetMatch().GetInteger() == 7 }},
		{"int64", int64(-2), func(c *pb.FieldCondition) bool { return c.GetMatch().GetInteger() == -2 }},
		{"bool", false, func(c *pb.FieldCondition) bool {
			_, ok := c.GetMatch().GetMatchValue().(*pb.Match_Boolean)
			return ok && !c.GetMatch().GetBoolean()
		}},
		{"integral float", 90.0, func(c *pb.FieldCondition) bool { return c.GetMatch().GetInteger() == 90 }},
		{"fraction", 2.5, func(c *pb.FieldCondition) bool {
			return c.GetMatch() == nil && c.GetRange().GetGte() == 2.5 && c.GetRange().GetLte() == 2.5
		}},
		{"other", []int{1}, func(c *pb.FieldCondition) bool { return c.GetMatch().GetKeyword() == "[1]" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatFilter(Filter{"k": tt.value})
			if len(got.GetMust()) != 1 {
				t.Fatalf("expected one condition, got %v", got)
			}
			if !tt.check(got.GetMust()[0].GetField()) {
				t.Fatalf("unexpected condition %v", got.GetMust()[0])
			}
		})
	}
}

func TestFilterKeys(t *testing.T) {
	keys := Filter{"b": 1, "a": "x", "c": ""}.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestSelectorProto(t *testing.T) {
	if !AllFields().proto().GetEnable() {
		t.Fatal("AllFields should enable payload")
	}
	none := NoFields().proto()
	if none.GetEnable() || none.GetInclude() != nil {
		t.Fatalf("NoFields should disable payload, got %v", none)
	}
	inc := Fields("a", "b").proto().GetInclude().GetFields()
	if len(inc) != 2 || inc[0] != "a" {
		t.Fatalf("unexpected include %v", inc)
	}
	if s := Field("u"); !s.single || s.String() != "u" {
		t.Fatalf("unexpected single selector %+v", s)
	}
}

func TestOrderByProto(t *testing.T) {
	var none *OrderBy
	if none.proto() != nil || none.String() != "" {
		t.Fatal("nil OrderBy should be empty")
	}
	o := &OrderBy{Key: "created", Direction: Desc}
	if o.proto().GetDirection() != pb.Direction_Desc || o.String() != "created desc" {
		t.Fatalf("unexpected order %v", o.proto())
	}
}

func TestStoredNumbersMatchTheirFilter(t *testing.T) {
	values := []any{float64(10), float32(3), json.Number("7"), json.Number("7.0"), 2.5, 12, int64(-4)}
	for _, v := range values {
		stored, err := toValue(v)
		if err != nil {
			t.Fatalf("toValue(%v): %v", v, err)
		}
		field := FormatFilter(Filter{"n": v}).GetMust()[0].GetField()
		switch m := field.GetMatch().GetMatchValue().(type) {
		case *pb.Match_Integer:
			iv, ok := stored.GetKind().(*pb.Value_IntegerValue)
			if !ok || iv.IntegerValue != m.Integer {
				t.Errorf("%T %v: filter matches integer %d but payload holds %v", v, v, m.Integer, stored)
			}
		case nil:
			dv, ok := stored.GetKind().(*pb.Value_DoubleValue)
			if !ok || dv.DoubleValue < field.GetRange().GetGte() || dv.DoubleValue > field.GetRange().GetLte() {
				t.Errorf("%T %v: range %v does not cover payload %v", v, v, field.GetRange(), stored)
			}
		default:
			t.Errorf("%T %v: unexpected match %T", v, v, m)
		}
	}
}
