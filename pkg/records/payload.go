package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
)

// Payload is the JSON-like attribute map stored alongside a point's vector.
type Payload = map[string]any

func toPayload(p Payload) (map[string]*pb.Value, error) {
	out := make(map[string]*pb.Value, len(p))
	for k, v := range p {
		val, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// toValue converts a Go value into a Qdrant payload value. Types without a
// direct mapping (structs, typed slices, pointers) go through encoding/json.
func toValue(v any) (*pb.Value, error) {
	switch tv := v.(type) {
	case nil:
		return nullValue(), nil
	case *pb.Value:
		return tv, nil
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}, nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}, nil
	case int:
		return intValue(int64(tv)), nil
	case int32:
		return intValue(int64(tv)), nil
	case int64:
		return intValue(tv), nil
	case uint32:
		return intValue(int64(tv)), nil
	case float32:
		return floatValue(float64(tv)), nil
	case float64:
		return floatValue(tv), nil
	case json.Number:
		if n, err := tv.Int64(); err == nil {
			return intValue(n), nil
		}
		f, err := tv.Float64()
		if err != nil {
			return nil, err
		}
		return floatValue(f), nil
	case map[string]any:
		fields := make(map[string]*pb.Value, len(tv))
		for k, item := range tv {
			val, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = val
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}, nil
	case []any:
		values := make([]*pb.Value, len(tv))
		for i, item := range tv {
			val, err := toValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			values[i] = val
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nullValue(), nil
	}

	// Round-trip anything else through JSON so structs honour their tags.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := decodeJSON(raw, &generic); err != nil {
		return nil, err
	}
	return toValue(generic)
}

func decodeJSON(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func nullValue() *pb.Value {
	return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

// floatValue stores integral floats as integers so that they match the
// integer conditions FormatFilter builds for the same number.
func floatValue(f float64) *pb.Value {
	if isIntegral(f) {
		return intValue(int64(f))
	}
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

func fromPayload(p map[string]*pb.Value) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = fromValue(v)
	}
	return out
}

// fromValue converts a Qdrant value back into plain Go: nil, bool, int64,
// float64, string, map[string]any or []any.
func fromValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_StructValue:
		return fromPayload(kind.StructValue.GetFields())
	case *pb.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, len(values))
		for i, item := range values {
			out[i] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

// pointID maps a string id onto Qdrant's UUID or numeric id.
func pointID(id string) *pb.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return pb.NewIDNum(n)
	}
	return pb.NewIDUUID(id)
}

func pointIDString(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func vectorData(v *pb.VectorsOutput) []float32 {
	out := v.GetVector()
	if dense := out.GetDense(); dense != nil {
		return dense.GetData()
	}
	return out.GetData() //nolint:staticcheck // servers before 1.13 only fill the flat field
}
