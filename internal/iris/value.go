package iris

import (
	"encoding/base64"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/Linaro/lite-cornea/internal/cos"
)

// Kind tags the shape of a dynamic Iris value (spec.md §9, "Dynamic JSON
// payloads"): Iris parameter/result/event-field payloads are
// heterogeneous, so generic code (the event router, the catalog's raw
// field decoding) models them as this tagged variant; typed wrappers in
// methods.go decode the well-known shapes straight into concrete structs
// instead of going through Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindString
	KindBytes // byte-blob fields, carried as base64 on the wire
	KindArray
	KindObject
)

// Value is one dynamic Iris payload value.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Str    string
	Bytes  []byte
	Array  []Value
	Object map[string]Value
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindInt:
		return []byte(fmt.Sprintf("%d", v.Int)), nil
	case KindString:
		return jsoniter.Marshal(v.Str)
	case KindBytes:
		return jsoniter.Marshal(base64.StdEncoding.EncodeToString(v.Bytes))
	case KindArray:
		return jsoniter.Marshal(v.Array)
	case KindObject:
		return jsoniter.Marshal(v.Object)
	default:
		return nil, fmt.Errorf("iris: unknown value kind %d", v.Kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var generic any
	if err := jsoniter.Unmarshal(data, &generic); err != nil {
		return cos.Wrap(err, "iris: decode dynamic value")
	}
	*v = fromGeneric(generic)
	return nil
}

func fromGeneric(g any) Value {
	switch t := g.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case float64:
		return Value{Kind: KindInt, Int: int64(t)}
	case string:
		return Value{Kind: KindString, Str: t}
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = fromGeneric(e)
		}
		return Value{Kind: KindArray, Array: arr}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = fromGeneric(e)
		}
		return Value{Kind: KindObject, Object: obj}
	default:
		return Value{Kind: KindNull}
	}
}

// AsBytesFromBase64 decodes a KindString value carrying base64 data into
// a KindBytes value, used for byte-blob event fields (the wire format
// doesn't distinguish strings from base64-encoded blobs on its own; the
// field descriptor's declared logical type does).
func (v Value) AsBytesFromBase64() (Value, error) {
	if v.Kind != KindString {
		return v, fmt.Errorf("iris: value is not a string, cannot decode as byte-blob")
	}
	b, err := base64.StdEncoding.DecodeString(v.Str)
	if err != nil {
		return v, cos.Wrap(err, "iris: decode byte-blob field")
	}
	return Value{Kind: KindBytes, Bytes: b}, nil
}
