package starlark

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// toStarlark converts a tool result into a Starlark value. Maps become
// dicts with sorted keys; unfamiliar types go through JSON.
func toStarlark(v any) starlark.Value {
	switch t := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return t
	case bool:
		return starlark.Bool(t)
	case string:
		return starlark.String(t)
	case []byte:
		return starlark.String(t)
	case int:
		return starlark.MakeInt(t)
	case int32:
		return starlark.MakeInt64(int64(t))
	case int64:
		return starlark.MakeInt64(t)
	case uint64:
		return starlark.MakeUint64(t)
	case float32:
		return floatValue(float64(t))
	case float64:
		return floatValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return starlark.MakeInt64(i)
		}
		f, _ := t.Float64()
		return starlark.Float(f)
	case []any:
		elems := make([]starlark.Value, len(t))
		for i, e := range t {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case []string:
		elems := make([]starlark.Value, len(t))
		for i, e := range t {
			elems[i] = starlark.String(e)
		}
		return starlark.NewList(elems)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(t))
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), toStarlark(t[k]))
		}
		return d
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return toStarlark(m)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return starlark.None
	}
	data, err := json.Marshal(v)
	if err != nil {
		return starlark.String(fmt.Sprint(v))
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return starlark.String(string(data))
	}
	return toStarlark(generic)
}

// floatValue keeps integral JSON numbers as ints.
func floatValue(f float64) starlark.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

// fromStarlark converts a Starlark value into plain Go data suitable for
// tool arguments and JSON encoding.
func fromStarlark(v starlark.Value) any {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(t)
	case starlark.String:
		return string(t)
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i
		}
		return new(big.Int).Set(t.BigInt()).String()
	case starlark.Float:
		return float64(t)
	case *starlark.List:
		out := make([]any, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = fromStarlark(t.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromStarlark(e)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			out[key] = fromStarlark(item[1])
		}
		return out
	case *starlark.Set:
		out := make([]any, 0, t.Len())
		iter := t.Iterate()
		defer iter.Done()
		var e starlark.Value
		for iter.Next(&e) {
			out = append(out, fromStarlark(e))
		}
		return out
	case *starlarkstruct.Struct:
		out := map[string]any{}
		for _, name := range t.AttrNames() {
			if attr, err := t.Attr(name); err == nil {
				out[name] = fromStarlark(attr)
			}
		}
		return out
	default:
		return v.String()
	}
}
