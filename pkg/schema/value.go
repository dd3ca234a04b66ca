package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind string

const (
	KindNull     ValueKind = "null"
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindBool     ValueKind = "bool"
	KindArray    ValueKind = "array"
	KindObject   ValueKind = "object"
	KindDateTime ValueKind = "datetime"
	KindFileRef  ValueKind = "file"
)

// FileRef points at a stored file produced or consumed by a step.
type FileRef struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Value is a parameter value. Exactly one variant is populated, selected by Kind.
// The zero Value is null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
	t    time.Time
	file *FileRef
}

func Null() Value                     { return Value{kind: KindNull} }
func String(s string) Value           { return Value{kind: KindString, str: s} }
func Number(n float64) Value          { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Array(items ...Value) Value      { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }
func DateTime(t time.Time) Value      { return Value{kind: KindDateTime, t: t.UTC()} }
func File(ref FileRef) Value          { return Value{kind: KindFileRef, file: &ref} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsArray returns the array variant.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object variant.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// AsDateTime returns the datetime variant.
func (v Value) AsDateTime() (time.Time, bool) { return v.t, v.kind == KindDateTime }

// AsFile returns the file reference variant.
func (v Value) AsFile() (FileRef, bool) {
	if v.kind != KindFileRef || v.file == nil {
		return FileRef{}, false
	}
	return *v.file, true
}

// Native converts the value into plain Go data (the shape json.Unmarshal
// produces). Datetimes become RFC 3339 strings.
func (v Value) Native() any {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Native()
		}
		return out
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindFileRef:
		if v.file == nil {
			return nil
		}
		return map[string]any{
			"url":       v.file.URL,
			"name":      v.file.Name,
			"mime_type": v.file.MimeType,
			"size":      float64(v.file.Size),
		}
	default:
		return nil
	}
}

// Truthy follows the usual dynamic-language rules: null, false, 0, "" and
// empty collections are false.
func (v Value) Truthy() bool {
	switch v.Kind() {
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	case KindDateTime:
		return !v.t.IsZero()
	case KindFileRef:
		return v.file != nil
	default:
		return false
	}
}

// Text renders the value for substitution into a string.
func (v Value) Text() string {
	return FormatAny(v.Native())
}

// FromAny converts plain Go data into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case time.Time:
		return DateTime(t)
	case FileRef:
		return File(t)
	case *FileRef:
		if t == nil {
			return Null()
		}
		return File(*t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Array(items...)
	case []Value:
		return Array(t...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Object(m)
	case map[string]Value:
		return Object(t)
	default:
		// Fall back to a JSON round trip for structs and other shapes.
		raw, err := json.Marshal(t)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return String(string(raw))
		}
		return FromAny(generic)
	}
}

// FormatAny renders plain Go data as substitution text.
func FormatAny(x any) string {
	switch t := x.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

type wireValue struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value with its kind tag so datetimes and file
// references survive a round trip through the store.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.Kind() {
	case KindNull:
		return json.Marshal(wireValue{Kind: KindNull})
	case KindString:
		payload = v.str
	case KindNumber:
		payload = v.num
	case KindBool:
		payload = v.b
	case KindArray:
		items := v.arr
		if items == nil {
			items = []Value{}
		}
		payload = items
	case KindObject:
		m := v.obj
		if m == nil {
			m = map[string]Value{}
		}
		payload = m
	case KindDateTime:
		payload = v.t.Format(time.RFC3339Nano)
	case KindFileRef:
		payload = v.file
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.Kind(), Value: raw})
}

// UnmarshalJSON accepts both the tagged form and bare JSON values.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err == nil && w.Kind != "" && isKnownKind(w.Kind) {
		return v.decodeTagged(w)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	*v = FromAny(generic)
	return nil
}

func (v *Value) decodeTagged(w wireValue) error {
	switch w.Kind {
	case KindNull:
		*v = Null()
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return err
		}
		*v = Number(n)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case KindArray:
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return err
		}
		*v = Array(items...)
	case KindObject:
		var m map[string]Value
		if err := json.Unmarshal(w.Value, &m); err != nil {
			return err
		}
		*v = Object(m)
	case KindDateTime:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*v = DateTime(t)
	case KindFileRef:
		var ref FileRef
		if err := json.Unmarshal(w.Value, &ref); err != nil {
			return err
		}
		*v = File(ref)
	}
	return nil
}

func isKnownKind(k ValueKind) bool {
	switch k {
	case KindNull, KindString, KindNumber, KindBool, KindArray, KindObject, KindDateTime, KindFileRef:
		return true
	}
	return false
}

// Parameters holds the resolved parameter values of a step.
type Parameters map[string]Value

// Clone returns a shallow copy of the parameter map.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns the value stored under key.
func (p Parameters) Get(key string) (Value, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the text form of key, or "" if absent.
func (p Parameters) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return v.Text()
}

// StringSlice returns key as a list of strings. A single string is treated
// as a one-element list; a JSON-encoded array string is decoded.
func (p Parameters) StringSlice(key string) ([]string, bool) {
	v, ok := p[key]
	if !ok || v.IsNull() {
		return nil, false
	}
	if items, isArr := v.AsArray(); isArr {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.Text())
		}
		return out, true
	}
	if s, isStr := v.AsString(); isStr {
		s = strings.TrimSpace(s)
		if s == "" {
			return []string{}, true
		}
		if strings.HasPrefix(s, "[") {
			var decoded []string
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded, true
			}
		}
		return []string{s}, true
	}
	return nil, false
}

// Native converts all parameters into plain Go data.
func (p Parameters) Native() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Native()
	}
	return out
}

// Keys returns the parameter keys in sorted order.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
