package schema

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DataType is the declared type of a parameter, variable, or output.
type DataType string

const (
	DataTypeString   DataType = "string"
	DataTypeNumber   DataType = "number"
	DataTypeBoolean  DataType = "boolean"
	DataTypeArray    DataType = "array"
	DataTypeObject   DataType = "object"
	DataTypeDateTime DataType = "datetime"
	DataTypeFile     DataType = "file"
	DataTypeAny      DataType = "any"
)

var dataTypeKinds = map[DataType][]ValueKind{
	DataTypeString:   {KindString},
	DataTypeNumber:   {KindNumber},
	DataTypeBoolean:  {KindBool},
	DataTypeArray:    {KindArray},
	DataTypeObject:   {KindObject},
	DataTypeDateTime: {KindDateTime},
	DataTypeFile:     {KindFileRef},
}

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	if dt == DataTypeAny {
		return true
	}
	_, ok := dataTypeKinds[dt]
	return ok
}

// ValidateValue checks that v carries a variant compatible with dt.
// Null is accepted for every type; required-ness is checked elsewhere.
func ValidateValue(dt DataType, v Value) error {
	if dt == "" || dt == DataTypeAny || v.IsNull() {
		return nil
	}
	kinds, ok := dataTypeKinds[dt]
	if !ok {
		return NewErrorf(ErrValidation, "unknown data type %q", dt)
	}
	for _, k := range kinds {
		if v.Kind() == k {
			return nil
		}
	}
	return NewErrorf(ErrValidation, "expected %s, got %s", dt, v.Kind())
}

// Coerce converts v into dt where an unambiguous conversion exists
// (mostly from strings produced by template resolution).
func Coerce(dt DataType, v Value) (Value, error) {
	if err := ValidateValue(dt, v); err == nil {
		return v, nil
	}
	s, isStr := v.AsString()
	if !isStr {
		if dt == DataTypeString {
			return String(v.Text()), nil
		}
		return Value{}, NewErrorf(ErrValidation, "cannot convert %s to %s", v.Kind(), dt)
	}
	s = strings.TrimSpace(s)
	switch dt {
	case DataTypeNumber:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, NewErrorf(ErrValidation, "%q is not a number", s)
		}
		return Number(n), nil
	case DataTypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, NewErrorf(ErrValidation, "%q is not a boolean", s)
		}
		return Bool(b), nil
	case DataTypeDateTime:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, NewErrorf(ErrValidation, "%q is not an RFC 3339 datetime", s)
		}
		return DateTime(t), nil
	case DataTypeArray, DataTypeObject, DataTypeFile:
		var generic any
		if err := json.Unmarshal([]byte(s), &generic); err != nil {
			return Value{}, NewErrorf(ErrValidation, "%q is not valid JSON for %s", s, dt)
		}
		decoded := FromAny(generic)
		if dt == DataTypeFile {
			if obj, ok := decoded.AsObject(); ok {
				ref := FileRef{URL: obj["url"].Text(), Name: obj["name"].Text(), MimeType: obj["mime_type"].Text()}
				if ref.URL != "" {
					return File(ref), nil
				}
			}
			return Value{}, NewErrorf(ErrValidation, "%q is not a file reference", s)
		}
		if err := ValidateValue(dt, decoded); err != nil {
			return Value{}, err
		}
		return decoded, nil
	}
	return Value{}, NewErrorf(ErrValidation, "cannot convert string to %s", dt)
}
