package configs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueKind enumerates the scalar kinds a configuration field may hold.
type ValueKind string

const (
	KindString  ValueKind = "string"
	KindInteger ValueKind = "integer"
	KindBoolean ValueKind = "boolean"
)

const maxFieldNameLength = 190

// Value is a tagged scalar. Two values are equal only when kind and payload match,
// so integer 587 differs from string "587".
type Value struct {
	kind ValueKind
	text string
	num  int64
	flag bool
}

// StringValue wraps a string.
func StringValue(value string) Value {
	return Value{kind: KindString, text: value}
}

// IntegerValue wraps an integer.
func IntegerValue(value int64) Value {
	return Value{kind: KindInteger, num: value}
}

// BooleanValue wraps a boolean.
func BooleanValue(value bool) Value {
	return Value{kind: KindBoolean, flag: value}
}

// Kind reports the value kind. The zero Value has an empty kind.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Equal reports strict equality on the stored representation.
func (v Value) Equal(other Value) bool {
	return v == other
}

// IsZero reports whether the value carries no payload, such as an empty string.
func (v Value) IsZero() bool {
	switch v.kind {
	case KindString:
		return v.text == ""
	case KindInteger:
		return v.num == 0
	case KindBoolean:
		return !v.flag
	default:
		return true
	}
}

// Text returns the string payload.
func (v Value) Text() string {
	return v.text
}

// Int returns the integer payload.
func (v Value) Int() int64 {
	return v.num
}

// Bool returns the boolean payload.
func (v Value) Bool() bool {
	return v.flag
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.text
	case KindInteger:
		return v.num
	case KindBoolean:
		return v.flag
	default:
		return nil
	}
}

// String formats the payload for display.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.text
	case KindInteger:
		return strconv.FormatInt(v.num, 10)
	case KindBoolean:
		return strconv.FormatBool(v.flag)
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == "" {
		return nil, fmt.Errorf("configs: cannot encode empty value")
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return validationError("malformed value: %v", err)
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML renders the payload as a YAML scalar.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// ValueOf converts a decoded JSON or Go scalar into a Value.
func ValueOf(raw any) (Value, error) {
	switch typed := raw.(type) {
	case Value:
		if typed.kind == "" {
			return Value{}, validationError("empty value")
		}
		return typed, nil
	case string:
		return StringValue(typed), nil
	case bool:
		return BooleanValue(typed), nil
	case int:
		return IntegerValue(int64(typed)), nil
	case int32:
		return IntegerValue(int64(typed)), nil
	case int64:
		return IntegerValue(typed), nil
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return Value{}, validationError("number %s is not an integer", typed.String())
		}
		return IntegerValue(parsed), nil
	case float64:
		if typed != math.Trunc(typed) || math.IsInf(typed, 0) || typed > math.MaxInt64 || typed < math.MinInt64 {
			return Value{}, validationError("number %v is not an integer", typed)
		}
		return IntegerValue(int64(typed)), nil
	case nil:
		return Value{}, validationError("null values are not supported")
	default:
		return Value{}, validationError("unsupported value type %T", raw)
	}
}

// Fields maps field names to scalar values.
type Fields map[string]Value

// NewFields validates field names and converts raw scalars.
func NewFields(raw map[string]any) (Fields, error) {
	fields := make(Fields, len(raw))
	for name, rawValue := range raw {
		if err := validateFieldName(name); err != nil {
			return nil, err
		}
		value, err := ValueOf(rawValue)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = value
	}
	return fields, nil
}

// DecodeFields parses a JSON object of scalar fields.
func DecodeFields(data []byte) (Fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, validationError("fields are required")
	}
	var decoded map[string]Value
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		return nil, validationError("fields must be a JSON object of scalars: %v", err)
	}
	fields := make(Fields, len(decoded))
	for name, value := range decoded {
		if err := validateFieldName(name); err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

func validateFieldName(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationError("field name must not be empty")
	}
	if len(name) > maxFieldNameLength {
		return validationError("field name exceeds %d characters", maxFieldNameLength)
	}
	return nil
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	cloned := make(Fields, len(f))
	for name, value := range f {
		cloned[name] = value
	}
	return cloned
}

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both field sets hold the same names and values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for name, value := range f {
		otherValue, ok := other[name]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// CanonicalJSON encodes the fields with sorted keys.
func (f Fields) CanonicalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(f))
}

// Checksum returns the hex SHA-256 of the canonical encoding.
func (f Fields) Checksum() (string, error) {
	encoded, err := f.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
