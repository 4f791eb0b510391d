package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type PrimitiveType string

const (
	TypeString PrimitiveType = "string"
	TypeInt    PrimitiveType = "int"
	TypeFloat  PrimitiveType = "float"
	TypeBool   PrimitiveType = "boolean"
	TypeDate   PrimitiveType = "date"
	TypeEnum   PrimitiveType = "enum"
)

// IsText reports whether values of the type are matched as text.
func (t PrimitiveType) IsText() bool {
	return t == TypeString || t == TypeEnum
}

// PropertyValue is a typed primitive. Value holds a string (string, enum),
// int64, float64, bool or time.Time (date).
type PropertyValue struct {
	Type  PrimitiveType
	Value any
}

func StringValue(s string) PropertyValue { return PropertyValue{Type: TypeString, Value: s} }
func EnumValue(s string) PropertyValue { return PropertyValue{Type: TypeEnum, Value: s} }
func IntValue(i int64) PropertyValue { return PropertyValue{Type: TypeInt, Value: i} }
func FloatValue(f float64) PropertyValue { return PropertyValue{Type: TypeFloat, Value: f} }
func BoolValue(b bool) PropertyValue { return PropertyValue{Type: TypeBool, Value: b} }
func DateValue(t time.Time) PropertyValue {
	return PropertyValue{Type: TypeDate, Value: t.UTC().Truncate(time.Millisecond)}
}

// Raw returns the value in the form backends persist it: dates become unix
// milliseconds so they order numerically.
func (v PropertyValue) Raw() any {
	if t, ok := v.Value.(time.Time); ok {
		return t.UnixMilli()
	}
	return v.Value
}

// Text returns the value as a string for text matching.
func (v PropertyValue) Text() string {
	switch x := v.Value.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func (v PropertyValue) String() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.Text())
}

type wireValue struct {
	Type  PrimitiveType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v PropertyValue) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: raw})
}

func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Type = w.Type
	var err error
	switch w.Type {
	case TypeString, TypeEnum:
		var s string
		err = json.Unmarshal(w.Value, &s)
		v.Value = s
	case TypeInt:
		var i int64
		err = json.Unmarshal(w.Value, &i)
		v.Value = i
	case TypeFloat:
		var f float64
		err = json.Unmarshal(w.Value, &f)
		v.Value = f
	case TypeBool:
		var b bool
		err = json.Unmarshal(w.Value, &b)
		v.Value = b
	case TypeDate:
		var ms int64
		err = json.Unmarshal(w.Value, &ms)
		v.Value = time.UnixMilli(ms).UTC()
	default:
		return fmt.Errorf("unsupported property type %q", w.Type)
	}
	if err != nil {
		return fmt.Errorf("decode %s property value: %w", w.Type, err)
	}
	return nil
}

// InstanceProperties maps a property's short name to its value.
type InstanceProperties map[string]PropertyValue

func (p InstanceProperties) Clone() InstanceProperties {
	if p == nil {
		return nil
	}
	out := make(InstanceProperties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
