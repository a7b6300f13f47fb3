package event

import (
	"strconv"
	"strings"
)

// ValueType tags the dynamic type of an attribute value. The numeric
// values match the type field of trigger attributes from the server.
type ValueType int

const (
	TypeInvalid ValueType = iota
	TypeString
	TypeInteger
	TypeDouble
	TypeBoolean
	TypeTimeMillis
)

// Value is a tagged union holding one attribute value. Only the field
// selected by Type is meaningful.
type Value struct {
	Type       ValueType
	String     string
	Int        int
	Double     float64
	Bool       bool
	TimeMillis int64
}

// IsEmpty reports whether the value is blank: an invalid type, or a
// string type with an empty string. Non-string values are never blank.
func (v Value) IsEmpty() bool {
	switch v.Type {
	case TypeInvalid:
		return true
	case TypeString:
		return v.String == ""
	default:
		return false
	}
}

// Representation returns the value rendered as a string, used by the
// regex operators.
func (v Value) Representation() string {
	switch v.Type {
	case TypeString:
		return v.String
	case TypeInteger:
		return strconv.Itoa(v.Int)
	case TypeDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeTimeMillis:
		return strconv.FormatInt(v.TimeMillis, 10)
	default:
		return ""
	}
}

// CustomAttribute is a named, dynamically typed event attribute.
// Names and string values are lowercased at construction so matching
// is case-insensitive without repeated normalization.
type CustomAttribute struct {
	Name  string
	Value Value
}

// NewStringAttribute creates a string attribute. Both name and value
// are normalized to lowercase.
func NewStringAttribute(name, value string) CustomAttribute {
	return CustomAttribute{
		Name:  strings.ToLower(name),
		Value: Value{Type: TypeString, String: strings.ToLower(value)},
	}
}

// NewIntAttribute creates an integer attribute.
func NewIntAttribute(name string, value int) CustomAttribute {
	return CustomAttribute{
		Name:  strings.ToLower(name),
		Value: Value{Type: TypeInteger, Int: value},
	}
}

// NewDoubleAttribute creates a double attribute.
func NewDoubleAttribute(name string, value float64) CustomAttribute {
	return CustomAttribute{
		Name:  strings.ToLower(name),
		Value: Value{Type: TypeDouble, Double: value},
	}
}

// NewBoolAttribute creates a boolean attribute.
func NewBoolAttribute(name string, value bool) CustomAttribute {
	return CustomAttribute{
		Name:  strings.ToLower(name),
		Value: Value{Type: TypeBoolean, Bool: value},
	}
}

// NewTimeAttribute creates a time attribute holding unix milliseconds.
func NewTimeAttribute(name string, millis int64) CustomAttribute {
	return CustomAttribute{
		Name:  strings.ToLower(name),
		Value: Value{Type: TypeTimeMillis, TimeMillis: millis},
	}
}
