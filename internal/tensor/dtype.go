// Package tensor provides the dense tensor types used by the Ember graph
// and serialization packages.
package tensor

import "fmt"

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
//
// String tensors hold variable-length byte strings (serialized records,
// file contents). They have no fixed element size and cannot appear in
// arithmetic ops or variable checkpoints.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	String
)

// HasFixedSize reports whether elements of this type have a fixed byte size.
// Only String elements are variable-length.
func (dt DataType) HasFixedSize() bool {
	return dt != String
}

// Size returns the byte size of one element of the data type.
// Panics for String, which has no fixed element size; callers must check
// HasFixedSize first when the type is not statically known.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case String:
		panic("tensor: String has no fixed element size")
	default:
		panic(fmt.Sprintf("unknown data type %d", int(dt)))
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ParseDataType converts a data type name back to a DataType.
// It is the inverse of String.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "float32":
		return Float32, true
	case "float64":
		return Float64, true
	case "int32":
		return Int32, true
	case "int64":
		return Int64, true
	case "string":
		return String, true
	default:
		return 0, false
	}
}
