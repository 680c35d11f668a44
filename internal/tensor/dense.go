package tensor

import (
	"bytes"
	"fmt"
	"unsafe"
)

// Dense is a dense in-memory tensor.
//
// Fixed-size dtypes (Float32, Float64, Int32, Int64) store their elements in
// a contiguous little-endian-native byte buffer in row-major order. String
// tensors store one byte slice per element.
type Dense struct {
	dtype DataType
	shape Shape
	data  []byte   // fixed-size dtypes
	strs  [][]byte // String dtype, len == shape.NumElements()
}

// NewDense creates a zero-valued tensor with the given dtype and shape.
func NewDense(dtype DataType, shape Shape) (*Dense, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	d := &Dense{
		dtype: dtype,
		shape: shape.Clone(),
	}
	if dtype == String {
		d.strs = make([][]byte, shape.NumElements())
	} else {
		d.data = make([]byte, shape.NumElements()*dtype.Size())
	}
	return d, nil
}

// FromFloat32s creates a Float32 tensor from vals. The number of values must
// match the shape.
func FromFloat32s(vals []float32, shape Shape) (*Dense, error) {
	d, err := newWithCount(Float32, shape, len(vals))
	if err != nil {
		return nil, err
	}
	copy(d.Float32s(), vals)
	return d, nil
}

// FromFloat64s creates a Float64 tensor from vals.
func FromFloat64s(vals []float64, shape Shape) (*Dense, error) {
	d, err := newWithCount(Float64, shape, len(vals))
	if err != nil {
		return nil, err
	}
	copy(d.Float64s(), vals)
	return d, nil
}

// FromInt32s creates an Int32 tensor from vals.
func FromInt32s(vals []int32, shape Shape) (*Dense, error) {
	d, err := newWithCount(Int32, shape, len(vals))
	if err != nil {
		return nil, err
	}
	copy(d.Int32s(), vals)
	return d, nil
}

// FromInt64s creates an Int64 tensor from vals.
func FromInt64s(vals []int64, shape Shape) (*Dense, error) {
	d, err := newWithCount(Int64, shape, len(vals))
	if err != nil {
		return nil, err
	}
	copy(d.Int64s(), vals)
	return d, nil
}

// FromStrings creates a String tensor from vals. Element byte slices are
// copied so the tensor does not alias caller memory.
func FromStrings(vals [][]byte, shape Shape) (*Dense, error) {
	d, err := newWithCount(String, shape, len(vals))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		d.strs[i] = bytes.Clone(v)
	}
	return d, nil
}

// ScalarFloat32 creates a Float32 scalar (rank-0 tensor).
func ScalarFloat32(v float32) *Dense {
	d, _ := FromFloat32s([]float32{v}, Shape{})
	return d
}

// ScalarFloat64 creates a Float64 scalar.
func ScalarFloat64(v float64) *Dense {
	d, _ := FromFloat64s([]float64{v}, Shape{})
	return d
}

// ScalarString creates a String scalar holding one byte string.
func ScalarString(v []byte) *Dense {
	d, _ := FromStrings([][]byte{v}, Shape{})
	return d
}

func newWithCount(dtype DataType, shape Shape, count int) (*Dense, error) {
	if n := shape.NumElements(); count != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, count)
	}
	return NewDense(dtype, shape)
}

// DType returns the tensor's data type.
func (d *Dense) DType() DataType {
	return d.dtype
}

// Shape returns the tensor's shape. Callers must not modify it.
func (d *Dense) Shape() Shape {
	return d.shape
}

// NumElements returns the total number of elements.
func (d *Dense) NumElements() int {
	return d.shape.NumElements()
}

// ByteSize returns the total memory size of the element buffer in bytes.
// Panics for String tensors, which have no fixed byte size.
func (d *Dense) ByteSize() int {
	return d.NumElements() * d.dtype.Size()
}

// Bytes returns the raw element buffer for fixed-size dtypes.
// Panics for String tensors.
func (d *Dense) Bytes() []byte {
	if d.dtype == String {
		panic("tensor: String tensor has no contiguous byte buffer")
	}
	return d.data
}

// Float32s interprets the buffer as []float32.
// Panics if the tensor's dtype is not Float32.
func (d *Dense) Float32s() []float32 {
	d.mustBe(Float32)
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&d.data[0])), d.NumElements())
}

// Float64s interprets the buffer as []float64.
// Panics if the tensor's dtype is not Float64.
func (d *Dense) Float64s() []float64 {
	d.mustBe(Float64)
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&d.data[0])), d.NumElements())
}

// Int32s interprets the buffer as []int32.
// Panics if the tensor's dtype is not Int32.
func (d *Dense) Int32s() []int32 {
	d.mustBe(Int32)
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&d.data[0])), d.NumElements())
}

// Int64s interprets the buffer as []int64.
// Panics if the tensor's dtype is not Int64.
func (d *Dense) Int64s() []int64 {
	d.mustBe(Int64)
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&d.data[0])), d.NumElements())
}

// Strings returns the per-element byte strings of a String tensor.
// Panics if the tensor's dtype is not String.
func (d *Dense) Strings() [][]byte {
	d.mustBe(String)
	return d.strs
}

func (d *Dense) mustBe(want DataType) {
	if d.dtype != want {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", d.dtype, want))
	}
}

// Clone returns a deep copy of the tensor.
func (d *Dense) Clone() *Dense {
	clone := &Dense{
		dtype: d.dtype,
		shape: d.shape.Clone(),
	}
	if d.dtype == String {
		clone.strs = make([][]byte, len(d.strs))
		for i, s := range d.strs {
			clone.strs[i] = bytes.Clone(s)
		}
	} else {
		clone.data = bytes.Clone(d.data)
	}
	return clone
}

// Equal reports whether two tensors have the same dtype, shape, and element
// values. Float comparison is exact; use it for round-trip checks, not for
// numeric tolerance.
func (d *Dense) Equal(other *Dense) bool {
	if other == nil || d.dtype != other.dtype || !d.shape.Equal(other.shape) {
		return false
	}
	if d.dtype == String {
		for i := range d.strs {
			if !bytes.Equal(d.strs[i], other.strs[i]) {
				return false
			}
		}
		return true
	}
	return bytes.Equal(d.data, other.data)
}

// String renders a short description such as "float32[2 3]".
func (d *Dense) String() string {
	return fmt.Sprintf("%s%v", d.dtype, d.shape)
}
