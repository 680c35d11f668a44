// Copyright 2025 Ember ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for tensor values in the Ember ML
// framework.
package tensor

import (
	"github.com/ember-ml/ember/internal/tensor"
)

// Type aliases for public API

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	String  DataType = tensor.String
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3} represents a 2D tensor with dimensions 2×3; Shape{}
// is a scalar.
type Shape = tensor.Shape

// Dense is a dense, contiguous tensor value.
type Dense = tensor.Dense

// ParseDataType maps a data type name such as "float32" back to its
// DataType, reporting whether the name is known.
func ParseDataType(s string) (DataType, bool) {
	return tensor.ParseDataType(s)
}

// Creation functions

// NewDense creates a zero-valued tensor of the given type and shape.
func NewDense(dtype DataType, shape Shape) (*Dense, error) {
	return tensor.NewDense(dtype, shape)
}

// FromFloat32s creates a Float32 tensor from vals.
// len(vals) must equal shape.NumElements().
func FromFloat32s(vals []float32, shape Shape) (*Dense, error) {
	return tensor.FromFloat32s(vals, shape)
}

// FromFloat64s creates a Float64 tensor from vals.
func FromFloat64s(vals []float64, shape Shape) (*Dense, error) {
	return tensor.FromFloat64s(vals, shape)
}

// FromInt32s creates an Int32 tensor from vals.
func FromInt32s(vals []int32, shape Shape) (*Dense, error) {
	return tensor.FromInt32s(vals, shape)
}

// FromInt64s creates an Int64 tensor from vals.
func FromInt64s(vals []int64, shape Shape) (*Dense, error) {
	return tensor.FromInt64s(vals, shape)
}

// FromStrings creates a String tensor from vals. The byte strings are
// copied; the tensor does not alias vals.
func FromStrings(vals [][]byte, shape Shape) (*Dense, error) {
	return tensor.FromStrings(vals, shape)
}

// ScalarFloat32 creates a Float32 scalar (rank-0 tensor).
func ScalarFloat32(v float32) *Dense {
	return tensor.ScalarFloat32(v)
}

// ScalarFloat64 creates a Float64 scalar.
func ScalarFloat64(v float64) *Dense {
	return tensor.ScalarFloat64(v)
}

// ScalarString creates a String scalar holding one byte string.
func ScalarString(v []byte) *Dense {
	return tensor.ScalarString(v)
}

// Utility functions

// BroadcastShapes computes the broadcast shape for two shapes following
// NumPy broadcasting rules. It returns the resulting shape, whether any
// broadcasting is needed, and an error when the shapes are incompatible.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
