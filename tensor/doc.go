// Copyright 2025 Ember ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense tensor values flowing through Ember
// graphs.
//
// # Overview
//
// A Dense holds a shaped, typed value: float32, float64, int32, int64, or
// byte strings. Tensors are plain values with no device abstraction; they
// exist to be fed to, fetched from, and stored alongside computation graphs.
//
// # Basic Usage
//
//	x, err := tensor.FromFloat32s([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
//	a := tensor.ScalarFloat32(0.5)
//
// # Broadcasting
//
// Shape combination follows NumPy broadcasting rules:
//
//	out, needed, err := tensor.BroadcastShapes(tensor.Shape{3, 1}, tensor.Shape{4})
//	// out = [3, 4], needed = true
package tensor
