package graph

import (
	"fmt"

	"github.com/ember-ml/ember/internal/tensor"
)

// broadcastBinary applies an element-wise binary op with NumPy-style
// broadcasting. Both operands must share a numeric float dtype.
func broadcastBinary(op string, a, b *tensor.Dense, f32 func(x, y float32) float32, f64 func(x, y float64) float64) (*tensor.Dense, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("%s: %w: %s vs %s", op, ErrDTypeMismatch, a.DType(), b.DType())
	}
	if a.DType() != tensor.Float32 && a.DType() != tensor.Float64 {
		return nil, fmt.Errorf("%s: unsupported dtype %s (want float32 or float64)", op, a.DType())
	}

	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := tensor.NewDense(a.DType(), outShape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	strA := broadcastStrides(a.Shape(), outShape)
	strB := broadcastStrides(b.Shape(), outShape)
	n := outShape.NumElements()
	idx := make([]int, len(outShape))

	switch a.DType() {
	case tensor.Float32:
		av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
		for i := 0; i < n; i++ {
			ov[i] = f32(av[offsetOf(idx, strA)], bv[offsetOf(idx, strB)])
			advance(idx, outShape)
		}
	case tensor.Float64:
		av, bv, ov := a.Float64s(), b.Float64s(), out.Float64s()
		for i := 0; i < n; i++ {
			ov[i] = f64(av[offsetOf(idx, strA)], bv[offsetOf(idx, strB)])
			advance(idx, outShape)
		}
	}
	return out, nil
}

// broadcastStrides computes per-dimension strides of src viewed through the
// broadcast result shape out. Dimensions where src is 1 (or absent) get
// stride 0 so the single element is reused along that axis.
func broadcastStrides(src, out tensor.Shape) []int {
	srcStrides := make([]int, len(src))
	stride := 1
	for i := len(src) - 1; i >= 0; i-- {
		srcStrides[i] = stride
		stride *= src[i]
	}

	strides := make([]int, len(out))
	for i := range out {
		srcIdx := len(src) - len(out) + i
		if srcIdx < 0 || (src[srcIdx] == 1 && out[i] != 1) {
			strides[i] = 0
		} else {
			strides[i] = srcStrides[srcIdx]
		}
	}
	return strides
}

func offsetOf(idx, strides []int) int {
	off := 0
	for i, v := range idx {
		off += v * strides[i]
	}
	return off
}

// advance increments a row-major multi-index within shape.
func advance(idx []int, shape tensor.Shape) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < shape[i] {
			return
		}
		idx[i] = 0
	}
}
