package tensor

import (
	"testing"
)

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
	}{
		{Float32, 4},
		{Float64, 8},
		{Int32, 4},
		{Int64, 8},
	}

	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestDataTypeSizeStringPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("String.Size() did not panic")
		}
	}()
	_ = String.Size()
}

func TestDataTypeRoundTrip(t *testing.T) {
	for _, dt := range []DataType{Float32, Float64, Int32, Int64, String} {
		got, ok := ParseDataType(dt.String())
		if !ok || got != dt {
			t.Errorf("ParseDataType(%q) = %v, %v", dt.String(), got, ok)
		}
	}
	if _, ok := ParseDataType("complex64"); ok {
		t.Error("ParseDataType accepted unknown name")
	}
}

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		n     int
	}{
		{Shape{}, 1}, // scalar
		{nil, 1},     // scalar
		{Shape{5}, 5},
		{Shape{2, 3}, 6},
		{Shape{2, 3, 4}, 24},
	}

	for _, tt := range tests {
		if got := tt.shape.NumElements(); got != tt.n {
			t.Errorf("%v.NumElements() = %d, want %d", tt.shape, got, tt.n)
		}
	}
}

func TestShapeValidate(t *testing.T) {
	if err := (Shape{2, 3}).Validate(); err != nil {
		t.Errorf("valid shape rejected: %v", err)
	}
	if err := (Shape{2, 0}).Validate(); err == nil {
		t.Error("zero dimension accepted")
	}
	if err := (Shape{-1}).Validate(); err == nil {
		t.Error("negative dimension accepted")
	}
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b    Shape
		want    Shape
		needs   bool
		wantErr bool
	}{
		{Shape{}, Shape{3}, Shape{3}, true, false},  // scalar vs vector
		{Shape{3}, Shape{}, Shape{3}, true, false},  // vector vs scalar
		{Shape{3}, Shape{3}, Shape{3}, false, false},
		{Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{1, 5}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		got, needs, err := BroadcastShapes(tt.a, tt.b)
		if tt.wantErr {
			if err == nil {
				t.Errorf("BroadcastShapes(%v, %v): expected error", tt.a, tt.b)
			}
			continue
		}
		if err != nil {
			t.Errorf("BroadcastShapes(%v, %v): %v", tt.a, tt.b, err)
			continue
		}
		if !got.Equal(tt.want) || needs != tt.needs {
			t.Errorf("BroadcastShapes(%v, %v) = %v, %v, want %v, %v", tt.a, tt.b, got, needs, tt.want, tt.needs)
		}
	}
}

func TestDenseFromFloat32s(t *testing.T) {
	d, err := FromFloat32s([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	if err != nil {
		t.Fatalf("FromFloat32s: %v", err)
	}
	if d.DType() != Float32 {
		t.Errorf("dtype = %s, want float32", d.DType())
	}
	if !d.Shape().Equal(Shape{2, 3}) {
		t.Errorf("shape = %v, want [2 3]", d.Shape())
	}
	vals := d.Float32s()
	if len(vals) != 6 || vals[0] != 1 || vals[5] != 6 {
		t.Errorf("values = %v", vals)
	}
}

func TestDenseShapeMismatch(t *testing.T) {
	if _, err := FromFloat32s([]float32{1, 2, 3}, Shape{2, 2}); err == nil {
		t.Error("element count mismatch accepted")
	}
	if _, err := FromStrings([][]byte{[]byte("a")}, Shape{2}); err == nil {
		t.Error("string count mismatch accepted")
	}
}

func TestDenseScalars(t *testing.T) {
	a := ScalarFloat32(0.5)
	if a.NumElements() != 1 || a.Float32s()[0] != 0.5 {
		t.Errorf("ScalarFloat32(0.5) = %v", a.Float32s())
	}
	if len(a.Shape()) != 0 {
		t.Errorf("scalar shape = %v, want rank 0", a.Shape())
	}

	s := ScalarString([]byte("record"))
	if string(s.Strings()[0]) != "record" {
		t.Errorf("ScalarString = %q", s.Strings()[0])
	}
}

func TestDenseStringsDoNotAlias(t *testing.T) {
	src := [][]byte{[]byte("abc")}
	d, err := FromStrings(src, Shape{1})
	if err != nil {
		t.Fatalf("FromStrings: %v", err)
	}
	src[0][0] = 'z'
	if string(d.Strings()[0]) != "abc" {
		t.Error("String tensor aliases caller memory")
	}
}

func TestDenseCloneAndEqual(t *testing.T) {
	d, err := FromFloat64s([]float64{1.5, 2.5}, Shape{2})
	if err != nil {
		t.Fatalf("FromFloat64s: %v", err)
	}
	clone := d.Clone()
	if !d.Equal(clone) {
		t.Error("clone not equal to original")
	}

	clone.Float64s()[0] = 9
	if d.Equal(clone) {
		t.Error("deep copy shares buffer with original")
	}
	if d.Float64s()[0] != 1.5 {
		t.Error("original mutated through clone")
	}

	other, _ := FromFloat64s([]float64{1.5, 2.5}, Shape{1, 2})
	if d.Equal(other) {
		t.Error("tensors with different shapes compare equal")
	}
}

func TestDenseAccessorPanicsOnWrongType(t *testing.T) {
	d := ScalarFloat32(1)
	defer func() {
		if recover() == nil {
			t.Fatal("Float64s() on float32 tensor did not panic")
		}
	}()
	_ = d.Float64s()
}
