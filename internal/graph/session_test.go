package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

func floats(t *testing.T, vals []float32, shape tensor.Shape) *tensor.Dense {
	t.Helper()
	d, err := tensor.FromFloat32s(vals, shape)
	if err != nil {
		t.Fatalf("FromFloat32s: %v", err)
	}
	return d
}

func assertFloat32s(t *testing.T, got *tensor.Dense, want []float32, msg string) {
	t.Helper()
	gv := got.Float32s()
	if len(gv) != len(want) {
		t.Fatalf("%s: got %v, want %v", msg, gv, want)
	}
	for i := range want {
		if math.Abs(float64(gv[i]-want[i])) > 1e-6 {
			t.Fatalf("%s: got %v, want %v", msg, gv, want)
		}
	}
}

func TestRunConstMath(t *testing.T) {
	g := New()
	a, err := g.Const("a", tensor.ScalarFloat32(0.5))
	if err != nil {
		t.Fatalf("Const a: %v", err)
	}
	x, err := g.Const("x", floats(t, []float32{2, 4, 6}, tensor.Shape{3}))
	if err != nil {
		t.Fatalf("Const x: %v", err)
	}
	ax, err := g.Mul("ax", a, x)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}
	b, err := g.Const("b", tensor.ScalarFloat32(2))
	if err != nil {
		t.Fatalf("Const b: %v", err)
	}
	y, err := g.Add("y", ax, b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	sess := NewSession(g)
	results, err := sess.Run(nil, []Output{y})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Scalars broadcast over the vector.
	assertFloat32s(t, results[0], []float32{3, 4, 5}, "y = 0.5*x + 2")
	if !results[0].Shape().Equal(tensor.Shape{3}) {
		t.Errorf("result shape = %v, want [3]", results[0].Shape())
	}
}

func TestRunFloat64(t *testing.T) {
	g := New()
	a, _ := g.Const("a", tensor.ScalarFloat64(3))
	b, _ := g.Const("b", tensor.ScalarFloat64(4))
	y, err := g.Mul("y", a, b)
	if err != nil {
		t.Fatalf("Mul: %v", err)
	}

	results, err := NewSession(g).Run(nil, []Output{y})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := results[0].Float64s()[0]; got != 12 {
		t.Errorf("3*4 = %v", got)
	}
}

func TestRunDTypeMismatch(t *testing.T) {
	g := New()
	a, _ := g.Const("a", tensor.ScalarFloat32(1))
	b, _ := g.Const("b", tensor.ScalarFloat64(1))
	y, _ := g.Add("y", a, b)

	_, err := NewSession(g).Run(nil, []Output{y})
	if !errors.Is(err, ErrDTypeMismatch) {
		t.Errorf("got %v, want ErrDTypeMismatch", err)
	}
}

func TestVariables(t *testing.T) {
	g := New()
	v, err := g.Variable("v", tensor.ScalarFloat32(0.5))
	if err != nil {
		t.Fatalf("Variable: %v", err)
	}
	sess := NewSession(g)

	// Before initialization the read must fail.
	if _, err := sess.Run(nil, []Output{v}); !errors.Is(err, ErrUninitializedVariable) {
		t.Errorf("got %v, want ErrUninitializedVariable", err)
	}

	if err := sess.InitVariables(); err != nil {
		t.Fatalf("InitVariables: %v", err)
	}
	results, err := sess.Run(nil, []Output{v})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{0.5}, "initial value")

	// Restored value wins over the initializer.
	if err := sess.SetVariable("v", tensor.ScalarFloat32(7)); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	results, err = sess.Run(nil, []Output{v})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{7}, "restored value")

	if err := sess.SetVariable("v", tensor.ScalarFloat64(1)); err == nil {
		t.Error("SetVariable accepted mismatched dtype")
	}
	if err := sess.SetVariable("nope", tensor.ScalarFloat32(1)); err == nil {
		t.Error("SetVariable accepted unknown node")
	}
}

func TestPlaceholderFeeds(t *testing.T) {
	g := New()
	in, err := g.Placeholder("in", tensor.Float32)
	if err != nil {
		t.Fatalf("Placeholder: %v", err)
	}
	y, err := g.Identity("y", in)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	sess := NewSession(g)

	if _, err := sess.Run(nil, []Output{y}); !errors.Is(err, ErrPlaceholderNotFed) {
		t.Errorf("unfed placeholder: got %v, want ErrPlaceholderNotFed", err)
	}

	_, err = sess.Run(map[Output]*tensor.Dense{in: tensor.ScalarFloat64(1)}, []Output{y})
	if !errors.Is(err, ErrDTypeMismatch) {
		t.Errorf("mismatched feed: got %v, want ErrDTypeMismatch", err)
	}

	results, err := sess.Run(map[Output]*tensor.Dense{in: tensor.ScalarFloat32(5)}, []Output{y})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{5}, "identity passthrough")
}

func TestFeedOverridesAnyNode(t *testing.T) {
	g := New()
	a, _ := g.Const("a", tensor.ScalarFloat32(1))
	b, _ := g.Const("b", tensor.ScalarFloat32(2))
	y, _ := g.Add("y", a, b)

	// Feeding a const replaces its value for this run only.
	results, err := NewSession(g).Run(map[Output]*tensor.Dense{a: tensor.ScalarFloat32(10)}, []Output{y})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{12}, "fed const")

	results, err = NewSession(g).Run(nil, []Output{y})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{3}, "const unchanged after fed run")
}

func TestRunRepeatable(t *testing.T) {
	g := New()
	a, _ := g.Const("a", floats(t, []float32{1, 2}, tensor.Shape{2}))
	b, _ := g.Const("b", floats(t, []float32{3, 4}, tensor.Shape{2}))
	y, _ := g.Mul("y", a, b)

	sess := NewSession(g)
	for i := 0; i < 3; i++ {
		results, err := sess.Run(nil, []Output{y})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		assertFloat32s(t, results[0], []float32{3, 8}, "repeat run")
	}
}

func TestParseRecordScalar(t *testing.T) {
	g := New()
	in, _ := g.Placeholder("in", tensor.String)
	feats, err := g.ParseRecord("parse", in, map[string]record.FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	})
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}

	data, err := record.Marshal(record.New().SetFloats("x", 6))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	sess := NewSession(g)
	results, err := sess.Run(
		map[Output]*tensor.Dense{in: tensor.ScalarString(data)},
		[]Output{feats["x"]},
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertFloat32s(t, results[0], []float32{6}, "parsed feature")
	if !results[0].Shape().Equal(tensor.Shape{1}) {
		t.Errorf("shape = %v, want [1]", results[0].Shape())
	}
}

func TestParseRecordBatch(t *testing.T) {
	g := New()
	in, _ := g.Placeholder("in", tensor.String)
	feats, err := g.ParseRecord("parse", in, map[string]record.FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	})
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}

	var serialized [][]byte
	for _, v := range []float32{1, 2, 3} {
		data, err := record.Marshal(record.New().SetFloats("x", v))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		serialized = append(serialized, data)
	}
	batch, err := tensor.FromStrings(serialized, tensor.Shape{3})
	if err != nil {
		t.Fatalf("FromStrings: %v", err)
	}

	results, err := NewSession(g).Run(map[Output]*tensor.Dense{in: batch}, []Output{feats["x"]})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !results[0].Shape().Equal(tensor.Shape{3, 1}) {
		t.Fatalf("shape = %v, want [3 1]", results[0].Shape())
	}
	assertFloat32s(t, results[0], []float32{1, 2, 3}, "batched features")
}

func TestHalfPlusTwoGraph(t *testing.T) {
	g := New()
	a, _ := g.Variable("a", tensor.ScalarFloat32(0.5))
	b, _ := g.Variable("b", tensor.ScalarFloat32(2))
	in, _ := g.Placeholder("record", tensor.String)
	feats, err := g.ParseRecord("parse", in, map[string]record.FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	})
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	x, _ := g.Identity("x", feats["x"])
	ax, _ := g.Mul("ax", a, x)
	y, err := g.Add("y", ax, b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	sess := NewSession(g)
	if err := sess.InitVariables(); err != nil {
		t.Fatalf("InitVariables: %v", err)
	}

	for _, v := range []float32{0, 1, 10, -4} {
		data, err := record.Marshal(record.New().SetFloats("x", v))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		results, err := sess.Run(map[Output]*tensor.Dense{in: tensor.ScalarString(data)}, []Output{y})
		if err != nil {
			t.Fatalf("Run(x=%v): %v", v, err)
		}
		assertFloat32s(t, results[0], []float32{0.5*v + 2}, "y = 0.5x+2")
	}
}
