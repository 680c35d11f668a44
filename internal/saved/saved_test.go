package saved

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/graph"
	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

// buildAffineModel builds y = a*x + b with a=0.5 and b=2.0, reading x from a
// serialized feature record, and returns the initialized session plus the
// "regression" signature.
func buildAffineModel(t *testing.T) (*graph.Session, map[string]*SignatureDef) {
	t.Helper()
	g := graph.New()

	a, err := g.Variable("a", tensor.ScalarFloat32(0.5))
	require.NoError(t, err)
	b, err := g.Variable("b", tensor.ScalarFloat32(2.0))
	require.NoError(t, err)

	serialized, err := g.Placeholder("record", tensor.String)
	require.NoError(t, err)
	parsed, err := g.ParseRecord("parse", serialized, map[string]record.FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	})
	require.NoError(t, err)
	x, err := g.Identity("x", parsed["x"])
	require.NoError(t, err)

	ax, err := g.Mul("ax", a, x)
	require.NoError(t, err)
	_, err = g.Add("y", ax, b)
	require.NoError(t, err)

	sess := graph.NewSession(g)
	require.NoError(t, sess.InitVariables())

	sigs := map[string]*SignatureDef{
		"regression": NewSignatureDef(
			map[string]*TensorInfo{"input": NewUnknownRankTensorInfo("record", tensor.String)},
			map[string]*TensorInfo{"output": NewUnknownRankTensorInfo("y", tensor.Float32)},
			"regression",
		),
	}
	return sess, sigs
}

func serializedRecord(t *testing.T, x float32) []byte {
	t.Helper()
	data, err := record.Marshal(record.New().SetFloats("x", x))
	require.NoError(t, err)
	return data
}

func bundleDef(t *testing.T) *BundleDef {
	t.Helper()
	sess, sigs := buildAffineModel(t)
	gdef, err := toGraphDef(sess.Graph())
	require.NoError(t, err)
	return &BundleDef{
		SchemaVersion: SchemaVersion,
		Tags:          []string{TagServe},
		Graph:         gdef,
		Signatures:    sigs,
	}
}

func assertDefsEqual(t *testing.T, want, got *BundleDef) {
	t.Helper()
	assert.Equal(t, want.SchemaVersion, got.SchemaVersion)
	assert.Equal(t, want.Tags, got.Tags)
	require.NotNil(t, got.Graph)
	require.Len(t, got.Graph.Nodes, len(want.Graph.Nodes))
	for i, wn := range want.Graph.Nodes {
		gn := got.Graph.Nodes[i]
		assert.Equal(t, wn.Name, gn.Name)
		assert.Equal(t, wn.Op, gn.Op)
		assert.Equal(t, wn.Inputs, gn.Inputs)
		assert.Equal(t, wn.HasDType, gn.HasDType)
		if wn.HasDType {
			assert.Equal(t, wn.DType, gn.DType)
		}
	}
	require.Len(t, got.Signatures, len(want.Signatures))
	for name, ws := range want.Signatures {
		gs := got.Signatures[name]
		require.NotNil(t, gs, "signature %q", name)
		assert.Equal(t, ws.MethodName, gs.MethodName)
		assert.Equal(t, ws.Inputs, gs.Inputs)
		assert.Equal(t, ws.Outputs, gs.Outputs)
	}
}

func TestWireRoundTrip(t *testing.T) {
	want := bundleDef(t)
	data, err := Marshal(want)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assertDefsEqual(t, want, got)

	// Serialized variable values survive too.
	a := got.Graph.Nodes[0]
	require.Equal(t, "a", a.Name)
	require.NotNil(t, a.Value)
	assert.Equal(t, []float32{0.5}, a.Value.FloatVals)
}

func TestWireDeterministic(t *testing.T) {
	def := bundleDef(t)
	first, err := Marshal(def)
	require.NoError(t, err)
	second, err := Marshal(def)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTextRoundTrip(t *testing.T) {
	want := bundleDef(t)
	data, err := MarshalText(want)
	require.NoError(t, err)

	got, err := UnmarshalText(data)
	require.NoError(t, err)
	assertDefsEqual(t, want, got)

	text := string(data)
	assert.Contains(t, text, `tags: "serve"`)
	assert.Contains(t, text, "dtype: DT_FLOAT")
	assert.Contains(t, text, `method_name: "regression"`)
}

func TestTextStringEscapes(t *testing.T) {
	def := &BundleDef{
		SchemaVersion: SchemaVersion,
		Tags:          []string{"line\nbreak", `quo"te`, "tab\tchar"},
	}
	data, err := MarshalText(def)
	require.NoError(t, err)

	got, err := UnmarshalText(data)
	require.NoError(t, err)
	assert.Equal(t, def.Tags, got.Tags)
}

func TestUnmarshalTextRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		`schema_version: "one"`,
		`graph {`,
		`graph } `,
		`tags: "unterminated`,
		`nonsense_field: 3`,
	} {
		_, err := UnmarshalText([]byte(bad))
		assert.Error(t, err, "input %q", bad)
	}
}

func runSavedModel(t *testing.T, dir string) {
	t.Helper()
	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{TagServe}, m.Tags)

	for _, v := range []float32{0, 1, 25, -3.5} {
		in := tensor.ScalarString(serializedRecord(t, v))
		out, err := m.RunSignature("regression", map[string]*tensor.Dense{"input": in})
		require.NoError(t, err)
		y := out["output"]
		require.NotNil(t, y)
		assert.Equal(t, []float32{0.5*v + 2}, y.Float32s())
	}
}

func TestSaveLoadBinary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "half_plus_two")
	sess, sigs := buildAffineModel(t)

	b := NewBuilder(dir)
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	path, err := b.Save(false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, BinaryFileName), path)

	runSavedModel(t, dir)
}

func TestSaveLoadText(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "half_plus_two_pbtxt")
	sess, sigs := buildAffineModel(t)

	b := NewBuilder(dir)
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	path, err := b.Save(true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, TextFileName), path)

	runSavedModel(t, dir)
}

func TestBuilderRejectsSecondGraph(t *testing.T) {
	sess, sigs := buildAffineModel(t)
	b := NewBuilder(filepath.Join(t.TempDir(), "m"))
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	err := b.AddGraphAndVariables(sess, []string{TagServe}, sigs)
	assert.ErrorContains(t, err, "already holds a graph")
}

func TestBuilderRequiresTags(t *testing.T) {
	sess, sigs := buildAffineModel(t)
	b := NewBuilder(filepath.Join(t.TempDir(), "m"))
	err := b.AddGraphAndVariables(sess, nil, sigs)
	assert.ErrorContains(t, err, "tag")
}

func TestBuilderRejectsUninitializedVariables(t *testing.T) {
	g := graph.New()
	_, err := g.Variable("w", tensor.ScalarFloat32(1))
	require.NoError(t, err)
	sess := graph.NewSession(g) // no InitVariables

	b := NewBuilder(filepath.Join(t.TempDir(), "m"))
	err = b.AddGraphAndVariables(sess, []string{TagServe}, nil)
	assert.ErrorContains(t, err, "not initialized")
}

func TestBuilderRejectsDanglingSignature(t *testing.T) {
	sess, _ := buildAffineModel(t)
	sigs := map[string]*SignatureDef{
		"bad": NewSignatureDef(
			map[string]*TensorInfo{"input": NewUnknownRankTensorInfo("no_such_node", tensor.String)},
			nil, "regression",
		),
	}
	b := NewBuilder(filepath.Join(t.TempDir(), "m"))
	err := b.AddGraphAndVariables(sess, []string{TagServe}, sigs)
	assert.Error(t, err)
}

func TestSaveRejectsExistingDir(t *testing.T) {
	dir := t.TempDir() // already exists
	sess, sigs := buildAffineModel(t)
	b := NewBuilder(dir)
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	_, err := b.Save(false)
	assert.ErrorContains(t, err, "already exists")
}

func TestLoadMissingBundle(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsWrongSchemaVersion(t *testing.T) {
	def := bundleDef(t)
	def.SchemaVersion = SchemaVersion + 1
	data, err := Marshal(def)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, BinaryFileName), data, 0o644))
	_, err = Load(dir)
	assert.ErrorContains(t, err, "schema version")
}

func TestRunSignatureInputValidation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	sess, sigs := buildAffineModel(t)
	b := NewBuilder(dir)
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	_, err := b.Save(false)
	require.NoError(t, err)

	m, err := Load(dir)
	require.NoError(t, err)

	_, err = m.RunSignature("nope", nil)
	assert.ErrorContains(t, err, "no signature")

	in := tensor.ScalarString(serializedRecord(t, 1))
	_, err = m.RunSignature("regression", map[string]*tensor.Dense{"wrong": in})
	assert.ErrorContains(t, err, "no input")

	_, err = m.RunSignature("regression", nil)
	assert.ErrorContains(t, err, "not provided")
}

func TestLoadedBatchInference(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	sess, sigs := buildAffineModel(t)
	b := NewBuilder(dir)
	require.NoError(t, b.AddGraphAndVariables(sess, []string{TagServe}, sigs))
	_, err := b.Save(false)
	require.NoError(t, err)

	m, err := Load(dir)
	require.NoError(t, err)

	vals := []float32{1, 2, 3, 4}
	recs := make([][]byte, len(vals))
	for i, v := range vals {
		recs[i] = serializedRecord(t, v)
	}
	in, err := tensor.FromStrings(recs, tensor.Shape{len(recs)})
	require.NoError(t, err)

	out, err := m.RunSignature("regression", map[string]*tensor.Dense{"input": in})
	require.NoError(t, err)
	y := out["output"]
	require.NotNil(t, y)
	assert.Equal(t, tensor.Shape{4, 1}, y.Shape())
	assert.Equal(t, []float32{2.5, 3, 3.5, 4}, y.Float32s())
}

func TestGraphDefRejectsBadNodes(t *testing.T) {
	tests := []struct {
		name string
		def  *GraphDef
	}{
		{"unknown op", &GraphDef{Nodes: []*NodeDef{{Name: "n", Op: "Frobnicate"}}}},
		{"dangling input", &GraphDef{Nodes: []*NodeDef{{Name: "n", Op: graph.OpIdentity, Inputs: []string{"ghost"}}}}},
		{"placeholder without dtype", &GraphDef{Nodes: []*NodeDef{{Name: "p", Op: graph.OpPlaceholder}}}},
		{"const without value", &GraphDef{Nodes: []*NodeDef{{Name: "c", Op: graph.OpConst}}}},
		{"wrong input count", &GraphDef{Nodes: []*NodeDef{
			{Name: "c", Op: graph.OpConst, Value: &TensorDef{DType: tensor.Float32, FloatVals: []float32{1}}},
			{Name: "m", Op: graph.OpMul, Inputs: []string{"c"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromGraphDef(tt.def)
			assert.Error(t, err)
		})
	}
}
