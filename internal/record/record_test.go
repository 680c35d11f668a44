package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

func TestMarshalUnmarshal(t *testing.T) {
	rec := New().
		SetFloats("x", 3.5).
		SetInts("label", 1, 2, 3).
		SetBytes("name", []byte("half_plus_two"))

	data, err := Marshal(rec)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	require.Len(t, got.Features, 3)
	assert.Equal(t, []float32{3.5}, got.Feature("x").Floats.Values)
	assert.Equal(t, []int64{1, 2, 3}, got.Feature("label").Ints.Values)
	require.Len(t, got.Feature("name").Bytes.Values, 1)
	assert.Equal(t, "half_plus_two", string(got.Feature("name").Bytes.Values[0]))
}

func TestMarshalDeterministic(t *testing.T) {
	rec := New().SetFloats("b", 2).SetFloats("a", 1).SetFloats("c", 3)

	first, err := Marshal(rec)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(rec)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalEmpty(t *testing.T) {
	got, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, got.Features)
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestMarshalEmptyFeature(t *testing.T) {
	rec := New()
	rec.Features["bad"] = &Feature{}
	_, err := Marshal(rec)
	assert.Error(t, err)
}

func TestParseSingle(t *testing.T) {
	data, err := Marshal(New().SetFloats("x", 3.0))
	require.NoError(t, err)

	out, err := ParseSingle(data, map[string]FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	})
	require.NoError(t, err)

	x := out["x"]
	require.NotNil(t, x)
	assert.True(t, x.Shape().Equal(tensor.Shape{1}))
	assert.Equal(t, []float32{3.0}, x.Float32s())
}

func TestParseSingleDefault(t *testing.T) {
	data, err := Marshal(New().SetFloats("x", 3.0))
	require.NoError(t, err)

	def, err := tensor.FromFloat32s([]float32{-1}, tensor.Shape{1})
	require.NoError(t, err)

	out, err := ParseSingle(data, map[string]FixedLenFeature{
		"x":       {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
		"missing": {Dtype: tensor.Float32, Shape: tensor.Shape{1}, Default: def},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{-1}, out["missing"].Float32s())
}

func TestParseSingleErrors(t *testing.T) {
	data, err := Marshal(New().SetFloats("x", 1, 2))
	require.NoError(t, err)

	tests := []struct {
		name    string
		configs map[string]FixedLenFeature
		wantErr error
	}{
		{
			"missing without default",
			map[string]FixedLenFeature{"y": {Dtype: tensor.Float32, Shape: tensor.Shape{1}}},
			ErrMissingFeature,
		},
		{
			"kind mismatch",
			map[string]FixedLenFeature{"x": {Dtype: tensor.Int64, Shape: tensor.Shape{2}}},
			ErrKindMismatch,
		},
		{
			"length mismatch",
			map[string]FixedLenFeature{"x": {Dtype: tensor.Float32, Shape: tensor.Shape{3}}},
			ErrLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSingle(data, tt.configs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseSingleRejectsBadConfig(t *testing.T) {
	_, err := ParseSingle(nil, map[string]FixedLenFeature{
		"x": {Dtype: tensor.Float64, Shape: tensor.Shape{1}},
	})
	assert.Error(t, err, "float64 features are not representable in records")

	def := tensor.ScalarFloat32(0)
	_, err = ParseSingle(nil, map[string]FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}, Default: def},
	})
	assert.Error(t, err, "default shape must match configured shape")
}

func TestParseBatch(t *testing.T) {
	configs := map[string]FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	}

	const batch = 100
	serialized := make([][]byte, batch)
	for i := range serialized {
		data, err := Marshal(New().SetFloats("x", float32(i)))
		require.NoError(t, err)
		serialized[i] = data
	}

	out, err := ParseBatch(serialized, configs, parallel.DefaultConfig())
	require.NoError(t, err)

	x := out["x"]
	require.True(t, x.Shape().Equal(tensor.Shape{batch, 1}), "shape %v", x.Shape())
	vals := x.Float32s()
	for i := 0; i < batch; i++ {
		assert.Equal(t, float32(i), vals[i])
	}
}

func TestParseBatchPropagatesRecordError(t *testing.T) {
	configs := map[string]FixedLenFeature{
		"x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
	}
	good, err := Marshal(New().SetFloats("x", 1))
	require.NoError(t, err)
	missing, err := Marshal(New().SetFloats("y", 1))
	require.NoError(t, err)

	_, err = ParseBatch([][]byte{good, missing, good}, configs, parallel.Config{Enabled: false})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingFeature)
}
