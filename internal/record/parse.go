package record

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

// Parse errors.
var (
	ErrMissingFeature = errors.New("feature missing and no default configured")
	ErrKindMismatch   = errors.New("feature kind does not match configured dtype")
	ErrLengthMismatch = errors.New("feature length does not match configured shape")
)

// FixedLenFeature configures the parsing of one fixed-length feature.
//
// Dtype must be Float32, Int64, or String. Shape is the per-record shape of
// the feature; the feature's value list must contain exactly
// Shape.NumElements() values. When the feature is absent, Default is used if
// set (it must match Dtype and Shape), otherwise parsing fails.
type FixedLenFeature struct {
	Dtype   tensor.DataType
	Shape   tensor.Shape
	Default *tensor.Dense
}

func (c FixedLenFeature) validate(name string) error {
	switch c.Dtype {
	case tensor.Float32, tensor.Int64, tensor.String:
	default:
		return fmt.Errorf("feature %q: unsupported dtype %s (want float32, int64, or string)", name, c.Dtype)
	}
	if err := c.Shape.Validate(); err != nil {
		return fmt.Errorf("feature %q: %w", name, err)
	}
	if c.Default != nil {
		if c.Default.DType() != c.Dtype {
			return fmt.Errorf("feature %q: default dtype %s does not match %s", name, c.Default.DType(), c.Dtype)
		}
		if !c.Default.Shape().Equal(c.Shape) {
			return fmt.Errorf("feature %q: default shape %v does not match %v", name, c.Default.Shape(), c.Shape)
		}
	}
	return nil
}

// ParseSingle decodes one serialized record and extracts the configured
// features as dense tensors of their configured shapes.
func ParseSingle(serialized []byte, configs map[string]FixedLenFeature) (map[string]*tensor.Dense, error) {
	for name, cfg := range configs {
		if err := cfg.validate(name); err != nil {
			return nil, err
		}
	}

	rec, err := Unmarshal(serialized)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	out := make(map[string]*tensor.Dense, len(configs))
	for name, cfg := range configs {
		t, err := extract(rec, name, cfg)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// ParseBatch decodes a batch of serialized records. Each result tensor has
// shape [len(serialized), cfg.Shape...]. Records are decoded concurrently
// according to cfg.
func ParseBatch(serialized [][]byte, configs map[string]FixedLenFeature, par parallel.Config) (map[string]*tensor.Dense, error) {
	for name, cfg := range configs {
		if err := cfg.validate(name); err != nil {
			return nil, err
		}
	}

	batch := len(serialized)
	out := make(map[string]*tensor.Dense, len(configs))
	for name, cfg := range configs {
		shape := append(tensor.Shape{batch}, cfg.Shape...)
		t, err := tensor.NewDense(cfg.Dtype, shape)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}
		out[name] = t
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	parallel.For(batch, func(i int) {
		rec, err := Unmarshal(serialized[i])
		if err != nil {
			setErr(&mu, &firstErr, fmt.Errorf("record %d: %w", i, err))
			return
		}
		for name, cfg := range configs {
			row, err := extract(rec, name, cfg)
			if err != nil {
				setErr(&mu, &firstErr, fmt.Errorf("record %d: %w", i, err))
				return
			}
			copyRow(out[name], row, i)
		}
	}, par)

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func setErr(mu *sync.Mutex, dst *error, err error) {
	mu.Lock()
	defer mu.Unlock()
	if *dst == nil {
		*dst = err
	}
}

// copyRow copies a per-record tensor into row i of a batched tensor.
// Rows of a batched tensor never overlap, so concurrent copies for distinct
// i are safe.
func copyRow(dst, row *tensor.Dense, i int) {
	n := row.NumElements()
	switch dst.DType() {
	case tensor.Float32:
		copy(dst.Float32s()[i*n:(i+1)*n], row.Float32s())
	case tensor.Int64:
		copy(dst.Int64s()[i*n:(i+1)*n], row.Int64s())
	case tensor.String:
		copy(dst.Strings()[i*n:(i+1)*n], row.Strings())
	}
}

func extract(rec *Record, name string, cfg FixedLenFeature) (*tensor.Dense, error) {
	f := rec.Feature(name)
	if f == nil || f.Kind() == "empty" {
		if cfg.Default != nil {
			return cfg.Default.Clone(), nil
		}
		return nil, fmt.Errorf("feature %q: %w", name, ErrMissingFeature)
	}

	want := cfg.Shape.NumElements()
	switch cfg.Dtype {
	case tensor.Float32:
		if f.Floats == nil {
			return nil, fmt.Errorf("feature %q: %w: got %s, want float", name, ErrKindMismatch, f.Kind())
		}
		if len(f.Floats.Values) != want {
			return nil, fmt.Errorf("feature %q: %w: got %d values, want %d", name, ErrLengthMismatch, len(f.Floats.Values), want)
		}
		return tensor.FromFloat32s(f.Floats.Values, cfg.Shape)

	case tensor.Int64:
		if f.Ints == nil {
			return nil, fmt.Errorf("feature %q: %w: got %s, want int64", name, ErrKindMismatch, f.Kind())
		}
		if len(f.Ints.Values) != want {
			return nil, fmt.Errorf("feature %q: %w: got %d values, want %d", name, ErrLengthMismatch, len(f.Ints.Values), want)
		}
		return tensor.FromInt64s(f.Ints.Values, cfg.Shape)

	case tensor.String:
		if f.Bytes == nil {
			return nil, fmt.Errorf("feature %q: %w: got %s, want bytes", name, ErrKindMismatch, f.Kind())
		}
		if len(f.Bytes.Values) != want {
			return nil, fmt.Errorf("feature %q: %w: got %d values, want %d", name, ErrLengthMismatch, len(f.Bytes.Values), want)
		}
		return tensor.FromStrings(f.Bytes.Values, cfg.Shape)

	default:
		return nil, fmt.Errorf("feature %q: unsupported dtype %s", name, cfg.Dtype)
	}
}
