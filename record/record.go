// Copyright 2025 Ember ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package record provides the public API for Ember's serialized
// feature-record format.
//
// A Record is a bag of named features, each a list of bytes, float32, or
// int64 values, encoded in protobuf wire format with the conventional field
// numbers for feature records. ParseSingle and ParseBatch extract configured
// fixed-length features as dense tensors, the same operation graphs perform
// in a ParseRecord node.
//
// Example:
//
//	data, _ := record.Marshal(record.New().SetFloats("x", 3.0))
//	out, _ := record.ParseSingle(data, map[string]record.FixedLenFeature{
//	    "x": {Dtype: tensor.Float32, Shape: tensor.Shape{1}},
//	})
package record

import (
	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

// Type aliases for public API

// Record is a set of named features.
type Record = record.Record

// Feature is one named value list.
type Feature = record.Feature

// BytesList holds repeated byte-string values.
type BytesList = record.BytesList

// FloatList holds repeated float32 values.
type FloatList = record.FloatList

// Int64List holds repeated int64 values.
type Int64List = record.Int64List

// FixedLenFeature configures the parsing of one fixed-length feature.
type FixedLenFeature = record.FixedLenFeature

// ParallelConfig controls how ParseBatch spreads record decoding over
// goroutines.
type ParallelConfig = parallel.Config

// Parse errors.
var (
	ErrMissingFeature = record.ErrMissingFeature
	ErrKindMismatch   = record.ErrKindMismatch
	ErrLengthMismatch = record.ErrLengthMismatch
)

// New returns an empty record.
func New() *Record {
	return record.New()
}

// Marshal encodes a record to protobuf wire format. The encoding is
// deterministic: features are written in sorted name order.
func Marshal(r *Record) ([]byte, error) {
	return record.Marshal(r)
}

// Unmarshal decodes a record from protobuf wire format.
func Unmarshal(data []byte) (*Record, error) {
	return record.Unmarshal(data)
}

// DefaultParallelConfig returns the default batch-decoding configuration.
func DefaultParallelConfig() ParallelConfig {
	return parallel.DefaultConfig()
}

// ParseSingle decodes one serialized record and extracts the configured
// features as dense tensors of their configured shapes.
func ParseSingle(serialized []byte, configs map[string]FixedLenFeature) (map[string]*tensor.Dense, error) {
	return record.ParseSingle(serialized, configs)
}

// ParseBatch decodes a batch of serialized records. Each result tensor has
// shape [len(serialized), cfg.Shape...].
func ParseBatch(serialized [][]byte, configs map[string]FixedLenFeature, par ParallelConfig) (map[string]*tensor.Dense, error) {
	return record.ParseBatch(serialized, configs, par)
}
