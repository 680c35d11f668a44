// Copyright 2025 Ember ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package saved provides the public API for exporting and loading Ember
// model bundles.
//
// A bundle directory holds a serialized graph with named signatures plus a
// variables checkpoint:
//
//	export-dir/
//	  saved_bundle.pb      (binary) or saved_bundle.pbtxt (text)
//	  variables/
//	    variables.ember
//
// Export with a Builder, load with Load:
//
//	b := saved.NewBuilder(dir)
//	err := b.AddGraphAndVariables(sess, []string{saved.TagServe}, signatures)
//	path, err := b.Save(false)
//
//	m, err := saved.Load(dir)
//	out, err := m.RunSignature("regression", inputs)
package saved

import (
	"github.com/ember-ml/ember/internal/saved"
	"github.com/ember-ml/ember/internal/tensor"
)

// DataType and Shape mirror the tensor package types used in signatures.
type (
	DataType = tensor.DataType
	Shape    = tensor.Shape
)

// Well-known constants of the bundle layout.
const (
	// SchemaVersion is the current bundle schema version.
	SchemaVersion = saved.SchemaVersion

	// TagServe marks a graph intended for inference serving.
	TagServe = saved.TagServe

	// BinaryFileName and TextFileName are the bundle definition file names.
	BinaryFileName = saved.BinaryFileName
	TextFileName   = saved.TextFileName

	// VariablesDir and VariablesFileName locate the checkpoint in a bundle.
	VariablesDir      = saved.VariablesDir
	VariablesFileName = saved.VariablesFileName
)

// Type aliases for public API

// Builder assembles a bundle for one export directory.
type Builder = saved.Builder

// Model is a loaded bundle: graph, session, tags, and signatures.
type Model = saved.Model

// BundleDef is the root message of a saved bundle.
type BundleDef = saved.BundleDef

// GraphDef is the serialized form of a graph.
type GraphDef = saved.GraphDef

// NodeDef is one serialized graph node.
type NodeDef = saved.NodeDef

// FeatureDef configures one fixed-length feature of a ParseRecord node.
type FeatureDef = saved.FeatureDef

// TensorDef is a serialized tensor value.
type TensorDef = saved.TensorDef

// SignatureDef describes one computation supported by the graph.
type SignatureDef = saved.SignatureDef

// TensorInfo identifies a concrete tensor for feeding or fetching.
type TensorInfo = saved.TensorInfo

// ErrNotFound reports that a directory holds no bundle definition file.
var ErrNotFound = saved.ErrNotFound

// NewBuilder creates a builder that will export to dir.
func NewBuilder(dir string) *Builder {
	return saved.NewBuilder(dir)
}

// Load reads a bundle from dir, rebuilds its graph, and restores variables.
func Load(dir string) (*Model, error) {
	return saved.Load(dir)
}

// NewSignatureDef builds a signature from input and output tensor maps.
func NewSignatureDef(inputs, outputs map[string]*TensorInfo, methodName string) *SignatureDef {
	return saved.NewSignatureDef(inputs, outputs, methodName)
}

// NewTensorInfo describes a tensor with a known shape.
func NewTensorInfo(name string, dtype DataType, shape Shape) *TensorInfo {
	return saved.NewTensorInfo(name, dtype, shape)
}

// NewUnknownRankTensorInfo describes a tensor whose shape is not constrained
// by the signature.
func NewUnknownRankTensorInfo(name string, dtype DataType) *TensorInfo {
	return saved.NewUnknownRankTensorInfo(name, dtype)
}

// Marshal encodes a bundle definition to binary wire format.
func Marshal(def *BundleDef) ([]byte, error) {
	return saved.Marshal(def)
}

// Unmarshal decodes a bundle definition from binary wire format.
func Unmarshal(data []byte) (*BundleDef, error) {
	return saved.Unmarshal(data)
}

// MarshalText renders a bundle definition in text form.
func MarshalText(def *BundleDef) ([]byte, error) {
	return saved.MarshalText(def)
}

// UnmarshalText parses a text-form bundle definition.
func UnmarshalText(data []byte) (*BundleDef, error) {
	return saved.UnmarshalText(data)
}
