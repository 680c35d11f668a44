// Copyright 2025 Ember ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides the public API for building and running Ember
// computation graphs.
//
// A Graph is an append-only set of named, typed nodes; a Session evaluates
// fetched outputs given feeds and owns the variable store. Outputs are
// addressed as "node" or "node:index", which is also how saved-bundle
// signatures refer to tensors.
//
// Example:
//
//	g := graph.New()
//	a, _ := g.Variable("a", tensor.ScalarFloat32(0.5))
//	b, _ := g.Variable("b", tensor.ScalarFloat32(2.0))
//	x, _ := g.Placeholder("x", tensor.Float32)
//	ax, _ := g.Mul("ax", a, x)
//	y, _ := g.Add("y", ax, b)
//
//	sess := graph.NewSession(g)
//	_ = sess.InitVariables()
//	out, _ := sess.Run(map[graph.Output]*tensor.Dense{x: input}, []graph.Output{y})
package graph

import (
	"github.com/ember-ml/ember/internal/graph"
)

// Type aliases for public API

// Graph is an append-only set of named nodes.
type Graph = graph.Graph

// Node is one operation in a graph.
type Node = graph.Node

// Output is a handle to one output tensor of a node.
type Output = graph.Output

// Session evaluates outputs of a graph and owns the variable store.
type Session = graph.Session

// Supported op names, as written into saved bundles.
const (
	OpConst       = graph.OpConst
	OpVariable    = graph.OpVariable
	OpPlaceholder = graph.OpPlaceholder
	OpParseRecord = graph.OpParseRecord
	OpIdentity    = graph.OpIdentity
	OpMul         = graph.OpMul
	OpAdd         = graph.OpAdd
)

// Sentinel errors returned by graph construction and evaluation.
var (
	ErrInvalidName           = graph.ErrInvalidName
	ErrDuplicateName         = graph.ErrDuplicateName
	ErrUnknownNode           = graph.ErrUnknownNode
	ErrInvalidOutputRef      = graph.ErrInvalidOutputRef
	ErrPlaceholderNotFed     = graph.ErrPlaceholderNotFed
	ErrUninitializedVariable = graph.ErrUninitializedVariable
	ErrDTypeMismatch         = graph.ErrDTypeMismatch
)

// New creates an empty graph.
func New() *Graph {
	return graph.New()
}

// NewSession creates a session for g with an empty variable store.
func NewSession(g *Graph) *Session {
	return graph.NewSession(g)
}
