// Package graph implements a small dataflow graph: typed nodes wired by
// name-addressable outputs, evaluated by a Session.
//
// Graphs are append-only. Node names are unique within a graph, and an
// Output is addressed as "node" or "node:index" (index 0 may be omitted),
// which is also how signatures refer to tensors in saved bundles.
package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

// Supported op names. These are the identifiers written into saved bundles.
const (
	OpConst       = "Const"
	OpVariable    = "Variable"
	OpPlaceholder = "Placeholder"
	OpParseRecord = "ParseRecord"
	OpIdentity    = "Identity"
	OpMul         = "Mul"
	OpAdd         = "Add"
)

// Node is one operation in a graph.
type Node struct {
	g      *Graph
	name   string
	op     string
	inputs []Output

	numOutputs int

	// Op-specific state.
	dtype        tensor.DataType                    // Const, Variable, Placeholder
	value        *tensor.Dense                      // Const value, Variable initial value
	features     map[string]record.FixedLenFeature  // ParseRecord
	featureOrder []string                           // ParseRecord output order (sorted)
}

// Name returns the node's unique name.
func (n *Node) Name() string { return n.name }

// Op returns the node's operation name, e.g. "Mul".
func (n *Node) Op() string { return n.op }

// Inputs returns the node's input outputs in positional order.
func (n *Node) Inputs() []Output {
	out := make([]Output, len(n.inputs))
	copy(out, n.inputs)
	return out
}

// NumOutputs returns the number of outputs the node produces.
func (n *Node) NumOutputs() int { return n.numOutputs }

// Output returns the i-th output handle of the node.
// Panics if i is out of range.
func (n *Node) Output(i int) Output {
	if i < 0 || i >= n.numOutputs {
		panic(fmt.Sprintf("graph: output index %d out of range for %q (%d outputs)", i, n.name, n.numOutputs))
	}
	return Output{node: n, index: i}
}

// DType returns the declared element type for Const, Variable, and
// Placeholder nodes, and 0 for other ops.
func (n *Node) DType() tensor.DataType { return n.dtype }

// Value returns the Const value or the Variable initial value, nil for
// other ops. Callers must not modify the returned tensor.
func (n *Node) Value() *tensor.Dense { return n.value }

// Features returns the ParseRecord feature configs, nil for other ops.
func (n *Node) Features() map[string]record.FixedLenFeature { return n.features }

// FeatureOrder returns the ParseRecord output ordering: output i carries the
// feature named FeatureOrder()[i].
func (n *Node) FeatureOrder() []string { return n.featureOrder }

// Output is a handle to one output tensor of a node.
type Output struct {
	node  *Node
	index int
}

// Node returns the producing node.
func (o Output) Node() *Node { return o.node }

// Index returns the output index within the producing node.
func (o Output) Index() int { return o.index }

// Name renders the output reference: "node" for index 0, "node:index"
// otherwise.
func (o Output) Name() string {
	if o.index == 0 {
		return o.node.name
	}
	return o.node.name + ":" + strconv.Itoa(o.index)
}

// Graph is an append-only set of named nodes.
type Graph struct {
	nodes  []*Node
	byName map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]*Node)}
}

// Nodes returns the graph's nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns the named node, or nil if absent.
func (g *Graph) Node(name string) *Node {
	return g.byName[name]
}

// Output resolves an output reference of the form "node" or "node:index".
func (g *Graph) Output(ref string) (Output, error) {
	name := ref
	index := 0
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		name = ref[:i]
		idx, err := strconv.Atoi(ref[i+1:])
		if err != nil || idx < 0 {
			return Output{}, fmt.Errorf("%w: %q", ErrInvalidOutputRef, ref)
		}
		index = idx
	}

	n := g.byName[name]
	if n == nil {
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	if index >= n.numOutputs {
		return Output{}, fmt.Errorf("%w: %q has %d outputs", ErrInvalidOutputRef, ref, n.numOutputs)
	}
	return Output{node: n, index: index}, nil
}

func (g *Graph) addNode(name, op string, numOutputs int, inputs ...Output) (*Node, error) {
	if name == "" || strings.ContainsAny(name, ": \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := g.byName[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	for _, in := range inputs {
		if in.node == nil {
			return nil, fmt.Errorf("node %q: zero-valued input output", name)
		}
		if in.node.g != g {
			return nil, fmt.Errorf("node %q: input %q belongs to a different graph", name, in.Name())
		}
	}

	n := &Node{
		g:          g,
		name:       name,
		op:         op,
		inputs:     inputs,
		numOutputs: numOutputs,
	}
	g.nodes = append(g.nodes, n)
	g.byName[name] = n
	return n, nil
}

// Const adds a constant node holding value.
func (g *Graph) Const(name string, value *tensor.Dense) (Output, error) {
	if value == nil {
		return Output{}, fmt.Errorf("const %q: nil value", name)
	}
	n, err := g.addNode(name, OpConst, 1)
	if err != nil {
		return Output{}, err
	}
	n.dtype = value.DType()
	n.value = value.Clone()
	return n.Output(0), nil
}

// Variable adds a variable node with the given initial value. The value a
// session observes comes from its variable store; InitVariables seeds the
// store from the initial value.
func (g *Graph) Variable(name string, initial *tensor.Dense) (Output, error) {
	if initial == nil {
		return Output{}, fmt.Errorf("variable %q: nil initial value", name)
	}
	n, err := g.addNode(name, OpVariable, 1)
	if err != nil {
		return Output{}, err
	}
	n.dtype = initial.DType()
	n.value = initial.Clone()
	return n.Output(0), nil
}

// Placeholder adds an input node of the given element type. Sessions require
// a feed for every placeholder reached during a Run.
func (g *Graph) Placeholder(name string, dtype tensor.DataType) (Output, error) {
	n, err := g.addNode(name, OpPlaceholder, 1)
	if err != nil {
		return Output{}, err
	}
	n.dtype = dtype
	return n.Output(0), nil
}

// ParseRecord adds a node that decodes serialized feature records into dense
// per-feature tensors. serialized must produce a String tensor: a scalar
// decodes one record, a vector decodes a batch with results stacked along a
// leading batch dimension.
//
// The returned map holds one output per configured feature. Output indices
// are assigned in sorted feature-name order, so references are stable across
// save and load.
func (g *Graph) ParseRecord(name string, serialized Output, configs map[string]record.FixedLenFeature) (map[string]Output, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("parse %q: no features configured", name)
	}

	order := make([]string, 0, len(configs))
	feats := make(map[string]record.FixedLenFeature, len(configs))
	for fname, cfg := range configs {
		order = append(order, fname)
		feats[fname] = cfg
	}
	sort.Strings(order)

	n, err := g.addNode(name, OpParseRecord, len(order), serialized)
	if err != nil {
		return nil, err
	}
	n.features = feats
	n.featureOrder = order

	out := make(map[string]Output, len(order))
	for i, fname := range order {
		out[fname] = n.Output(i)
	}
	return out, nil
}

// Identity adds a pass-through node. Its only purpose is giving a tensor a
// stable name for feeds, fetches, and signatures.
func (g *Graph) Identity(name string, in Output) (Output, error) {
	n, err := g.addNode(name, OpIdentity, 1, in)
	if err != nil {
		return Output{}, err
	}
	return n.Output(0), nil
}

// Mul adds an element-wise multiplication node with broadcasting.
func (g *Graph) Mul(name string, a, b Output) (Output, error) {
	n, err := g.addNode(name, OpMul, 1, a, b)
	if err != nil {
		return Output{}, err
	}
	return n.Output(0), nil
}

// Add adds an element-wise addition node with broadcasting.
func (g *Graph) Add(name string, a, b Output) (Output, error) {
	n, err := g.addNode(name, OpAdd, 1, a, b)
	if err != nil {
		return Output{}, err
	}
	return n.Output(0), nil
}
