package graph

import (
	"fmt"

	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

// Session evaluates outputs of a graph and owns the variable store.
//
// A Session never mutates graph nodes: repeated Runs with equal feeds yield
// equal results. Variables live in the session, seeded by InitVariables or
// restored from a checkpoint via SetVariable.
type Session struct {
	graph *Graph
	vars  map[string]*tensor.Dense
	par   parallel.Config
}

// NewSession creates a session for g with an empty variable store.
func NewSession(g *Graph) *Session {
	return &Session{
		graph: g,
		vars:  make(map[string]*tensor.Dense),
		par:   parallel.DefaultConfig(),
	}
}

// Graph returns the session's graph.
func (s *Session) Graph() *Graph { return s.graph }

// InitVariables copies every variable's initial value into the variable
// store, the equivalent of running a global initializer.
func (s *Session) InitVariables() error {
	for _, n := range s.graph.nodes {
		if n.op != OpVariable {
			continue
		}
		s.vars[n.name] = n.value.Clone()
	}
	return nil
}

// SetVariable stores a value for the named variable, as done when restoring
// a checkpoint. The node must exist, be a variable, and match dtype.
func (s *Session) SetVariable(name string, v *tensor.Dense) error {
	n := s.graph.Node(name)
	if n == nil {
		return fmt.Errorf("%w: %q", ErrUnknownNode, name)
	}
	if n.op != OpVariable {
		return fmt.Errorf("node %q is %s, not a variable", name, n.op)
	}
	if v.DType() != n.dtype {
		return fmt.Errorf("variable %q: %w: %s vs %s", name, ErrDTypeMismatch, v.DType(), n.dtype)
	}
	s.vars[name] = v.Clone()
	return nil
}

// Variables returns a snapshot of the current variable values.
func (s *Session) Variables() map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(s.vars))
	for name, v := range s.vars {
		out[name] = v.Clone()
	}
	return out
}

// Run evaluates the fetched outputs given the feeds.
//
// A feed overrides the producing node's output wholesale, whether or not the
// node is a placeholder. Placeholder feeds are dtype-checked; reaching an
// unfed placeholder is an error.
func (s *Session) Run(feeds map[Output]*tensor.Dense, fetches []Output) ([]*tensor.Dense, error) {
	for o, v := range feeds {
		if o.node == nil || o.node.g != s.graph {
			return nil, fmt.Errorf("feed %q: output does not belong to this graph", o.Name())
		}
		if v == nil {
			return nil, fmt.Errorf("feed %q: nil tensor", o.Name())
		}
		if o.node.op == OpPlaceholder && v.DType() != o.node.dtype {
			return nil, fmt.Errorf("feed %q: %w: fed %s, placeholder is %s", o.Name(), ErrDTypeMismatch, v.DType(), o.node.dtype)
		}
	}

	st := &runState{
		feeds: feeds,
		cache: make(map[*Node][]*tensor.Dense),
	}

	results := make([]*tensor.Dense, len(fetches))
	for i, o := range fetches {
		if o.node == nil || o.node.g != s.graph {
			return nil, fmt.Errorf("fetch %d: output does not belong to this graph", i)
		}
		v, err := s.evalOutput(o, st)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

type runState struct {
	feeds map[Output]*tensor.Dense
	cache map[*Node][]*tensor.Dense
}

func (s *Session) evalOutput(o Output, st *runState) (*tensor.Dense, error) {
	if fed, ok := st.feeds[o]; ok {
		return fed, nil
	}
	outs, err := s.evalNode(o.node, st)
	if err != nil {
		return nil, err
	}
	return outs[o.index], nil
}

func (s *Session) evalNode(n *Node, st *runState) ([]*tensor.Dense, error) {
	if outs, ok := st.cache[n]; ok {
		return outs, nil
	}

	inputs := make([]*tensor.Dense, len(n.inputs))
	for i, in := range n.inputs {
		v, err := s.evalOutput(in, st)
		if err != nil {
			return nil, err
		}
		inputs[i] = v
	}

	outs, err := s.apply(n, inputs)
	if err != nil {
		return nil, err
	}
	st.cache[n] = outs
	return outs, nil
}

func (s *Session) apply(n *Node, inputs []*tensor.Dense) ([]*tensor.Dense, error) {
	switch n.op {
	case OpConst:
		return []*tensor.Dense{n.value}, nil

	case OpVariable:
		v, ok := s.vars[n.name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUninitializedVariable, n.name)
		}
		return []*tensor.Dense{v}, nil

	case OpPlaceholder:
		return nil, fmt.Errorf("%w: %q", ErrPlaceholderNotFed, n.name)

	case OpIdentity:
		return []*tensor.Dense{inputs[0]}, nil

	case OpMul:
		out, err := broadcastBinary(fmt.Sprintf("node %q (Mul)", n.name), inputs[0], inputs[1],
			func(x, y float32) float32 { return x * y },
			func(x, y float64) float64 { return x * y })
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{out}, nil

	case OpAdd:
		out, err := broadcastBinary(fmt.Sprintf("node %q (Add)", n.name), inputs[0], inputs[1],
			func(x, y float32) float32 { return x + y },
			func(x, y float64) float64 { return x + y })
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{out}, nil

	case OpParseRecord:
		return s.applyParseRecord(n, inputs[0])

	default:
		return nil, fmt.Errorf("node %q: unknown op %q", n.name, n.op)
	}
}

func (s *Session) applyParseRecord(n *Node, serialized *tensor.Dense) ([]*tensor.Dense, error) {
	if serialized.DType() != tensor.String {
		return nil, fmt.Errorf("node %q: %w: input is %s, want string", n.name, ErrDTypeMismatch, serialized.DType())
	}

	var (
		byName map[string]*tensor.Dense
		err    error
	)
	switch rank := len(serialized.Shape()); rank {
	case 0:
		byName, err = record.ParseSingle(serialized.Strings()[0], n.features)
	case 1:
		byName, err = record.ParseBatch(serialized.Strings(), n.features, s.par)
	default:
		return nil, fmt.Errorf("node %q: serialized input has rank %d, want 0 or 1", n.name, rank)
	}
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.name, err)
	}

	outs := make([]*tensor.Dense, len(n.featureOrder))
	for i, fname := range n.featureOrder {
		outs[i] = byName[fname]
	}
	return outs, nil
}
