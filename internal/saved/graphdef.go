package saved

import (
	"fmt"

	"github.com/ember-ml/ember/internal/graph"
	"github.com/ember-ml/ember/internal/record"
	"github.com/ember-ml/ember/internal/tensor"
)

// toGraphDef serializes g. Nodes are emitted in insertion order, which keeps
// every input reference pointing at an earlier node.
func toGraphDef(g *graph.Graph) (*GraphDef, error) {
	nodes := g.Nodes()
	def := &GraphDef{Nodes: make([]*NodeDef, 0, len(nodes))}
	for _, n := range nodes {
		nd := &NodeDef{Name: n.Name(), Op: n.Op()}
		for _, in := range n.Inputs() {
			nd.Inputs = append(nd.Inputs, in.Name())
		}

		switch n.Op() {
		case graph.OpConst, graph.OpVariable:
			nd.DType = n.DType()
			nd.HasDType = true
			td, err := tensorToDef(n.Value())
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", n.Name(), err)
			}
			nd.Value = td

		case graph.OpPlaceholder:
			nd.DType = n.DType()
			nd.HasDType = true

		case graph.OpParseRecord:
			feats := n.Features()
			for _, fname := range n.FeatureOrder() {
				cfg := feats[fname]
				fd := &FeatureDef{Name: fname, DType: cfg.Dtype}
				for _, d := range cfg.Shape {
					fd.Shape = append(fd.Shape, int64(d))
				}
				if cfg.Default != nil {
					td, err := tensorToDef(cfg.Default)
					if err != nil {
						return nil, fmt.Errorf("node %q feature %q: %w", n.Name(), fname, err)
					}
					fd.Default = td
				}
				nd.Features = append(nd.Features, fd)
			}
		}

		def.Nodes = append(def.Nodes, nd)
	}
	return def, nil
}

// fromGraphDef rebuilds a graph from its serialized form, replaying node
// construction in definition order.
func fromGraphDef(def *GraphDef) (*graph.Graph, error) {
	g := graph.New()
	for _, nd := range def.Nodes {
		if err := addNodeDef(g, nd); err != nil {
			return nil, fmt.Errorf("node %q: %w", nd.Name, err)
		}
	}
	return g, nil
}

func addNodeDef(g *graph.Graph, nd *NodeDef) error {
	inputs := make([]graph.Output, len(nd.Inputs))
	for i, ref := range nd.Inputs {
		o, err := g.Output(ref)
		if err != nil {
			return err
		}
		inputs[i] = o
	}

	wantInputs := func(n int) error {
		if len(inputs) != n {
			return fmt.Errorf("op %s has %d inputs, want %d", nd.Op, len(inputs), n)
		}
		return nil
	}

	switch nd.Op {
	case graph.OpConst:
		if err := wantInputs(0); err != nil {
			return err
		}
		v, err := defToTensor(nd.Value)
		if err != nil {
			return err
		}
		_, err = g.Const(nd.Name, v)
		return err

	case graph.OpVariable:
		if err := wantInputs(0); err != nil {
			return err
		}
		v, err := defToTensor(nd.Value)
		if err != nil {
			return err
		}
		_, err = g.Variable(nd.Name, v)
		return err

	case graph.OpPlaceholder:
		if err := wantInputs(0); err != nil {
			return err
		}
		if !nd.HasDType {
			return fmt.Errorf("placeholder without dtype")
		}
		_, err := g.Placeholder(nd.Name, nd.DType)
		return err

	case graph.OpParseRecord:
		if err := wantInputs(1); err != nil {
			return err
		}
		if len(nd.Features) == 0 {
			return fmt.Errorf("parse node without features")
		}
		configs := make(map[string]record.FixedLenFeature, len(nd.Features))
		for _, fd := range nd.Features {
			if _, dup := configs[fd.Name]; dup {
				return fmt.Errorf("duplicate feature %q", fd.Name)
			}
			cfg := record.FixedLenFeature{Dtype: fd.DType}
			for _, d := range fd.Shape {
				cfg.Shape = append(cfg.Shape, int(d))
			}
			if fd.Default != nil {
				dv, err := defToTensor(fd.Default)
				if err != nil {
					return fmt.Errorf("feature %q default: %w", fd.Name, err)
				}
				cfg.Default = dv
			}
			configs[fd.Name] = cfg
		}
		_, err := g.ParseRecord(nd.Name, inputs[0], configs)
		return err

	case graph.OpIdentity:
		if err := wantInputs(1); err != nil {
			return err
		}
		_, err := g.Identity(nd.Name, inputs[0])
		return err

	case graph.OpMul:
		if err := wantInputs(2); err != nil {
			return err
		}
		_, err := g.Mul(nd.Name, inputs[0], inputs[1])
		return err

	case graph.OpAdd:
		if err := wantInputs(2); err != nil {
			return err
		}
		_, err := g.Add(nd.Name, inputs[0], inputs[1])
		return err

	default:
		return fmt.Errorf("unknown op %q", nd.Op)
	}
}

func tensorToDef(t *tensor.Dense) (*TensorDef, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	def := &TensorDef{DType: t.DType()}
	for _, d := range t.Shape() {
		def.Dims = append(def.Dims, int64(d))
	}

	switch t.DType() {
	case tensor.Float32:
		def.FloatVals = append(def.FloatVals, t.Float32s()...)
	case tensor.Float64:
		def.DoubleVals = append(def.DoubleVals, t.Float64s()...)
	case tensor.Int32:
		for _, v := range t.Int32s() {
			def.IntVals = append(def.IntVals, int64(v))
		}
	case tensor.Int64:
		def.IntVals = append(def.IntVals, t.Int64s()...)
	case tensor.String:
		for _, s := range t.Strings() {
			cp := make([]byte, len(s))
			copy(cp, s)
			def.StringVals = append(def.StringVals, cp)
		}
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %s", t.DType())
	}
	return def, nil
}

func defToTensor(def *TensorDef) (*tensor.Dense, error) {
	if def == nil {
		return nil, fmt.Errorf("nil tensor value")
	}
	shape := make(tensor.Shape, len(def.Dims))
	for i, d := range def.Dims {
		shape[i] = int(d)
	}

	switch def.DType {
	case tensor.Float32:
		return tensor.FromFloat32s(def.FloatVals, shape)
	case tensor.Float64:
		return tensor.FromFloat64s(def.DoubleVals, shape)
	case tensor.Int32:
		vals := make([]int32, len(def.IntVals))
		for i, v := range def.IntVals {
			vals[i] = int32(v)
		}
		return tensor.FromInt32s(vals, shape)
	case tensor.Int64:
		return tensor.FromInt64s(def.IntVals, shape)
	case tensor.String:
		return tensor.FromStrings(def.StringVals, shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %s", def.DType)
	}
}
