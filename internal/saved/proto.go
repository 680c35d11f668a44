// Package saved implements the on-disk bundle format for exported models:
// a serialized graph with named signatures plus a variables checkpoint,
// written either as binary protobuf wire format or as an equivalent text
// rendering.
//
// Bundle layout on disk:
//
//	export-dir/
//	  saved_bundle.pb      (binary) or saved_bundle.pbtxt (text)
//	  variables/
//	    variables.ember    (checkpoint, absent when the graph has no variables)
package saved

import (
	"fmt"

	"github.com/ember-ml/ember/internal/tensor"
)

// Well-known constants of the bundle layout.
const (
	// SchemaVersion is the current bundle schema version.
	SchemaVersion = 1

	// TagServe marks a graph intended for inference serving.
	TagServe = "serve"

	// BinaryFileName is the bundle definition file in binary encoding.
	BinaryFileName = "saved_bundle.pb"
	// TextFileName is the bundle definition file in text encoding.
	TextFileName = "saved_bundle.pbtxt"

	// VariablesDir holds the variables checkpoint inside a bundle.
	VariablesDir = "variables"
	// VariablesFileName is the checkpoint file name inside VariablesDir.
	VariablesFileName = "variables.ember"
)

// Bundle definition data structures (hand-written protobuf mirrors).

// BundleDef is the root message of a saved bundle.
type BundleDef struct {
	SchemaVersion int64                    // Bundle schema version
	Tags          []string                 // Graph tags (e.g. "serve")
	Graph         *GraphDef                // The computation graph
	Signatures    map[string]*SignatureDef // Named computation signatures
}

// GraphDef is the serialized form of a graph.
type GraphDef struct {
	Nodes []*NodeDef // Nodes in definition order; inputs refer to earlier nodes
}

// NodeDef is one serialized graph node.
type NodeDef struct {
	Name     string          // Unique node name
	Op       string          // Operation name (e.g. "Mul")
	Inputs   []string        // Input references "node" or "node:index"
	DType    tensor.DataType // Element type (Const, Variable, Placeholder)
	HasDType bool            // Whether DType is set
	Value    *TensorDef      // Const value or Variable initial value
	Features []*FeatureDef   // ParseRecord feature configs
}

// FeatureDef configures one fixed-length feature of a ParseRecord node.
type FeatureDef struct {
	Name    string          // Feature name in the record
	DType   tensor.DataType // float32, int64, or string
	Shape   []int64         // Per-record shape; empty means scalar
	Default *TensorDef      // Optional value for absent features
}

// TensorDef is a serialized tensor value.
type TensorDef struct {
	DType      tensor.DataType
	Dims       []int64
	FloatVals  []float32 // Float32
	DoubleVals []float64 // Float64
	IntVals    []int64   // Int32 and Int64
	StringVals [][]byte  // String
}

// SignatureDef describes one computation supported by the graph: named
// input and output tensors plus a method name such as "regression".
type SignatureDef struct {
	Inputs     map[string]*TensorInfo
	Outputs    map[string]*TensorInfo
	MethodName string
}

// TensorInfo identifies a concrete tensor for feeding or fetching.
type TensorInfo struct {
	Name        string          // Output reference "node" or "node:index"
	DType       tensor.DataType // Element type
	Shape       []int64         // Known shape; nil with UnknownRank for unconstrained
	UnknownRank bool
}

// NewSignatureDef builds a signature from input and output tensor maps, the
// counterpart of the signature builders in common exporter toolchains.
func NewSignatureDef(inputs, outputs map[string]*TensorInfo, methodName string) *SignatureDef {
	return &SignatureDef{
		Inputs:     inputs,
		Outputs:    outputs,
		MethodName: methodName,
	}
}

// NewTensorInfo describes a tensor with a known shape.
func NewTensorInfo(name string, dtype tensor.DataType, shape tensor.Shape) *TensorInfo {
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}
	return &TensorInfo{Name: name, DType: dtype, Shape: dims}
}

// NewUnknownRankTensorInfo describes a tensor whose shape is not constrained
// by the signature, the usual case for batch-capable inputs.
func NewUnknownRankTensorInfo(name string, dtype tensor.DataType) *TensorInfo {
	return &TensorInfo{Name: name, DType: dtype, UnknownRank: true}
}

// Wire enum values for data types. These follow the conventional exporter
// enum so bundles are inspectable with standard tooling.
const (
	wireDTFloat  = 1
	wireDTDouble = 2
	wireDTInt32  = 3
	wireDTString = 7
	wireDTInt64  = 9
)

func dtypeToWire(dt tensor.DataType) (uint64, error) {
	switch dt {
	case tensor.Float32:
		return wireDTFloat, nil
	case tensor.Float64:
		return wireDTDouble, nil
	case tensor.Int32:
		return wireDTInt32, nil
	case tensor.String:
		return wireDTString, nil
	case tensor.Int64:
		return wireDTInt64, nil
	default:
		return 0, fmt.Errorf("no wire value for dtype %s", dt)
	}
}

func dtypeFromWire(v uint64) (tensor.DataType, error) {
	switch v {
	case wireDTFloat:
		return tensor.Float32, nil
	case wireDTDouble:
		return tensor.Float64, nil
	case wireDTInt32:
		return tensor.Int32, nil
	case wireDTString:
		return tensor.String, nil
	case wireDTInt64:
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("unknown dtype wire value %d", v)
	}
}

func dtypeToName(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "DT_FLOAT", nil
	case tensor.Float64:
		return "DT_DOUBLE", nil
	case tensor.Int32:
		return "DT_INT32", nil
	case tensor.String:
		return "DT_STRING", nil
	case tensor.Int64:
		return "DT_INT64", nil
	default:
		return "", fmt.Errorf("no text name for dtype %s", dt)
	}
}

func dtypeFromName(s string) (tensor.DataType, error) {
	switch s {
	case "DT_FLOAT":
		return tensor.Float32, nil
	case "DT_DOUBLE":
		return tensor.Float64, nil
	case "DT_INT32":
		return tensor.Int32, nil
	case "DT_STRING":
		return tensor.String, nil
	case "DT_INT64":
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("unknown dtype name %q", s)
	}
}
