package saved

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary field numbers of the bundle schema.
const (
	fieldBundleSchemaVersion protowire.Number = 1
	fieldBundleTags          protowire.Number = 2
	fieldBundleGraph         protowire.Number = 3
	fieldBundleSignatures    protowire.Number = 4

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldGraphNode protowire.Number = 1

	fieldNodeName    protowire.Number = 1
	fieldNodeOp      protowire.Number = 2
	fieldNodeInput   protowire.Number = 3
	fieldNodeDType   protowire.Number = 4
	fieldNodeValue   protowire.Number = 5
	fieldNodeFeature protowire.Number = 6

	fieldFeatureName    protowire.Number = 1
	fieldFeatureDType   protowire.Number = 2
	fieldFeatureShape   protowire.Number = 3
	fieldFeatureDefault protowire.Number = 4

	fieldTensorDType   protowire.Number = 1
	fieldTensorDims    protowire.Number = 2
	fieldTensorFloats  protowire.Number = 3
	fieldTensorDoubles protowire.Number = 4
	fieldTensorInts    protowire.Number = 5
	fieldTensorStrings protowire.Number = 6

	fieldSigInputs  protowire.Number = 1
	fieldSigOutputs protowire.Number = 2
	fieldSigMethod  protowire.Number = 3

	fieldInfoName        protowire.Number = 1
	fieldInfoDType       protowire.Number = 2
	fieldInfoDims        protowire.Number = 3
	fieldInfoUnknownRank protowire.Number = 4
)

// Marshal encodes a bundle definition to binary wire format.
// Map-valued fields are written in sorted key order so output is
// deterministic.
func Marshal(def *BundleDef) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, fieldBundleSchemaVersion, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(def.SchemaVersion))

	for _, tag := range def.Tags {
		out = protowire.AppendTag(out, fieldBundleTags, protowire.BytesType)
		out = protowire.AppendString(out, tag)
	}

	if def.Graph != nil {
		msg, err := marshalGraphDef(def.Graph)
		if err != nil {
			return nil, err
		}
		out = protowire.AppendTag(out, fieldBundleGraph, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}

	names := make([]string, 0, len(def.Signatures))
	for name := range def.Signatures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		msg, err := marshalSignatureDef(def.Signatures[name])
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", name, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, msg)
		out = protowire.AppendTag(out, fieldBundleSignatures, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}

	return out, nil
}

func marshalGraphDef(g *GraphDef) ([]byte, error) {
	var out []byte
	for _, n := range g.Nodes {
		msg, err := marshalNodeDef(n)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		out = protowire.AppendTag(out, fieldGraphNode, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out, nil
}

func marshalNodeDef(n *NodeDef) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, fieldNodeName, protowire.BytesType)
	out = protowire.AppendString(out, n.Name)
	out = protowire.AppendTag(out, fieldNodeOp, protowire.BytesType)
	out = protowire.AppendString(out, n.Op)
	for _, in := range n.Inputs {
		out = protowire.AppendTag(out, fieldNodeInput, protowire.BytesType)
		out = protowire.AppendString(out, in)
	}
	if n.HasDType {
		wire, err := dtypeToWire(n.DType)
		if err != nil {
			return nil, err
		}
		out = protowire.AppendTag(out, fieldNodeDType, protowire.VarintType)
		out = protowire.AppendVarint(out, wire)
	}
	if n.Value != nil {
		msg, err := marshalTensorDef(n.Value)
		if err != nil {
			return nil, err
		}
		out = protowire.AppendTag(out, fieldNodeValue, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	for _, f := range n.Features {
		msg, err := marshalFeatureDef(f)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", f.Name, err)
		}
		out = protowire.AppendTag(out, fieldNodeFeature, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out, nil
}

func marshalFeatureDef(f *FeatureDef) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, fieldFeatureName, protowire.BytesType)
	out = protowire.AppendString(out, f.Name)

	wire, err := dtypeToWire(f.DType)
	if err != nil {
		return nil, err
	}
	out = protowire.AppendTag(out, fieldFeatureDType, protowire.VarintType)
	out = protowire.AppendVarint(out, wire)

	if len(f.Shape) > 0 {
		out = appendPackedInt64(out, fieldFeatureShape, f.Shape)
	}
	if f.Default != nil {
		msg, err := marshalTensorDef(f.Default)
		if err != nil {
			return nil, err
		}
		out = protowire.AppendTag(out, fieldFeatureDefault, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out, nil
}

func marshalTensorDef(t *TensorDef) ([]byte, error) {
	var out []byte
	wire, err := dtypeToWire(t.DType)
	if err != nil {
		return nil, err
	}
	out = protowire.AppendTag(out, fieldTensorDType, protowire.VarintType)
	out = protowire.AppendVarint(out, wire)

	if len(t.Dims) > 0 {
		out = appendPackedInt64(out, fieldTensorDims, t.Dims)
	}
	if len(t.FloatVals) > 0 {
		var packed []byte
		for _, v := range t.FloatVals {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		out = protowire.AppendTag(out, fieldTensorFloats, protowire.BytesType)
		out = protowire.AppendBytes(out, packed)
	}
	if len(t.DoubleVals) > 0 {
		var packed []byte
		for _, v := range t.DoubleVals {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		out = protowire.AppendTag(out, fieldTensorDoubles, protowire.BytesType)
		out = protowire.AppendBytes(out, packed)
	}
	if len(t.IntVals) > 0 {
		out = appendPackedInt64(out, fieldTensorInts, t.IntVals)
	}
	for _, v := range t.StringVals {
		out = protowire.AppendTag(out, fieldTensorStrings, protowire.BytesType)
		out = protowire.AppendBytes(out, v)
	}
	return out, nil
}

func marshalSignatureDef(s *SignatureDef) ([]byte, error) {
	var out []byte
	var err error
	out, err = appendInfoMap(out, fieldSigInputs, s.Inputs)
	if err != nil {
		return nil, err
	}
	out, err = appendInfoMap(out, fieldSigOutputs, s.Outputs)
	if err != nil {
		return nil, err
	}
	if s.MethodName != "" {
		out = protowire.AppendTag(out, fieldSigMethod, protowire.BytesType)
		out = protowire.AppendString(out, s.MethodName)
	}
	return out, nil
}

func appendInfoMap(out []byte, field protowire.Number, m map[string]*TensorInfo) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg, err := marshalTensorInfo(m[k])
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", k, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, msg)
		out = protowire.AppendTag(out, field, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out, nil
}

func marshalTensorInfo(info *TensorInfo) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, fieldInfoName, protowire.BytesType)
	out = protowire.AppendString(out, info.Name)

	wire, err := dtypeToWire(info.DType)
	if err != nil {
		return nil, err
	}
	out = protowire.AppendTag(out, fieldInfoDType, protowire.VarintType)
	out = protowire.AppendVarint(out, wire)

	if len(info.Shape) > 0 {
		out = appendPackedInt64(out, fieldInfoDims, info.Shape)
	}
	if info.UnknownRank {
		out = protowire.AppendTag(out, fieldInfoUnknownRank, protowire.VarintType)
		out = protowire.AppendVarint(out, 1)
	}
	return out, nil
}

func appendPackedInt64(out []byte, field protowire.Number, vals []int64) []byte {
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, packed)
	return out
}

// Unmarshal decodes a bundle definition from binary wire format.
func Unmarshal(data []byte) (*BundleDef, error) {
	def := &BundleDef{Signatures: make(map[string]*SignatureDef)}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case num == fieldBundleSchemaVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			def.SchemaVersion = int64(v)
			return data[n:], nil

		case num == fieldBundleTags && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			def.Tags = append(def.Tags, s)
			return data[n:], nil

		case num == fieldBundleGraph && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			g, err := unmarshalGraphDef(msg)
			if err != nil {
				return nil, err
			}
			def.Graph = g
			return data[n:], nil

		case num == fieldBundleSignatures && typ == protowire.BytesType:
			entry, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			key, msg, err := unmarshalEntry(entry)
			if err != nil {
				return nil, err
			}
			sig, err := unmarshalSignatureDef(msg)
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", key, err)
			}
			def.Signatures[key] = sig
			return data[n:], nil
		}
		return nil, errSkip
	})
	if err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return def, nil
}

// errSkip tells walkFields to skip the current field as unknown.
var errSkip = fmt.Errorf("skip field")

// walkFields iterates wire-format fields, calling visit for each. A visit
// returning errSkip causes the field to be skipped generically.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		rest, err := visit(num, typ, data)
		if err == nil {
			data = rest
			continue
		}
		if err != errSkip {
			return err
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func unmarshalEntry(data []byte) (string, []byte, error) {
	var key string
	var value []byte
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			key = s
			return data[n:], nil
		case num == fieldEntryValue && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			value = msg
			return data[n:], nil
		}
		return nil, errSkip
	})
	return key, value, err
}

func unmarshalGraphDef(data []byte) (*GraphDef, error) {
	g := &GraphDef{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		if num == fieldGraphNode && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node, err := unmarshalNodeDef(msg)
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, node)
			return data[n:], nil
		}
		return nil, errSkip
	})
	return g, err
}

func unmarshalNodeDef(data []byte) (*NodeDef, error) {
	node := &NodeDef{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case num == fieldNodeName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node.Name = s
			return data[n:], nil

		case num == fieldNodeOp && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node.Op = s
			return data[n:], nil

		case num == fieldNodeInput && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			node.Inputs = append(node.Inputs, s)
			return data[n:], nil

		case num == fieldNodeDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dt, err := dtypeFromWire(v)
			if err != nil {
				return nil, err
			}
			node.DType = dt
			node.HasDType = true
			return data[n:], nil

		case num == fieldNodeValue && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			td, err := unmarshalTensorDef(msg)
			if err != nil {
				return nil, err
			}
			node.Value = td
			return data[n:], nil

		case num == fieldNodeFeature && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f, err := unmarshalFeatureDef(msg)
			if err != nil {
				return nil, err
			}
			node.Features = append(node.Features, f)
			return data[n:], nil
		}
		return nil, errSkip
	})
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", node.Name, err)
	}
	return node, nil
}

func unmarshalFeatureDef(data []byte) (*FeatureDef, error) {
	f := &FeatureDef{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case num == fieldFeatureName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.Name = s
			return data[n:], nil

		case num == fieldFeatureDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dt, err := dtypeFromWire(v)
			if err != nil {
				return nil, err
			}
			f.DType = dt
			return data[n:], nil

		case num == fieldFeatureShape:
			vals, rest, err := consumeInt64s(typ, data)
			if err != nil {
				return nil, err
			}
			f.Shape = append(f.Shape, vals...)
			return rest, nil

		case num == fieldFeatureDefault && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			td, err := unmarshalTensorDef(msg)
			if err != nil {
				return nil, err
			}
			f.Default = td
			return data[n:], nil
		}
		return nil, errSkip
	})
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", f.Name, err)
	}
	return f, nil
}

func unmarshalTensorDef(data []byte) (*TensorDef, error) {
	t := &TensorDef{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch num {
		case fieldTensorDType:
			if typ != protowire.VarintType {
				return nil, errSkip
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dt, err := dtypeFromWire(v)
			if err != nil {
				return nil, err
			}
			t.DType = dt
			return data[n:], nil

		case fieldTensorDims:
			vals, rest, err := consumeInt64s(typ, data)
			if err != nil {
				return nil, err
			}
			t.Dims = append(t.Dims, vals...)
			return rest, nil

		case fieldTensorFloats:
			switch typ {
			case protowire.BytesType:
				packed, n := protowire.ConsumeBytes(data)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				for len(packed) > 0 {
					bits, n := protowire.ConsumeFixed32(packed)
					if n < 0 {
						return nil, protowire.ParseError(n)
					}
					t.FloatVals = append(t.FloatVals, math.Float32frombits(bits))
					packed = packed[n:]
				}
				return data[n:], nil
			case protowire.Fixed32Type:
				bits, n := protowire.ConsumeFixed32(data)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				t.FloatVals = append(t.FloatVals, math.Float32frombits(bits))
				return data[n:], nil
			}
			return nil, errSkip

		case fieldTensorDoubles:
			switch typ {
			case protowire.BytesType:
				packed, n := protowire.ConsumeBytes(data)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				for len(packed) > 0 {
					bits, n := protowire.ConsumeFixed64(packed)
					if n < 0 {
						return nil, protowire.ParseError(n)
					}
					t.DoubleVals = append(t.DoubleVals, math.Float64frombits(bits))
					packed = packed[n:]
				}
				return data[n:], nil
			case protowire.Fixed64Type:
				bits, n := protowire.ConsumeFixed64(data)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				t.DoubleVals = append(t.DoubleVals, math.Float64frombits(bits))
				return data[n:], nil
			}
			return nil, errSkip

		case fieldTensorInts:
			vals, rest, err := consumeInt64s(typ, data)
			if err != nil {
				return nil, err
			}
			t.IntVals = append(t.IntVals, vals...)
			return rest, nil

		case fieldTensorStrings:
			if typ != protowire.BytesType {
				return nil, errSkip
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			t.StringVals = append(t.StringVals, cp)
			return data[n:], nil
		}
		return nil, errSkip
	})
	return t, err
}

func unmarshalSignatureDef(data []byte) (*SignatureDef, error) {
	sig := &SignatureDef{
		Inputs:  make(map[string]*TensorInfo),
		Outputs: make(map[string]*TensorInfo),
	}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case (num == fieldSigInputs || num == fieldSigOutputs) && typ == protowire.BytesType:
			entry, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			key, msg, err := unmarshalEntry(entry)
			if err != nil {
				return nil, err
			}
			info, err := unmarshalTensorInfo(msg)
			if err != nil {
				return nil, fmt.Errorf("tensor %q: %w", key, err)
			}
			if num == fieldSigInputs {
				sig.Inputs[key] = info
			} else {
				sig.Outputs[key] = info
			}
			return data[n:], nil

		case num == fieldSigMethod && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			sig.MethodName = s
			return data[n:], nil
		}
		return nil, errSkip
	})
	return sig, err
}

func unmarshalTensorInfo(data []byte) (*TensorInfo, error) {
	info := &TensorInfo{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, data []byte) ([]byte, error) {
		switch {
		case num == fieldInfoName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			info.Name = s
			return data[n:], nil

		case num == fieldInfoDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dt, err := dtypeFromWire(v)
			if err != nil {
				return nil, err
			}
			info.DType = dt
			return data[n:], nil

		case num == fieldInfoDims:
			vals, rest, err := consumeInt64s(typ, data)
			if err != nil {
				return nil, err
			}
			info.Shape = append(info.Shape, vals...)
			return rest, nil

		case num == fieldInfoUnknownRank && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			info.UnknownRank = v != 0
			return data[n:], nil
		}
		return nil, errSkip
	})
	return info, err
}

// consumeInt64s reads a packed or unpacked repeated int64 field.
func consumeInt64s(typ protowire.Type, data []byte) ([]int64, []byte, error) {
	switch typ {
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		var vals []int64
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			vals = append(vals, int64(v))
			packed = packed[n:]
		}
		return vals, data[n:], nil
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		return []int64{int64(v)}, data[n:], nil
	default:
		return nil, nil, errSkip
	}
}
