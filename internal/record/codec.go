package record

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers. These follow the conventional feature-record schema:
// a record wraps its feature map in field 1, map entries carry key in field 1
// and value in field 2, and a feature is a oneof of bytes/float/int64 lists
// in fields 1-3, each list keeping its values in field 1.
const (
	fieldRecordFeatures protowire.Number = 1

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldFeatureBytes  protowire.Number = 1
	fieldFeatureFloats protowire.Number = 2
	fieldFeatureInts   protowire.Number = 3

	fieldListValue protowire.Number = 1
)

// Marshal encodes the record to binary wire format.
// Features are written in sorted name order so the output is deterministic.
func Marshal(r *Record) ([]byte, error) {
	names := make([]string, 0, len(r.Features))
	for name := range r.Features {
		names = append(names, name)
	}
	sort.Strings(names)

	features := make([]byte, 0, 64)
	for _, name := range names {
		f := r.Features[name]
		if f == nil {
			return nil, fmt.Errorf("feature %q is nil", name)
		}
		val, err := marshalFeature(f)
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", name, err)
		}

		var entry []byte
		entry = protowire.AppendTag(entry, fieldEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, val)

		features = protowire.AppendTag(features, fieldRecordFeatures, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	// The record message itself wraps the feature map message.
	var out []byte
	out = protowire.AppendTag(out, fieldRecordFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out, nil
}

func marshalFeature(f *Feature) ([]byte, error) {
	var out []byte
	switch {
	case f.Bytes != nil:
		var list []byte
		for _, v := range f.Bytes.Values {
			list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
		out = protowire.AppendTag(out, fieldFeatureBytes, protowire.BytesType)
		out = protowire.AppendBytes(out, list)

	case f.Floats != nil:
		// Packed encoding.
		var packed []byte
		for _, v := range f.Floats.Values {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		var list []byte
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
		out = protowire.AppendTag(out, fieldFeatureFloats, protowire.BytesType)
		out = protowire.AppendBytes(out, list)

	case f.Ints != nil:
		var packed []byte
		for _, v := range f.Ints.Values {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		var list []byte
		list = protowire.AppendTag(list, fieldListValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
		out = protowire.AppendTag(out, fieldFeatureInts, protowire.BytesType)
		out = protowire.AppendBytes(out, list)

	default:
		return nil, fmt.Errorf("feature has no value list")
	}
	return out, nil
}

// Unmarshal decodes a record from binary wire format.
// Unknown fields are skipped. Both packed and unpacked numeric list
// encodings are accepted.
func Unmarshal(data []byte) (*Record, error) {
	r := New()
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldRecordFeatures && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid features message: %w", protowire.ParseError(n))
			}
			if err := unmarshalFeatureMap(msg, r); err != nil {
				return nil, err
			}
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return r, nil
}

func unmarshalFeatureMap(data []byte, r *Record) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid tag in feature map: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldRecordFeatures && typ == protowire.BytesType {
			entry, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("invalid map entry: %w", protowire.ParseError(n))
			}
			name, feat, err := unmarshalEntry(entry)
			if err != nil {
				return err
			}
			r.Features[name] = feat
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("invalid field %d in feature map: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}

func unmarshalEntry(data []byte) (string, *Feature, error) {
	var name string
	feat := &Feature{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", nil, fmt.Errorf("invalid tag in map entry: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", nil, fmt.Errorf("invalid feature name: %w", protowire.ParseError(n))
			}
			name = s
			data = data[n:]

		case num == fieldEntryValue && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", nil, fmt.Errorf("invalid feature message: %w", protowire.ParseError(n))
			}
			if err := unmarshalFeature(msg, feat); err != nil {
				return "", nil, fmt.Errorf("feature %q: %w", name, err)
			}
			data = data[n:]

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", nil, fmt.Errorf("invalid field %d in map entry: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return name, feat, nil
}

func unmarshalFeature(data []byte, f *Feature) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("invalid list message: %w", protowire.ParseError(n))
		}
		data = data[n:]

		var err error
		switch num {
		case fieldFeatureBytes:
			f.Bytes, err = unmarshalBytesList(msg)
		case fieldFeatureFloats:
			f.Floats, err = unmarshalFloatList(msg)
		case fieldFeatureInts:
			f.Ints, err = unmarshalInt64List(msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalBytesList(data []byte) (*BytesList, error) {
	list := &BytesList{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag in bytes list: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldListValue && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid bytes value: %w", protowire.ParseError(n))
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			list.Values = append(list.Values, cp)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("invalid field %d in bytes list: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return list, nil
}

func unmarshalFloatList(data []byte) (*FloatList, error) {
	list := &FloatList{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag in float list: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldListValue && typ == protowire.BytesType:
			// Packed.
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid packed floats: %w", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				bits, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return nil, fmt.Errorf("invalid packed float: %w", protowire.ParseError(n))
				}
				list.Values = append(list.Values, math.Float32frombits(bits))
				packed = packed[n:]
			}
			data = data[n:]

		case num == fieldListValue && typ == protowire.Fixed32Type:
			// Unpacked.
			bits, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid float value: %w", protowire.ParseError(n))
			}
			list.Values = append(list.Values, math.Float32frombits(bits))
			data = data[n:]

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("invalid field %d in float list: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return list, nil
}

func unmarshalInt64List(data []byte) (*Int64List, error) {
	list := &Int64List{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag in int64 list: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldListValue && typ == protowire.BytesType:
			// Packed.
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid packed ints: %w", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return nil, fmt.Errorf("invalid packed int: %w", protowire.ParseError(n))
				}
				list.Values = append(list.Values, int64(v))
				packed = packed[n:]
			}
			data = data[n:]

		case num == fieldListValue && typ == protowire.VarintType:
			// Unpacked.
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("invalid int value: %w", protowire.ParseError(n))
			}
			list.Values = append(list.Values, int64(v))
			data = data[n:]

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("invalid field %d in int64 list: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return list, nil
}
