// Package record implements the serialized feature-record format fed to
// exported models.
//
// A Record is a bag of named features, each holding a list of bytes, float32,
// or int64 values. The binary encoding is protobuf wire format with the
// conventional field numbers for feature records, so records produced by
// other toolchains decode here and vice versa.
package record

import "fmt"

// BytesList holds repeated byte-string values.
type BytesList struct {
	Values [][]byte
}

// FloatList holds repeated float32 values.
type FloatList struct {
	Values []float32
}

// Int64List holds repeated int64 values.
type Int64List struct {
	Values []int64
}

// Feature is one named value list. Exactly one of the three lists should be
// set; Kind reports which one is.
type Feature struct {
	Bytes  *BytesList
	Floats *FloatList
	Ints   *Int64List
}

// Kind returns a short name for the list the feature carries, or "empty".
func (f *Feature) Kind() string {
	switch {
	case f.Bytes != nil:
		return "bytes"
	case f.Floats != nil:
		return "float"
	case f.Ints != nil:
		return "int64"
	default:
		return "empty"
	}
}

// Record is a set of named features.
type Record struct {
	Features map[string]*Feature
}

// New returns an empty record.
func New() *Record {
	return &Record{Features: make(map[string]*Feature)}
}

// SetFloats sets a float32 feature.
func (r *Record) SetFloats(name string, vals ...float32) *Record {
	r.Features[name] = &Feature{Floats: &FloatList{Values: vals}}
	return r
}

// SetInts sets an int64 feature.
func (r *Record) SetInts(name string, vals ...int64) *Record {
	r.Features[name] = &Feature{Ints: &Int64List{Values: vals}}
	return r
}

// SetBytes sets a byte-string feature.
func (r *Record) SetBytes(name string, vals ...[]byte) *Record {
	r.Features[name] = &Feature{Bytes: &BytesList{Values: vals}}
	return r
}

// Feature returns the named feature, or nil if absent.
func (r *Record) Feature(name string) *Feature {
	if r.Features == nil {
		return nil
	}
	return r.Features[name]
}

func (r *Record) String() string {
	return fmt.Sprintf("record with %d features", len(r.Features))
}
