// Package serialization implements the .ember checkpoint format used for
// variable values in saved bundles.
//
//	Format structure (fixed 64-byte header, little endian):
//	  0x00  magic "EMBR"
//	  0x04  version (uint32)
//	  0x08  flags (uint32)
//	  0x0C  reserved
//	  0x10  header size (uint64)
//	  0x18  data size (uint64)
//	  0x20  SHA-256 checksum of the data section (32 bytes)
//	  0x40  JSON header (tensor metadata)
//	  ....  tensor data, 64-byte aligned
package serialization

import (
	"time"

	"github.com/ember-ml/ember/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "EMBR"
	FormatVersion   = 1
	HeaderAlignment = 64   // Tensor data alignment.
	FixedHeaderSize = 64   // 0x40 bytes.
	ChecksumSize    = 32   // SHA-256.
	ChecksumOffset  = 0x20 // Checksum position in the fixed header.
)

// Flags for the .ember format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
)

// Header is the JSON header of a .ember file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	ToolVersion   string            `json:"tool_version"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // Bytes from the start of the data section.
	Size   int64  `json:"size"`
}

// checkpointDType restricts checkpoints to fixed-size numeric tensors.
func checkpointDType(dt tensor.DataType) (string, bool) {
	if !dt.HasFixedSize() {
		return "", false
	}
	return dt.String(), true
}
