package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ember-ml/ember/internal/tensor"
)

// Reader reads tensors from .ember format.
type Reader struct {
	file       *os.File
	header     Header
	flags      uint32
	version    uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures the behavior of Reader.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe).
	ValidationLevel        ValidationLevel // Validation strictness.
}

// NewReader creates a .ember file reader with strict validation.
func NewReader(path string) (*Reader, error) {
	return NewReaderWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// NewReaderWithOptions creates a .ember file reader with custom options.
func NewReaderWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{file: file, opts: opts}
	if err := r.parseHeader(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if err := ValidateHeader(&r.header, r.dataSize, opts.ValidationLevel); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return r, nil
}

func (r *Reader) parseHeader() error {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r.file, fixed); err != nil {
		return fmt.Errorf("failed to read fixed header: %w", err)
	}

	if string(fixed[0:4]) != MagicBytes {
		return ErrInvalidMagic
	}

	r.version = binary.LittleEndian.Uint32(fixed[4:8])
	if r.version != FormatVersion {
		return fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, r.version, FormatVersion)
	}

	r.flags = binary.LittleEndian.Uint32(fixed[8:12])
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	copy(r.checksum[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerJSON); err != nil {
		return fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &r.header); err != nil {
		return fmt.Errorf("failed to decode header JSON: %w", err)
	}

	currentPos := int64(FixedHeaderSize) + int64(headerSize)
	padding := (HeaderAlignment - (currentPos % HeaderAlignment)) % HeaderAlignment
	r.dataOffset = currentPos + padding
	r.dataSize = int64(dataSize)

	// The stored data size must agree with the file size.
	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size()-r.dataOffset != r.dataSize {
		return fmt.Errorf("data section is %d bytes, header claims %d", info.Size()-r.dataOffset, r.dataSize)
	}
	return nil
}

// Header returns the parsed JSON header.
func (r *Reader) Header() Header {
	return r.header
}

// ReadTensors reads all tensors from the file, validating the data checksum
// unless disabled in the options.
func (r *Reader) ReadTensors() (map[string]*tensor.Dense, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}

	data := make([]byte, r.dataSize)
	if _, err := r.file.ReadAt(data, r.dataOffset); err != nil {
		return nil, fmt.Errorf("failed to read data section: %w", err)
	}

	if !r.opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), r.checksum); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*tensor.Dense, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		dt, ok := tensor.ParseDataType(meta.DType)
		if !ok || !dt.HasFixedSize() {
			return nil, fmt.Errorf("tensor %q: %w: %q", meta.Name, ErrUnsupportedDType, meta.DType)
		}

		shape := tensor.Shape(meta.Shape)
		t, err := tensor.NewDense(dt, shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		if int64(t.ByteSize()) != meta.Size {
			return nil, fmt.Errorf("tensor %q: shape %v implies %d bytes, header claims %d",
				meta.Name, shape, t.ByteSize(), meta.Size)
		}
		copy(t.Bytes(), data[meta.Offset:meta.Offset+meta.Size])
		out[meta.Name] = t
	}
	return out, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// ReadFile reads all tensors from path with strict validation, a convenience
// wrapper around NewReader + ReadTensors + Close.
func ReadFile(path string) (map[string]*tensor.Dense, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadTensors()
}
