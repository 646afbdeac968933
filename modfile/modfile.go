// Package modfile reads and writes Kumo bytecode modules. Three encodings
// are supported: the binary container (the canonical on-disk form), a CBOR
// transport form, and the bare JSON byte array the reference compiler emits
// for single-function programs. Load sniffs the encoding from the data.
package modfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/kumovm/kumo/vm"
)

// Binary container layout: magic, uint32 LE format version, uint32 LE
// function count, then one uint32 LE length + raw buffer per function.
// Function order is table order; buffer 0 is the entry function.
var Magic = [4]byte{'K', 'U', 'M', 'O'}

// Version is the binary container format version.
const Version uint32 = 1

const headerSize = 4 + 4 + 4

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected KUMO")
	ErrVersionMismatch = errors.New("module format version mismatch")
	ErrCorruptModule   = errors.New("corrupt module data")
	ErrUnknownEncoding = errors.New("unrecognized module encoding")
)

// cborEncMode uses canonical encoding for deterministic output.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("modfile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireModule is the CBOR transport form of a module.
type wireModule struct {
	Version   uint32   `cbor:"1,keyasint"`
	Functions [][]byte `cbor:"2,keyasint"`
}

// ---------------------------------------------------------------------------
// Binary container
// ---------------------------------------------------------------------------

// EncodeBinary serializes a module to the binary container format.
func EncodeBinary(m *vm.Module) []byte {
	buffers := m.Buffers()

	size := headerSize
	for _, buf := range buffers {
		size += 4 + len(buf)
	}

	out := make([]byte, 0, size)
	out = append(out, Magic[:]...)
	out = binary.LittleEndian.AppendUint32(out, Version)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(buffers)))
	for _, buf := range buffers {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(buf)))
		out = append(out, buf...)
	}
	return out
}

// DecodeBinary deserializes a module from the binary container format.
func DecodeBinary(data []byte) (*vm.Module, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrCorruptModule, len(data))
	}
	if !bytes.Equal(data[:4], Magic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, data[:4])
	}

	version := binary.LittleEndian.Uint32(data[4:])
	if version != Version {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, version)
	}

	count := binary.LittleEndian.Uint32(data[8:])
	offset := headerSize
	buffers := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated length prefix for function %d", ErrCorruptModule, i)
		}
		length := binary.LittleEndian.Uint32(data[offset:])
		offset += 4
		if offset+int(length) > len(data) {
			return nil, fmt.Errorf("%w: function %d needs %d bytes, %d remain",
				ErrCorruptModule, i, length, len(data)-offset)
		}
		buffers = append(buffers, data[offset:offset+int(length)])
		offset += int(length)
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptModule, len(data)-offset)
	}

	return vm.NewModule(buffers)
}

// ---------------------------------------------------------------------------
// CBOR transport form
// ---------------------------------------------------------------------------

// EncodeCBOR serializes a module to canonical CBOR.
func EncodeCBOR(m *vm.Module) ([]byte, error) {
	return cborEncMode.Marshal(&wireModule{
		Version:   Version,
		Functions: m.Buffers(),
	})
}

// DecodeCBOR deserializes a module from CBOR.
func DecodeCBOR(data []byte) (*vm.Module, error) {
	var w wireModule
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("modfile: unmarshal module: %w", err)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, w.Version)
	}
	return vm.NewModule(w.Functions)
}

// ---------------------------------------------------------------------------
// Compiler JSON output
// ---------------------------------------------------------------------------

// DecodeJSON accepts the compiler's bytecode.json output: a bare JSON array
// of byte values, treated as a single-function module.
func DecodeJSON(data []byte) (*vm.Module, error) {
	var raw []uint16 // decode wide, then range-check each element
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("modfile: unmarshal byte array: %w", err)
	}
	code := make([]byte, len(raw))
	for i, b := range raw {
		if b > 0xFF {
			return nil, fmt.Errorf("%w: element %d value %d exceeds a byte", ErrCorruptModule, i, b)
		}
		code[i] = byte(b)
	}
	return vm.NewModule([][]byte{code})
}

// ---------------------------------------------------------------------------
// Sniffing loaders
// ---------------------------------------------------------------------------

// Decode sniffs the encoding of data and decodes it: the binary container
// by magic, the JSON byte array by a leading '[', anything else as CBOR.
func Decode(data []byte) (*vm.Module, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], Magic[:]) {
		return DecodeBinary(data)
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		return DecodeJSON(trimmed)
	}
	m, err := DecodeCBOR(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEncoding, err)
	}
	return m, nil
}

// Load reads and decodes a module file in any supported encoding.
func Load(path string) (*vm.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save writes a module to path in the binary container format.
func Save(path string, m *vm.Module) error {
	if err := os.WriteFile(path, EncodeBinary(m), 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
