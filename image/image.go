// Package image loads .drt plugin binaries into a thumb.CpuState and
// resolves their import table against the host API, per §4.3.
package image

import (
	"encoding/binary"
	"errors"
	"log"

	"github.com/dirtvm/dirt/thumb"
)

// Magic is the little-endian word at offset 0 of a valid .drt image,
// spelling "DIRT" (§6 "Image file format").
const Magic = 0x54524944

// extraRam is the slack added on top of the image length when sizing RAM
// for an image that declares no useful ram_size of its own (§4.3 step 2).
const extraRam = 1 << 20

var (
	// ErrTooShort is returned for images of length <= 8 (§4.3 step 1).
	ErrTooShort = errors.New("image: length must be greater than 8 bytes")
	// ErrBadMagic is returned when the first four bytes aren't "DIRT".
	ErrBadMagic = errors.New("image: bad magic")
)

// Import is one entry of the image's import table: the slot's offset in
// RAM, the pointer to its NUL-terminated name, and the name itself once
// resolved (the pointer only becomes dereferenceable after RAM is
// allocated and the image copied in).
type Import struct {
	SlotOffset uint32
	KeyPtr     uint32
	Name       string
}

// Loaded is the result of Load: a CpuState with RAM sized and populated,
// and the as-yet-unresolved import table.
type Loaded struct {
	State   *thumb.CpuState
	Imports []Import
}

func roundUp4(v uint32) uint32 {
	return (v + 3) &^ 3
}

// Load validates the header, sizes and allocates RAM, copies the image
// in, and walks the import table (§4.3 steps 1-4). It does not resolve
// imports or reset the CPU; call Link and then state.Reset() to finish
// booting.
func Load(data []byte, requestedRamSize uint32) (*Loaded, error) {
	if len(data) <= 8 {
		return nil, ErrTooShort
	}

	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrBadMagic
	}

	headerRamSize := binary.LittleEndian.Uint32(data[4:8])

	ramSize := requestedRamSize
	if headerRamSize > ramSize {
		ramSize = headerRamSize
	}

	if minRamSize := uint32(len(data)) + extraRam; minRamSize > ramSize {
		ramSize = minRamSize
	}

	ramSize = roundUp4(ramSize)

	imports := walkImportTable(data)

	extended := ramSize + 4*uint32(len(imports))

	ram := make([]byte, extended)
	copy(ram, data)

	for i := range imports {
		imports[i].Name = cstring(ram, imports[i].KeyPtr)
	}

	state := &thumb.CpuState{
		RAM:             ram,
		RamSize:         ramSize,
		ExtendedRamSize: extended,
	}

	return &Loaded{State: state, Imports: imports}, nil
}

// walkImportTable scans the NUL-terminated (zero-word-terminated) import
// table starting at offset 12. Running off the end of the image data
// before finding a zero word is treated as an implicit terminator, per
// §8's "unterminated import table (treated as terminated at RAM end)".
func walkImportTable(data []byte) []Import {
	var imports []Import

	offset := uint32(12)

	for int(offset)+4 <= len(data) {
		keyPtr := binary.LittleEndian.Uint32(data[offset : offset+4])
		if keyPtr == 0 {
			break
		}

		imports = append(imports, Import{SlotOffset: offset, KeyPtr: keyPtr})
		offset += 4
	}

	return imports
}

func cstring(ram []byte, ptr uint32) string {
	if ptr >= uint32(len(ram)) {
		return ""
	}

	end := ptr
	for end < uint32(len(ram)) && ram[end] != 0 {
		end++
	}

	return string(ram[ptr:end])
}

// Resolver looks a symbol name up against the global API map overlaid
// with a per-VM map (§4.4 "add_api"), returning ok=false for an unknown
// name.
type Resolver func(name string) (thumb.HostFunc, bool)

// Link resolves every import against resolve, building the api_index in
// registration order and rewriting each import slot to the trampoline
// address that ThumbCpu.tryHostCall recognises. The trampoline word
// itself is set to the import's original key pointer, so a later
// suspend/thaw can recover import names without re-reading the image
// (§4.3 step 5, §4.2 "Snapshot"). Unresolved imports are logged and
// skipped; their slot keeps its original (non-trampoline) value, so a
// guest call through it will eventually fault as an out-of-range branch.
func Link(loaded *Loaded, resolve Resolver) []thumb.HostFunc {
	state := loaded.State

	var apiIndex []thumb.HostFunc

	for _, imp := range loaded.Imports {
		fn, ok := resolve(imp.Name)
		if !ok {
			log.Printf("image: unresolved import %q, skipping", imp.Name)

			continue
		}

		i := uint32(len(apiIndex))
		apiIndex = append(apiIndex, fn)

		trampoline := state.RamSize + 4*i
		state.Write32(imp.SlotOffset, trampoline)
		state.Write32(trampoline, imp.KeyPtr)
	}

	return apiIndex
}
