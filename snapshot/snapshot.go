// Package snapshot implements suspend/thaw of a VM's Thumb interpreter
// state, plus an optional framed transport for moving a suspended blob
// off-process (§4.2 "Snapshot").
package snapshot

import (
	"encoding/binary"
	"errors"

	"github.com/dirtvm/dirt/image"
	"github.com/dirtvm/dirt/thumb"
)

// recordSize is the fixed-layout header preceding the RAM bytes: 16
// registers, the packed CPSR, the two-entry prefetch buffer, the crash
// flag, and the two RAM-size fields.
const recordSize = 16*4 + 4 + 2*2 + 4 + 4 + 4

// ErrTruncated is returned by Thaw when data is shorter than a complete
// record.
var ErrTruncated = errors.New("snapshot: truncated record")

// Suspend encodes state's full architectural register file plus its
// entire RAM into a byte vector (§4.2 "suspend returns a byte vector
// containing the raw CpuState record followed by the RAM"). Binary
// fields use a fixed little-endian layout, mirroring the teacher's
// practice of storing architecturally-sensitive state as raw byte
// layouts rather than a generic encoding.
func Suspend(state *thumb.CpuState) []byte {
	buf := make([]byte, recordSize+len(state.RAM))

	for i, r := range state.Regs {
		binary.LittleEndian.PutUint32(buf[i*4:], r)
	}

	binary.LittleEndian.PutUint32(buf[64:], state.Cpsr())
	binary.LittleEndian.PutUint16(buf[68:], state.Prefetch[0])
	binary.LittleEndian.PutUint16(buf[70:], state.Prefetch[1])

	if state.Crashed {
		buf[72] = 1
	}

	binary.LittleEndian.PutUint32(buf[76:], state.RamSize)
	binary.LittleEndian.PutUint32(buf[80:], state.ExtendedRamSize)

	copy(buf[recordSize:], state.RAM)

	return buf
}

// Thaw reverses Suspend: it rebuilds a CpuState with RAM re-sized to the
// snapshot's extended_ram_size, then re-resolves every import against
// resolve using the key pointer each trampoline word has preserved since
// load time, producing a freshly-bound api_index for the current process
// (§4.2 "thaw ... re-runs link so host-function identities are
// recomputed for the current process; only the key strings are
// portable").
func Thaw(data []byte, resolve image.Resolver) (*thumb.CpuState, []thumb.HostFunc, error) {
	if len(data) < recordSize {
		return nil, nil, ErrTruncated
	}

	state := &thumb.CpuState{}

	for i := range state.Regs {
		state.Regs[i] = binary.LittleEndian.Uint32(data[i*4:])
	}

	state.SetCpsr(binary.LittleEndian.Uint32(data[64:]))
	state.Prefetch[0] = binary.LittleEndian.Uint16(data[68:])
	state.Prefetch[1] = binary.LittleEndian.Uint16(data[70:])
	state.Crashed = data[72] != 0
	state.RamSize = binary.LittleEndian.Uint32(data[76:])
	state.ExtendedRamSize = binary.LittleEndian.Uint32(data[80:])

	ram := data[recordSize:]
	if uint32(len(ram)) < state.ExtendedRamSize {
		return nil, nil, ErrTruncated
	}

	state.RAM = append([]byte(nil), ram[:state.ExtendedRamSize]...)

	apiIndex := relink(state, resolve)

	return state, apiIndex, nil
}

// relink walks the trampoline region [RamSize, ExtendedRamSize), each
// 4-byte slot holding the import's original key pointer, and resolves
// each one against the current process's API map. Link only ever writes
// contiguous trampoline words starting at index 0 (one per successfully
// resolved import, in encounter order); any slots beyond that were
// never written and stay zero, so a zero key pointer here marks the end
// of the live api_index exactly as it did after the original Link,
// matching §8 invariant 5's "api_index.len() equals the number of
// successfully resolved imports in encounter order".
func relink(state *thumb.CpuState, resolve image.Resolver) []thumb.HostFunc {
	importCount := (state.ExtendedRamSize - state.RamSize) / 4
	apiIndex := make([]thumb.HostFunc, 0, importCount)

	for i := uint32(0); i < importCount; i++ {
		trampoline := state.RamSize + 4*i
		keyPtr := state.Read32(trampoline)

		if keyPtr == 0 {
			break
		}

		name := state.CString(keyPtr)

		fn, ok := resolve(name)
		if !ok {
			apiIndex = append(apiIndex, nil)

			continue
		}

		apiIndex = append(apiIndex, fn)
	}

	return apiIndex
}
