// Package thumb implements a software interpreter for the ARMv6-M/Cortex-M0+
// Thumb instruction subset plus a handful of Thumb-2 32-bit encodings
// (BL, MRS, DMB), per §4.2.
package thumb

import "encoding/binary"

// SP, LR and PC are the conventional register indices.
const (
	SP = 13
	LR = 14
	PC = 15
)

// CPSR flag bit positions used when packing/unpacking the synthesised
// status word (§4.2 "Flags N, Z, C, V are kept unpacked as booleans and
// packed into CPSR on demand").
const (
	cpsrN = 31
	cpsrZ = 30
	cpsrC = 29
	cpsrV = 28
	cpsrT = 5
)

// CpuState holds the complete architectural state of one vCPU: 16 general
// registers, the unpacked condition flags, the two-entry prefetch buffer,
// the crash latch, and the guest's linear RAM (§3 "VM-local state").
type CpuState struct {
	Regs [16]uint32

	N, Z, C, V bool

	// Prefetch holds the instruction about to execute (index 0) and the
	// one after it (index 1); see §4.2 "Prefetch".
	Prefetch [2]uint16

	Crashed bool

	// Speed is the number of instructions remaining in the current
	// exec() call; reaching zero (via completion, yield, or a crash)
	// ends the time-slice.
	Speed int

	RAM []byte

	// RamSize is the guest-declared RAM size, rounded up to a multiple
	// of 4 (§4.3 step 2).
	RamSize uint32

	// ExtendedRamSize is RamSize plus 4*import_count at load time, plus
	// anything subsequently appended by ToGuest.
	ExtendedRamSize uint32
}

// MaxRamAddr is the highest valid byte address, per §4.2 "Memory sandbox".
func (c *CpuState) MaxRamAddr() uint32 {
	if c.ExtendedRamSize == 0 {
		return 0
	}

	return c.ExtendedRamSize - 1
}

// Cpsr packs the unpacked flags (plus a permanently-set Thumb bit) into a
// single word, computed on demand rather than kept live (§4.2).
func (c *CpuState) Cpsr() uint32 {
	var v uint32

	v |= 1 << cpsrT

	if c.N {
		v |= 1 << cpsrN
	}

	if c.Z {
		v |= 1 << cpsrZ
	}

	if c.C {
		v |= 1 << cpsrC
	}

	if c.V {
		v |= 1 << cpsrV
	}

	return v
}

// SetCpsr unpacks a status word back into N/Z/C/V.
func (c *CpuState) SetCpsr(v uint32) {
	c.N = v&(1<<cpsrN) != 0
	c.Z = v&(1<<cpsrZ) != 0
	c.C = v&(1<<cpsrC) != 0
	c.V = v&(1<<cpsrV) != 0
}

// inBounds reports whether [addr, addr+size) lies entirely within RAM.
func (c *CpuState) inBounds(addr uint32, size uint32) bool {
	if size == 0 {
		return true
	}

	end := uint64(addr) + uint64(size)

	return end <= uint64(c.ExtendedRamSize)
}

// crash latches the crash flag and zeroes the remainder of the current
// time-slice (§4.2 "Memory sandbox").
func (c *CpuState) crash() {
	c.Crashed = true
	c.Speed = 0
}

// Read8 reads one byte. An out-of-range read crashes the VM and returns 0
// (§4.2, §8 invariant 3).
func (c *CpuState) Read8(addr uint32) uint8 {
	if !c.inBounds(addr, 1) {
		c.crash()

		return 0
	}

	return c.RAM[addr]
}

// Read16 reads a little-endian halfword.
func (c *CpuState) Read16(addr uint32) uint16 {
	if !c.inBounds(addr, 2) {
		c.crash()

		return 0
	}

	return binary.LittleEndian.Uint16(c.RAM[addr:])
}

// Read32 reads a little-endian word.
func (c *CpuState) Read32(addr uint32) uint32 {
	if !c.inBounds(addr, 4) {
		c.crash()

		return 0
	}

	return binary.LittleEndian.Uint32(c.RAM[addr:])
}

// Write8 writes one byte. An out-of-range write crashes the VM and aborts
// the slice without writing (§4.2).
func (c *CpuState) Write8(addr uint32, v uint8) {
	if !c.inBounds(addr, 1) {
		c.crash()

		return
	}

	c.RAM[addr] = v
}

// Write16 writes a little-endian halfword.
func (c *CpuState) Write16(addr uint32, v uint16) {
	if !c.inBounds(addr, 2) {
		c.crash()

		return
	}

	binary.LittleEndian.PutUint16(c.RAM[addr:], v)
}

// Write32 writes a little-endian word.
func (c *CpuState) Write32(addr uint32, v uint32) {
	if !c.inBounds(addr, 4) {
		c.crash()

		return
	}

	binary.LittleEndian.PutUint32(c.RAM[addr:], v)
}

// ToGuest appends data past the current ExtendedRamSize, growing RAM and
// extending the valid address range, and returns the guest pointer to the
// start of the appended region (§4.2 "Snapshot"/§4.4 "to_guest"). It is
// used to deliver String host-call results and large argument payloads.
func (c *CpuState) ToGuest(data []byte) uint32 {
	ptr := c.ExtendedRamSize
	c.RAM = append(c.RAM, data...)
	c.ExtendedRamSize += uint32(len(data))

	return ptr
}

// ToGuestString appends a NUL-terminated copy of s and returns its guest
// pointer (original_source VM::toGuest(const std::string&) convenience).
func (c *CpuState) ToGuestString(s string) uint32 {
	return c.ToGuest(append([]byte(s), 0))
}

// ToHost returns an aliasing view into RAM for [guestPtr, guestPtr+size),
// or nil if out of range. It never copies or moves memory (§4.4).
func (c *CpuState) ToHost(guestPtr uint32, size uint32) []byte {
	if !c.inBounds(guestPtr, size) {
		return nil
	}

	return c.RAM[guestPtr : guestPtr+size]
}

// CString reads a NUL-terminated string starting at guestPtr, bounded by
// RAM's current length (original_source VM::Args::get<std::string>).
func (c *CpuState) CString(guestPtr uint32) string {
	if guestPtr >= uint32(len(c.RAM)) {
		return ""
	}

	end := guestPtr

	for end < uint32(len(c.RAM)) && c.RAM[end] != 0 {
		end++
	}

	return string(c.RAM[guestPtr:end])
}

// Reset reinitialises all registers and flags and points PC at the entry
// point stored at RAM offset 8 (§4.2 "Reset").
func (c *CpuState) Reset() {
	for i := range c.Regs {
		c.Regs[i] = 0
	}

	c.N, c.Z, c.C, c.V = false, false, false, false
	c.Crashed = false

	c.Regs[0] = c.RamSize
	c.Regs[SP] = c.RamSize - 4
	c.Regs[PC] = c.Read32(8) &^ 1

	c.refillPrefetch()
}

func (c *CpuState) refillPrefetch() {
	c.Prefetch[0] = c.Read16(c.Regs[PC])
	c.Prefetch[1] = c.Read16(c.Regs[PC] + 2)
}
