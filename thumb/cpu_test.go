package thumb_test

import (
	"testing"

	"github.com/dirtvm/dirt/thumb"
)

func newState(ramSize uint32, entry uint32) *thumb.CpuState {
	ram := make([]byte, ramSize)
	ram[8] = byte(entry)
	ram[9] = byte(entry >> 8)
	ram[10] = byte(entry >> 16)
	ram[11] = byte(entry >> 24)

	return &thumb.CpuState{RAM: ram, RamSize: ramSize, ExtendedRamSize: ramSize}
}

func TestResetInitializesRegisters(t *testing.T) {
	t.Parallel()

	s := newState(1024, 64)
	s.Reset()

	if s.Regs[0] != 1024 {
		t.Errorf("R0 = %d, want 1024", s.Regs[0])
	}

	if s.Regs[thumb.SP] != 1020 {
		t.Errorf("SP = %d, want 1020", s.Regs[thumb.SP])
	}

	if s.Regs[thumb.PC] != 64 {
		t.Errorf("PC = %d, want 64", s.Regs[thumb.PC])
	}

	if s.Crashed {
		t.Error("Crashed = true after Reset")
	}
}

func TestMemoryReadOutOfBoundsCrashes(t *testing.T) {
	t.Parallel()

	s := newState(64, 8)
	s.Reset()
	s.Speed = 5

	got := s.Read32(1000)
	if got != 0 {
		t.Errorf("Read32 out of bounds = %d, want 0", got)
	}

	if !s.Crashed {
		t.Error("Crashed = false after out-of-bounds read")
	}

	if s.Speed != 0 {
		t.Errorf("Speed = %d after crash, want 0", s.Speed)
	}
}

func TestMemoryWriteOutOfBoundsDoesNotWrite(t *testing.T) {
	t.Parallel()

	s := newState(16, 8)
	before := append([]byte(nil), s.RAM...)

	s.Write32(1000, 0xDEADBEEF)

	if !s.Crashed {
		t.Error("Crashed = false after out-of-bounds write")
	}

	for i := range before {
		if s.RAM[i] != before[i] {
			t.Fatalf("RAM mutated at %d despite out-of-bounds write", i)
		}
	}
}

func TestToGuestGrowsRamAndReturnsPointer(t *testing.T) {
	t.Parallel()

	s := newState(16, 8)

	ptr := s.ToGuestString("hi")
	if ptr != 16 {
		t.Errorf("ToGuestString pointer = %d, want 16", ptr)
	}

	if got := s.CString(ptr); got != "hi" {
		t.Errorf("CString(ptr) = %q, want hi", got)
	}

	if s.ExtendedRamSize != 19 {
		t.Errorf("ExtendedRamSize = %d, want 19", s.ExtendedRamSize)
	}
}

// encodeFormat3 builds a MOV/CMP/ADD/SUB Rd, #imm8 opcode (opc: 0=MOV,
// 1=CMP, 2=ADD, 3=SUB).
func encodeFormat3(opc, rd, imm8 uint16) uint16 {
	return 0b001<<13 | opc<<11 | rd<<8 | imm8
}

func TestFormat3MovSetsZeroFlagOnZero(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()
	s.RAM[64] = byte(encodeFormat3(0, 0, 0))
	s.RAM[65] = byte(encodeFormat3(0, 0, 0) >> 8)
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = encodeFormat3(0, 0, 0)

	cpu := thumb.New(s)
	cpu.Exec(1)

	if s.Regs[0] != 0 {
		t.Errorf("R0 = %d, want 0", s.Regs[0])
	}

	if !s.Z {
		t.Error("Z flag = false after MOV R0, #0")
	}
}

func TestFormat3AddSetsCarryOnOverflow(t *testing.T) {
	t.Parallel()

	s := newState(64, 8)
	s.Reset()
	s.Regs[1] = 0xFFFFFFFF
	op := encodeFormat3(2, 1, 1) // ADD R1, #1 -> wraps to 0
	s.Prefetch[0] = op
	s.Regs[thumb.PC] = 64

	cpu := thumb.New(s)
	cpu.Exec(1)

	if s.Regs[1] != 0 {
		t.Errorf("R1 = %d, want 0", s.Regs[1])
	}

	if !s.C {
		t.Error("C flag = false, want true (unsigned carry out)")
	}

	if !s.Z {
		t.Error("Z flag = false, want true")
	}
}

// encodeFormat1 builds a move-shifted-register opcode.
func encodeFormat1(opc, imm5, rs, rd uint16) uint16 {
	return 0b000<<13 | opc<<11 | imm5<<6 | rs<<3 | rd
}

func TestFormat1LslShiftsAndSetsCarry(t *testing.T) {
	t.Parallel()

	s := newState(64, 8)
	s.Reset()
	s.Regs[1] = 0x80000001
	s.Prefetch[0] = encodeFormat1(0b00, 1, 1, 0) // LSL R0, R1, #1
	s.Regs[thumb.PC] = 64

	cpu := thumb.New(s)
	cpu.Exec(1)

	if s.Regs[0] != 2 {
		t.Errorf("R0 = %#x, want 2", s.Regs[0])
	}

	if !s.C {
		t.Error("C flag = false, want true (bit shifted out was 1)")
	}
}

// encodeFormat14 builds a PUSH/POP opcode. l=true for POP.
func encodeFormat14(l, r bool, rlist uint16) uint16 {
	op := uint16(0b1011) << 12
	op |= 0b10 << 9

	if l {
		op |= 1 << 11
	}

	if r {
		op |= 1 << 8
	}

	return op | rlist
}

func TestPushPopRoundTrip(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()
	s.Regs[0] = 0x11111111
	s.Regs[1] = 0x22222222
	s.Regs[thumb.LR] = 0x00000041 // odd so &^1 keeps it a valid thumb target

	cpu := thumb.New(s)

	s.Prefetch[0] = encodeFormat14(false, true, 0b00000011) // PUSH {R0,R1,LR}
	s.Regs[thumb.PC] = 64
	cpu.Exec(1)

	spAfterPush := s.Regs[thumb.SP]
	if spAfterPush != 256-4-12 {
		t.Fatalf("SP after PUSH = %d, want %d", spAfterPush, 256-4-12)
	}

	s.Regs[0] = 0
	s.Regs[1] = 0

	s.Prefetch[0] = encodeFormat14(true, true, 0b00000011) // POP {R0,R1,PC}
	cpu.Exec(1)

	if s.Regs[0] != 0x11111111 || s.Regs[1] != 0x22222222 {
		t.Errorf("R0,R1 after POP = %#x,%#x, want restored values", s.Regs[0], s.Regs[1])
	}

	if s.Regs[thumb.PC] != 0x40 {
		t.Errorf("PC after POP {..,PC} = %#x, want 0x40", s.Regs[thumb.PC])
	}

	if s.Regs[thumb.SP] != 256-4 {
		t.Errorf("SP after POP = %d, want %d", s.Regs[thumb.SP], 256-4)
	}
}

// encodeFormat16 builds a conditional branch opcode.
func encodeFormat16(cond uint16, offset8 uint16) uint16 {
	return 0b1101<<12 | cond<<8 | offset8
}

func TestConditionalBranchTaken(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()
	s.Z = true
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = encodeFormat16(0x0, 4) // BEQ PC+4+8

	cpu := thumb.New(s)
	cpu.Exec(1)

	want := uint32(64 + 4 + 8)
	if s.Regs[thumb.PC] != want {
		t.Errorf("PC = %d, want %d", s.Regs[thumb.PC], want)
	}
}

func TestConditionalBranchNotTaken(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()
	s.Z = false
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = encodeFormat16(0x0, 4) // BEQ, condition false

	cpu := thumb.New(s)
	cpu.Exec(1)

	if s.Regs[thumb.PC] != 66 {
		t.Errorf("PC = %d, want 66 (fall through)", s.Regs[thumb.PC])
	}
}

// encodeFormat5Blx builds a hi-register BX/BLX opcode.
func encodeFormat5Blx(blx bool, rs uint16) uint16 {
	op := uint16(0b010001)<<10 | 0b11<<8

	if blx {
		op |= 1 << 7 // H1 selects BLX over BX
	}

	if rs >= 8 {
		op |= 1 << 6
		rs -= 8
	}

	return op | rs<<3
}

func TestHostCallTrampolineInterceptsBlx(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()

	const importCount = 2
	s.RAM = append(s.RAM, make([]byte, importCount*4)...)
	s.ExtendedRamSize = s.RamSize + importCount*4

	cpu := thumb.New(s)
	cpu.ApiIndex = []thumb.HostFunc{
		func(args thumb.Args) thumb.Result { return thumb.Uint32R(111) },
		func(args thumb.Args) thumb.Result { return thumb.Uint32R(222) },
	}

	s.Regs[2] = s.RamSize + 4 // second import slot
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = encodeFormat5Blx(true, 2)

	cpu.Exec(1)

	if s.Regs[0] != 222 {
		t.Errorf("R0 = %d, want 222", s.Regs[0])
	}

	if s.Regs[thumb.PC] != 66 {
		t.Errorf("PC = %d, want 66 (host call does not branch)", s.Regs[thumb.PC])
	}
}

func TestBlxOutsideTrampolineRangeBranchesNormally(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()

	cpu := thumb.New(s)

	s.Regs[2] = 100 // within RAM, not in the trampoline region
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = encodeFormat5Blx(true, 2)

	cpu.Exec(1)

	if s.Regs[thumb.PC] != 100 {
		t.Errorf("PC = %d, want 100", s.Regs[thumb.PC])
	}

	if s.Regs[thumb.LR] != 67 {
		t.Errorf("LR = %#x, want 67 (return address | 1)", s.Regs[thumb.LR])
	}
}

func TestUnknownOpcodeReportedAndStepContinues(t *testing.T) {
	t.Parallel()

	s := newState(256, 8)
	s.Reset()
	s.Regs[thumb.PC] = 64
	s.Prefetch[0] = 0b11101_00000000000 // reserved top5=11101

	cpu := thumb.New(s)

	var reported uint16

	wantOp := s.Prefetch[0]
	cpu.OnUnknownOpcode(func(op uint16, pc uint32) { reported = op })
	cpu.Exec(1)

	if reported != wantOp {
		t.Errorf("reported opcode = %#x, want %#x", reported, wantOp)
	}

	if s.Crashed {
		t.Error("Crashed = true after unknown opcode, want false")
	}

	if s.Regs[thumb.PC] != 66 {
		t.Errorf("PC = %d, want 66", s.Regs[thumb.PC])
	}
}

func TestBlLongBranchSetsLinkRegister(t *testing.T) {
	t.Parallel()

	s := newState(4096, 8)
	s.Reset()
	s.Regs[thumb.PC] = 64

	// BL target = PC+4+offset. Encode a small forward offset of 0x100.
	offset := int32(0x100)
	low := uint16(offset>>1) & 0x7FF
	high := uint16(0)

	first := uint16(0b11110)<<11 | high
	second := uint16(0b11111)<<11 | low

	s.Prefetch[0] = first
	s.Prefetch[1] = second

	cpu := thumb.New(s)
	cpu.Exec(1)

	wantTarget := uint32(64 + 4 + 0x100)
	if s.Regs[thumb.PC] != wantTarget {
		t.Errorf("PC = %#x, want %#x", s.Regs[thumb.PC], wantTarget)
	}

	if s.Regs[thumb.LR] != (64+4)|1 {
		t.Errorf("LR = %#x, want %#x", s.Regs[thumb.LR], (64+4)|1)
	}
}
