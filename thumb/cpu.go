package thumb

import "math"

// Handler executes one decoded instruction. The dispatch table is keyed
// by opcode>>6 (§4.2, §9 "a handler is selected per opcode family at
// table-build time; the remaining immediate/register fields are decoded
// from the live opcode on every call").
type Handler func(cpu *ThumbCpu, op uint16)

// dispatchSize is 2^10: opcode>>6 of a 16-bit opcode yields a 10-bit
// index.
const dispatchSize = 1024

// ThumbCpu couples a CpuState with its instruction dispatch table and
// the host call table a BLX into the trampoline region invokes (§4.4).
type ThumbCpu struct {
	State    *CpuState
	ApiIndex []HostFunc

	table     [dispatchSize]Handler
	onUnknown func(op uint16, pc uint32)
}

// New builds a ThumbCpu over state with its dispatch table populated.
func New(state *CpuState) *ThumbCpu {
	cpu := &ThumbCpu{State: state}
	cpu.buildTable()

	return cpu
}

// OnUnknownOpcode installs a callback invoked whenever the interpreter
// meets an opcode it doesn't recognise (§4.2 "Unknown Thumb opcode:
// logged; step continues"). Passing nil disables reporting.
func (cpu *ThumbCpu) OnUnknownOpcode(fn func(op uint16, pc uint32)) {
	cpu.onUnknown = fn
}

func (cpu *ThumbCpu) reportUnknown(op uint16) {
	if cpu.onUnknown != nil {
		cpu.onUnknown(op, cpu.State.Regs[PC])
	}
}

// buildTable assigns each of the 1024 opcode-family slots a handler,
// classifying by the fixed bits that survive the opcode>>6 shift. Fields
// not captured by those 10 bits (low immediate/register bits) are
// re-extracted from the real opcode inside the handler itself.
func (cpu *ThumbCpu) buildTable() {
	for idx := 0; idx < dispatchSize; idx++ {
		rep := uint16(idx << 6)
		cpu.table[idx] = classify(rep)
	}
}

func classify(rep uint16) Handler {
	top8 := field(rep, 15, 8)
	top6 := field(rep, 15, 10)
	top5 := field(rep, 15, 11)
	top4 := field(rep, 15, 12)
	top3 := field(rep, 15, 13)

	switch {
	case top8 == 0b10110000:
		return format13
	case top8 == 0b11011111:
		return format17
	case top6 == 0b010000:
		return format4
	case top6 == 0b010001:
		return format5
	case top5 == 0b00011:
		return format2
	case top5 == 0b01001:
		return format6
	case top5 == 0b11100:
		return format18
	case top4 == 0b0101:
		return format7And8
	case top4 == 0b1000:
		return format10
	case top4 == 0b1001:
		return format11
	case top4 == 0b1010:
		return format12
	case top4 == 0b1011:
		return format14
	case top4 == 0b1100:
		return format15
	case top4 == 0b1101:
		return format16
	case top4 == 0b1111:
		return thumb32
	case top3 == 0b000:
		return format1
	case top3 == 0b001:
		return format3
	case top3 == 0b011:
		return format9
	default:
		return unknownHandler
	}
}

func unknownHandler(cpu *ThumbCpu, op uint16) {
	cpu.reportUnknown(op)
	step(cpu.State, 2)
}

// Exec runs up to speed instructions, stopping early on a crash or a
// Yield call (§4.2 "exec(speed)").
func (cpu *ThumbCpu) Exec(speed int) {
	c := cpu.State
	c.Speed = speed

	for c.Speed > 0 && !c.Crashed {
		op := c.Prefetch[0]
		cpu.table[op>>6](cpu, op)
		c.Speed--
	}
}

// Yield ends the current time-slice immediately, leaving PC at the next
// instruction to resume from (§4.4 "yield()").
func (cpu *ThumbCpu) Yield() {
	cpu.State.Speed = 0
}

// tryHostCall checks whether target falls inside the host-call trampoline
// region [RamSize, ExtendedRamSize) and, if so, resolves and invokes the
// corresponding ApiIndex entry, writing its result into R0. It reports
// false for any target outside that region, or inside it but beyond the
// registered API table, leaving the caller to perform a normal branch
// (§4.4 "Host call dispatch").
func (cpu *ThumbCpu) tryHostCall(target uint32) bool {
	c := cpu.State

	if target < c.RamSize || target >= c.ExtendedRamSize {
		return false
	}

	index := (target - c.RamSize) / 4
	if index >= uint32(len(cpu.ApiIndex)) {
		return false
	}

	result := cpu.ApiIndex[index](NewArgs(c))

	switch result.Kind {
	case Void:
	case Int32Result:
		c.Regs[0] = uint32(result.I32)
	case Uint32Result:
		c.Regs[0] = result.U32
	case Float32Result:
		c.Regs[0] = math.Float32bits(result.F32)
	case BoolResult:
		if result.B {
			c.Regs[0] = 1
		} else {
			c.Regs[0] = 0
		}
	case StringResult:
		c.Regs[0] = c.ToGuestString(result.S)
	}

	return true
}
