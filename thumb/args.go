package thumb

import "math"

// Args is a typed view over a host call's argument registers, mirroring
// original_source's VM::Args::get<Type>() ABI: the first four words come
// from R0-R3, the rest from the caller's stack starting at SP (§4.4 "Host
// call ABI").
type Args struct {
	state *CpuState
}

// NewArgs returns an Args view over state's current registers and stack.
func NewArgs(state *CpuState) Args {
	return Args{state: state}
}

func (a Args) word(i int) uint32 {
	if i < 4 {
		return a.state.Regs[i]
	}

	return a.state.Read32(a.state.Regs[SP] + uint32(i-4)*4)
}

// Uint32 returns argument i as a raw 32-bit word.
func (a Args) Uint32(i int) uint32 { return a.word(i) }

// Int32 returns argument i reinterpreted as a signed 32-bit integer.
func (a Args) Int32(i int) int32 { return int32(a.word(i)) }

// Float32 returns argument i reinterpreted as an IEEE-754 float.
func (a Args) Float32(i int) float32 { return math.Float32frombits(a.word(i)) }

// Bool returns argument i as a boolean (nonzero word is true).
func (a Args) Bool(i int) bool { return a.word(i) != 0 }

// CString returns argument i, treated as a guest pointer, as a
// NUL-terminated string.
func (a Args) CString(i int) string { return a.state.CString(a.word(i)) }

// ResultKind tags the dynamic type carried by a Result.
type ResultKind int

// Host calls return one of these kinds; Void writes nothing to R0 (§4.4
// "Host call return").
const (
	Void ResultKind = iota
	Int32Result
	Uint32Result
	Float32Result
	BoolResult
	StringResult
)

// Result is the value a HostFunc hands back to the interpreter, to be
// marshalled into R0 (or, for strings, appended to guest RAM first).
type Result struct {
	Kind ResultKind
	I32  int32
	U32  uint32
	F32  float32
	B    bool
	S    string
}

// VoidResult returns a Result that leaves R0 untouched.
func VoidResult() Result { return Result{Kind: Void} }

// Int32R wraps a signed 32-bit result.
func Int32R(v int32) Result { return Result{Kind: Int32Result, I32: v} }

// Uint32R wraps an unsigned 32-bit result.
func Uint32R(v uint32) Result { return Result{Kind: Uint32Result, U32: v} }

// Float32R wraps a float result.
func Float32R(v float32) Result { return Result{Kind: Float32Result, F32: v} }

// BoolR wraps a boolean result.
func BoolR(v bool) Result { return Result{Kind: BoolResult, B: v} }

// StringR wraps a string result; the interpreter copies it into guest RAM
// via ToGuestString and returns the resulting pointer in R0.
func StringR(v string) Result { return Result{Kind: StringResult, S: v} }

// HostFunc implements one entry of the host API table (§4.4, §5
// "api_index"). Implementations close over whatever VM/App state they
// need; the interpreter only ever calls them with the Args view.
type HostFunc func(args Args) Result
