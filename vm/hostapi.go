package vm

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/dirtvm/dirt/bus"
	"github.com/dirtvm/dirt/thumb"
)

// hostAPI builds the global host API table available to every plugin
// (§4.4's registration table). Scene/resource-mutation symbols
// (createNode, Mesh_*, Material_*, Surface_*, ...) are registered
// separately by the scene package's API builder and merged in at Boot
// time, since they depend on the scene registries rather than on Vm
// itself.
func (v *Vm) hostAPI() map[string]thumb.HostFunc {
	return map[string]thumb.HostFunc{
		"getId": func(thumb.Args) thumb.Result {
			return thumb.Uint32R(uint32(v.Handle))
		},
		"yield": func(thumb.Args) thumb.Result {
			v.Cpu.Yield()

			return thumb.VoidResult()
		},
		"vmOpen":        v.apiVMOpen,
		"vmClose":       v.apiVMClose,
		"vmLSeek":       v.apiVMLSeek,
		"vmRead":        v.apiVMRead,
		"vmWrite":       v.apiVMWrite,
		"vmExit":        v.apiVMExit,
		"vmSystem":      v.apiVMSystem,
		"pollEvents":    v.apiPollEvents,
		"enableEvent":   v.apiEnableEvent,
		"popMessage":    v.apiPopMessage,
		"getMessageArg": v.apiGetMessageArg,
		"getFloat":      v.apiGetFloat,
		"getString":     v.apiGetString,
	}
}

// translateOpenFlags masks the guest's POSIX-style flag word down to the
// bits this runtime understands and maps them onto Go's os.OpenFile
// flags (§4.4 vmOpen "Translate flags to text mode").
func translateOpenFlags(guestFlags uint32) int {
	const mask = uint32(unix.O_RDONLY) | uint32(unix.O_WRONLY) | uint32(unix.O_RDWR) |
		uint32(unix.O_CREAT) | uint32(unix.O_TRUNC) | uint32(unix.O_APPEND)

	masked := guestFlags & mask

	var goFlags int

	switch masked & (uint32(unix.O_WRONLY) | uint32(unix.O_RDWR)) {
	case uint32(unix.O_WRONLY):
		goFlags = os.O_WRONLY
	case uint32(unix.O_RDWR):
		goFlags = os.O_RDWR
	default:
		goFlags = os.O_RDONLY
	}

	if masked&uint32(unix.O_CREAT) != 0 {
		goFlags |= os.O_CREATE
	}

	if masked&uint32(unix.O_TRUNC) != 0 {
		goFlags |= os.O_TRUNC
	}

	if masked&uint32(unix.O_APPEND) != 0 {
		goFlags |= os.O_APPEND
	}

	return goFlags
}

func (v *Vm) apiVMOpen(args thumb.Args) thumb.Result {
	name := args.CString(0)
	flags := args.Uint32(1)

	path := name
	if v.WorkDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(v.WorkDir, path)
	}

	f, err := os.OpenFile(path, translateOpenFlags(flags), 0o644)
	if err != nil {
		return thumb.Int32R(-1)
	}

	v.mu.Lock()
	v.files = append(v.files, f)
	slot := uint32(len(v.files)-1) + reservedFileSlots
	v.mu.Unlock()

	return thumb.Int32R(int32(slot))
}

func (v *Vm) fileAt(fh uint32) *os.File {
	switch fh {
	case 0:
		return os.Stdin
	case 1:
		return os.Stdout
	case 2:
		return os.Stderr
	}

	idx := fh - reservedFileSlots

	v.mu.Lock()
	defer v.mu.Unlock()

	if idx >= uint32(len(v.files)) {
		return nil
	}

	return v.files[idx]
}

func (v *Vm) apiVMClose(args thumb.Args) thumb.Result {
	fh := args.Uint32(0)
	if fh < reservedFileSlots {
		return thumb.VoidResult()
	}

	idx := fh - reservedFileSlots

	v.mu.Lock()
	defer v.mu.Unlock()

	if idx >= uint32(len(v.files)) || v.files[idx] == nil {
		return thumb.VoidResult()
	}

	v.files[idx].Close()
	v.files[idx] = nil

	return thumb.VoidResult()
}

func (v *Vm) apiVMLSeek(args thumb.Args) thumb.Result {
	fh := args.Uint32(0)
	off := args.Int32(1)
	whence := args.Int32(2)

	if fh < reservedFileSlots {
		return thumb.Int32R(0)
	}

	f := v.fileAt(fh)
	if f == nil {
		return thumb.Int32R(0)
	}

	pos, err := f.Seek(int64(off), int(whence))
	if err != nil {
		return thumb.Int32R(0)
	}

	return thumb.Int32R(int32(pos))
}

func (v *Vm) apiVMRead(args thumb.Args) thumb.Result {
	fh := args.Uint32(0)
	ptr := args.Uint32(1)
	length := args.Uint32(2)

	buf := v.Cpu.State.ToHost(ptr, length)
	if buf == nil {
		return thumb.Uint32R(0)
	}

	f := v.fileAt(fh)
	if f == nil {
		return thumb.Uint32R(0)
	}

	n, _ := f.Read(buf)

	return thumb.Uint32R(uint32(n))
}

func (v *Vm) apiVMWrite(args thumb.Args) thumb.Result {
	fh := args.Uint32(0)
	ptr := args.Uint32(1)
	length := args.Uint32(2)

	buf := v.Cpu.State.ToHost(ptr, length)
	if buf == nil {
		return thumb.Uint32R(0)
	}

	f := v.fileAt(fh)
	if f == nil {
		return thumb.Uint32R(0)
	}

	n, _ := f.Write(buf)

	return thumb.Uint32R(uint32(n))
}

func (v *Vm) apiVMExit(thumb.Args) thumb.Result {
	v.closeFiles()
	v.deps.ReleaseVM(v.Handle)
	v.Cpu.Yield()

	return thumb.VoidResult()
}

func (v *Vm) apiVMSystem(args thumb.Args) thumb.Result {
	line := args.CString(0)

	parts := parseCommandLine(line)
	if len(parts) == 0 || parts[0] == "" {
		return thumb.Uint32R(0)
	}

	target := v.deps.RouteSystem(parts)

	return thumb.Uint32R(uint32(target))
}

func (v *Vm) apiPollEvents(thumb.Args) thumb.Result {
	id, ok := v.Events.Pop()
	if !ok {
		return thumb.Uint32R(uint32(bus.MaxEvent))
	}

	return thumb.Uint32R(uint32(id))
}

func (v *Vm) apiEnableEvent(args thumb.Args) thumb.Result {
	id := bus.EventID(args.Uint32(0))
	if id >= bus.MaxEvent {
		return thumb.VoidResult()
	}

	v.deps.EventBus().Subscribe(id, func() { v.Event(id) })

	return thumb.VoidResult()
}

func (v *Vm) apiPopMessage(thumb.Args) thumb.Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.activeMessage = nil

	msg, ok := v.Messages.Pop()
	if !ok {
		return thumb.Uint32R(0)
	}

	v.activeMessage = msg

	return thumb.Uint32R(uint32(len(msg)))
}

func (v *Vm) apiGetMessageArg(args thumb.Args) thumb.Result {
	idx := args.Uint32(0)

	v.mu.Lock()
	defer v.mu.Unlock()

	if int(idx) >= len(v.activeMessage) {
		return thumb.StringR("")
	}

	return thumb.StringR(v.activeMessage[idx])
}

func (v *Vm) apiGetFloat(args thumb.Args) thumb.Result {
	key := args.CString(0)
	def := args.Float32(1)

	return thumb.Float32R(float32(v.deps.Model().GetFloat(key, float64(def))))
}

func (v *Vm) apiGetString(args thumb.Args) thumb.Result {
	key := args.CString(0)
	def := args.CString(1)

	return thumb.StringR(v.deps.Model().GetString(key, def))
}

// parseCommandLine splits a vmSystem command line: whitespace separates
// tokens, double-quoted runs preserve internal whitespace, and backslash
// escapes \t, \n and \\; a malformed trailing quote simply flushes the
// in-progress token instead of erroring (§4.4 "Command-line parsing").
func parseCommandLine(line string) []string {
	var (
		parts []string
		acc   []rune
	)

	escape := false
	quote := false

	for _, ch := range line {
		if escape {
			escape = false

			switch ch {
			case 't':
				ch = '\t'
			case 'n':
				ch = '\n'
			case '\\':
			default:
				continue
			}

			acc = append(acc, ch)

			continue
		}

		if ch == '\\' {
			escape = true

			continue
		}

		if len(acc) == 0 {
			switch {
			case ch == '"':
				quote = !quote
			case ch > ' ':
				acc = append(acc, ch)
			}

			continue
		}

		if (ch <= ' ' && !quote) || (ch == '"' && quote) {
			parts = append(parts, string(acc))
			acc = acc[:0]
			quote = false

			continue
		}

		acc = append(acc, ch)
	}

	if len(acc) > 0 {
		parts = append(parts, string(acc))
	}

	return parts
}
