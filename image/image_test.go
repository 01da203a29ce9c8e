package image_test

import (
	"encoding/binary"
	"testing"

	"github.com/dirtvm/dirt/image"
	"github.com/dirtvm/dirt/thumb"
)

// buildImage assembles a minimal .drt image: header, an import table
// (names appended after the table, pointers computed to match), and a
// short code blob.
func buildImage(ramSize, entry uint32, importNames []string) []byte {
	tableOffset := uint32(12)
	tableBytes := uint32(len(importNames)+1) * 4 // +1 for the zero terminator
	namesOffset := tableOffset + tableBytes

	buf := make([]byte, namesOffset)
	binary.LittleEndian.PutUint32(buf[0:4], image.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], ramSize)
	binary.LittleEndian.PutUint32(buf[8:12], entry)

	namePtr := namesOffset

	var names []byte

	for i, name := range importNames {
		binary.LittleEndian.PutUint32(buf[tableOffset+uint32(i)*4:], namePtr)
		names = append(names, []byte(name)...)
		names = append(names, 0)
		namePtr += uint32(len(name)) + 1
	}
	// table is already zero-terminated by make()'s zero-init.

	return append(buf, names...)
}

func TestLoadRejectsShortImage(t *testing.T) {
	t.Parallel()

	if _, err := image.Load([]byte{1, 2, 3}, 0); err != image.ErrTooShort {
		t.Errorf("err = %v, want ErrTooShort", err)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	t.Parallel()

	data := make([]byte, 16)

	if _, err := image.Load(data, 0); err != image.ErrBadMagic {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestLoadSizesRamFromImageLength(t *testing.T) {
	t.Parallel()

	data := buildImage(0, 8, nil)

	loaded, err := image.Load(data, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := uint32(len(data)) + (1 << 20)
	want = (want + 3) &^ 3

	if loaded.State.RamSize != want {
		t.Errorf("RamSize = %d, want %d", loaded.State.RamSize, want)
	}

	if loaded.State.ExtendedRamSize != loaded.State.RamSize {
		t.Errorf("ExtendedRamSize = %d, want %d (no imports)", loaded.State.ExtendedRamSize, loaded.State.RamSize)
	}
}

func TestLoadHonoursLargestOfRequestedHeaderAndImageSize(t *testing.T) {
	t.Parallel()

	data := buildImage(1<<20, 8, nil) // header declares 1 MiB

	loaded, err := image.Load(data, 4096)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.State.RamSize < 1<<20 {
		t.Errorf("RamSize = %d, want at least the header's declared 1MiB", loaded.State.RamSize)
	}
}

func TestLoadWalksImportTable(t *testing.T) {
	t.Parallel()

	data := buildImage(65536, 8, []string{"getId", "yield"})

	loaded, err := image.Load(data, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(loaded.Imports) != 2 {
		t.Fatalf("len(Imports) = %d, want 2", len(loaded.Imports))
	}

	if loaded.Imports[0].Name != "getId" || loaded.Imports[1].Name != "yield" {
		t.Errorf("Imports = %+v, want [getId yield]", loaded.Imports)
	}

	if loaded.State.ExtendedRamSize != loaded.State.RamSize+4*2 {
		t.Errorf("ExtendedRamSize = %d, want RamSize+8", loaded.State.ExtendedRamSize)
	}
}

func TestLinkRewritesTrampolineAndPreservesKeyPtr(t *testing.T) {
	t.Parallel()

	data := buildImage(65536, 8, []string{"getId"})

	loaded, err := image.Load(data, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	origKeyPtr := loaded.Imports[0].KeyPtr

	apiIndex := image.Link(loaded, func(name string) (thumb.HostFunc, bool) {
		if name == "getId" {
			return func(args thumb.Args) thumb.Result { return thumb.Uint32R(1) }, true
		}

		return nil, false
	})

	if len(apiIndex) != 1 {
		t.Fatalf("len(apiIndex) = %d, want 1", len(apiIndex))
	}

	s := loaded.State
	trampoline := s.Read32(loaded.Imports[0].SlotOffset)

	if trampoline != s.RamSize {
		t.Errorf("trampoline = %d, want %d", trampoline, s.RamSize)
	}

	if got := s.Read32(trampoline); got != origKeyPtr {
		t.Errorf("preserved key ptr = %d, want %d", got, origKeyPtr)
	}
}

func TestLinkSkipsUnresolvedImports(t *testing.T) {
	t.Parallel()

	data := buildImage(65536, 8, []string{"nonexistent"})

	loaded, err := image.Load(data, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	apiIndex := image.Link(loaded, func(name string) (thumb.HostFunc, bool) { return nil, false })

	if len(apiIndex) != 0 {
		t.Errorf("len(apiIndex) = %d, want 0", len(apiIndex))
	}

	// Slot keeps its original (non-trampoline) value.
	if got := loaded.State.Read32(loaded.Imports[0].SlotOffset); got != loaded.Imports[0].KeyPtr {
		t.Errorf("slot = %d, want unchanged key ptr %d", got, loaded.Imports[0].KeyPtr)
	}
}

func TestLoadUnterminatedImportTableTreatedAsTerminated(t *testing.T) {
	t.Parallel()

	// A table entry with no zero terminator and no room for one before
	// the image ends.
	data := buildImage(65536, 8, nil)
	binary.LittleEndian.PutUint32(data[12:16], 0xABCD1234)
	data = data[:16] // truncate right after the dangling entry

	loaded, err := image.Load(data, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(loaded.Imports) != 1 {
		t.Fatalf("len(Imports) = %d, want 1 (the dangling entry itself)", len(loaded.Imports))
	}
}
