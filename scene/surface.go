package scene

import "sync"

// Rect is an inclusive-exclusive bounding box in pixel coordinates.
// An Empty Rect has no bounds set yet.
type Rect struct {
	MinX, MinY, MaxX, MaxY int32
	Empty                  bool
}

func (r *Rect) grow(x, y, w, h int32) {
	if r.Empty {
		*r = Rect{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}

		return
	}

	if x < r.MinX {
		r.MinX = x
	}

	if y < r.MinY {
		r.MinY = y
	}

	if x+w > r.MaxX {
		r.MaxX = x + w
	}

	if y+h > r.MaxY {
		r.MaxY = y + h
	}
}

// Surface is a width x height buffer of 32-bit pixels (§3 "Surface"). Its
// dirty rect accumulates the bounding box of every write since the last
// renderer upload, and is cleared by the renderer (here, by UploadClear)
// after upload.
type Surface struct {
	Width, Height uint32

	mu     sync.RWMutex
	pixels []uint32
	dirty  Rect

	// TextureHandle is the host-side (renderer) texture identity; this
	// module never populates it with a real GL handle, matching §1's
	// "OpenGL renderer... out of scope" boundary.
	TextureHandle uint64
}

// NewSurface allocates a zeroed width x height pixel buffer.
func NewSurface(width, height uint32) *Surface {
	return &Surface{
		Width:  width,
		Height: height,
		pixels: make([]uint32, int(width)*int(height)),
		dirty:  Rect{Empty: true},
	}
}

// WritePixels copies src (row-major, w*h pixels) into the rectangle at
// (x, y), growing the dirty rect to cover it. Out-of-bounds writes are
// clipped silently, matching this module's "host-API misuse recovers
// locally" posture (§7).
func (s *Surface) WritePixels(x, y int32, w, h uint32, src []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for row := uint32(0); row < h; row++ {
		dy := y + int32(row)
		if dy < 0 || dy >= int32(s.Height) {
			continue
		}

		for col := uint32(0); col < w; col++ {
			dx := x + int32(col)
			if dx < 0 || dx >= int32(s.Width) {
				continue
			}

			idx := row*w + col
			if idx >= uint32(len(src)) {
				continue
			}

			s.pixels[uint32(dy)*s.Width+uint32(dx)] = src[idx]
		}
	}

	s.dirty.grow(x, y, int32(w), int32(h))
}

// Dirty returns the bounding box of writes since the last UploadClear.
func (s *Surface) Dirty() Rect {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dirty
}

// UploadClear returns the current dirty rect and resets it, standing in
// for the renderer's post-upload acknowledgement (§3 invariant).
func (s *Surface) UploadClear() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.dirty
	s.dirty = Rect{Empty: true}

	return r
}

// Pixels returns a copy of the full pixel buffer, for tests/inspection.
func (s *Surface) Pixels() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint32, len(s.pixels))
	copy(out, s.pixels)

	return out
}
