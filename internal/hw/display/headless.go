package display

import (
	"image"
	"sync"
	"sync/atomic"
)

// HeadlessSurface is a surface with no pixels behind it. Devices that bind to
// it still run their preview, which is all a headless scanner needs.
type HeadlessSurface struct {
	valid atomic.Bool
}

func (s *HeadlessSurface) Valid() bool { return s.valid.Load() }

// Holder is a SurfaceHolder delivering notifications in order on its own
// goroutine, the way a windowing system delivers them on its UI thread.
type Holder struct {
	mu        sync.Mutex
	surface   *HeadlessSurface
	size      image.Point
	callbacks []SurfaceCallback
	queue     chan func()
	closed    bool
}

// NewHolder starts the dispatch goroutine. Call Close to stop it.
func NewHolder() *Holder {
	h := &Holder{queue: make(chan func(), 64)}
	go func() {
		for fn := range h.queue {
			fn()
		}
	}()
	return h
}

func (h *Holder) Surface() Surface {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.surface == nil {
		return nil
	}
	return h.surface
}

func (h *Holder) AddCallback(cb SurfaceCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.callbacks {
		if c == cb {
			return
		}
	}
	h.callbacks = append(h.callbacks, cb)
	if s := h.surface; s != nil && s.Valid() && !h.closed {
		h.queue <- func() { cb.SurfaceCreated(s) }
	}
}

func (h *Holder) RemoveCallback(cb SurfaceCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.callbacks {
		if c == cb {
			h.callbacks = append(h.callbacks[:i], h.callbacks[i+1:]...)
			return
		}
	}
}

// Create brings up a surface of the given size and notifies callbacks.
func (h *Holder) Create(size image.Point) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &HeadlessSurface{}
	s.valid.Store(true)
	h.surface = s
	h.size = size
	h.dispatchLocked(func(cb SurfaceCallback) { cb.SurfaceCreated(s) })
}

// Change reports a format or size change. valid=false simulates a surface
// that went away without a destroy notification.
func (h *Holder) Change(size image.Point, valid bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.surface == nil {
		h.surface = &HeadlessSurface{}
	}
	s := h.surface
	s.valid.Store(valid)
	h.size = size
	h.dispatchLocked(func(cb SurfaceCallback) { cb.SurfaceChanged(s, size.X, size.Y) })
}

// Destroy invalidates the surface and notifies callbacks.
func (h *Holder) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.surface
	if s == nil {
		return
	}
	s.valid.Store(false)
	h.surface = nil
	h.dispatchLocked(func(cb SurfaceCallback) { cb.SurfaceDestroyed(s) })
}

func (h *Holder) dispatchLocked(fn func(cb SurfaceCallback)) {
	if h.closed {
		return
	}
	cbs := append([]SurfaceCallback(nil), h.callbacks...)
	h.queue <- func() {
		for _, cb := range cbs {
			fn(cb)
		}
	}
}

// Close stops the dispatch goroutine. The holder must not be used afterwards.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.queue)
}

// Headless is a View with a fixed viewport and a Holder, for running the
// scanner without a UI (CLI, web control surface, tests).
type Headless struct {
	mu        sync.Mutex
	size      image.Point
	laidOut   bool
	onLayout  func(image.Point)
	rotation  int
	square    bool
	frameSize image.Point
	holder    *Holder
}

// NewHeadless creates a view. A zero size means "not laid out yet"; call
// Layout later to provide it.
func NewHeadless(size image.Point, rotation int, square bool) *Headless {
	return &Headless{
		size:     size,
		laidOut:  size.X > 0 && size.Y > 0,
		rotation: rotation,
		square:   square,
		holder:   NewHolder(),
	}
}

func (v *Headless) Size() (image.Point, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.size, v.laidOut
}

// OnLayout fires fn once with the first known size. If the view is already
// laid out, fn runs right away on a new goroutine so a layout racing with
// registration is never lost.
func (v *Headless) OnLayout(fn func(image.Point)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.laidOut {
		size := v.size
		go fn(size)
		return
	}
	v.onLayout = fn
}

// Layout sets the viewport size and fires a pending layout listener.
func (v *Headless) Layout(size image.Point) {
	v.mu.Lock()
	v.size = size
	v.laidOut = true
	fn := v.onLayout
	v.onLayout = nil
	v.mu.Unlock()
	if fn != nil {
		fn(size)
	}
}

func (v *Headless) Rotation() int { return v.rotation }

func (v *Headless) SquareFrame() bool { return v.square }

func (v *Headless) SetFrameSize(size image.Point) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frameSize = size
}

// FrameSize returns the size last set by SetFrameSize.
func (v *Headless) FrameSize() image.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frameSize
}

func (v *Headless) Holder() SurfaceHolder { return v.holder }

// Surfaces exposes the concrete holder to drive surface lifecycle.
func (v *Headless) Surfaces() *Holder { return v.holder }

// Close releases the holder's dispatch goroutine.
func (v *Headless) Close() { v.holder.Close() }

var (
	_ View          = (*Headless)(nil)
	_ SurfaceHolder = (*Holder)(nil)
)
