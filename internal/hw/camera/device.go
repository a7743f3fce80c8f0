package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/display"
)

// device holds the state machine shared by the concrete drivers: parameters,
// surface binding, preview on/off, frame delivery and release. Drivers only
// supply the frame grabber.
type device struct {
	mu          sync.Mutex
	name        string
	params      *Parameters
	orientation int
	surface     display.Surface
	previewing  bool
	callback    FrameCallback
	released    bool
	interval    time.Duration
	grab        func(size image.Point) ([]byte, error)
	faults      map[string]error
	calls       []string
	stop        chan struct{}
	onRelease   func()
}

func newDevice(name string, params *Parameters, interval time.Duration, grab func(image.Point) ([]byte, error)) *device {
	return &device{
		name:     name,
		params:   params,
		interval: interval,
		grab:     grab,
		faults:   make(map[string]error),
	}
}

// enter records op and returns the injected fault or ErrReleased.
func (d *device) enterLocked(op string) error {
	d.calls = append(d.calls, op)
	if d.released && op != "release" {
		return ErrReleased
	}
	if err := d.faults[op]; err != nil {
		return fmt.Errorf("%s: %s: %w", d.name, op, err)
	}
	return nil
}

func (d *device) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("parameters"); err != nil {
		return nil, err
	}
	return d.params.Clone(), nil
}

func (d *device) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("set-parameters"); err != nil {
		return err
	}
	if !containsSize(d.params.SupportedPreviewSizes, p.PreviewSize) {
		return fmt.Errorf("%w: preview size %dx%d", ErrUnsupported, p.PreviewSize.X, p.PreviewSize.Y)
	}
	if p.FocusMode != "" && !d.params.SupportsFocusMode(p.FocusMode) {
		return fmt.Errorf("%w: focus mode %q", ErrUnsupported, p.FocusMode)
	}
	d.params.PreviewSize = p.PreviewSize
	d.params.FocusMode = p.FocusMode
	debug.Verbose("%s: preview size %dx%d, focus %q", d.name, p.PreviewSize.X, p.PreviewSize.Y, p.FocusMode)
	return nil
}

func (d *device) SetDisplayOrientation(degrees int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("set-display-orientation"); err != nil {
		return err
	}
	if degrees%90 != 0 || degrees < 0 || degrees >= 360 {
		return fmt.Errorf("%w: display orientation %d", ErrUnsupported, degrees)
	}
	d.orientation = degrees
	return nil
}

func (d *device) SetPreviewDisplay(s display.Surface) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("set-preview-display"); err != nil {
		return err
	}
	if s == nil || !s.Valid() {
		return ErrNoSurface
	}
	d.surface = s
	return nil
}

func (d *device) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("start-preview"); err != nil {
		return err
	}
	if d.previewing {
		return nil
	}
	d.previewing = true
	if d.interval > 0 {
		d.stop = make(chan struct{})
		go d.pump(d.stop, d.interval)
	}
	debug.Verbose("%s: preview started", d.name)
	return nil
}

func (d *device) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enterLocked("stop-preview"); err != nil {
		return err
	}
	d.haltLocked()
	return nil
}

func (d *device) haltLocked() {
	if !d.previewing {
		return
	}
	d.previewing = false
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	debug.Verbose("%s: preview stopped", d.name)
}

func (d *device) SetPreviewCallback(cb FrameCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb == nil {
		d.calls = append(d.calls, "clear-preview-callback")
	} else {
		d.calls = append(d.calls, "set-preview-callback")
	}
	d.callback = cb
}

func (d *device) Release() error {
	d.mu.Lock()
	if err := d.enterLocked("release"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.released {
		d.mu.Unlock()
		return ErrReleased
	}
	d.haltLocked()
	d.callback = nil
	d.surface = nil
	d.released = true
	onRelease := d.onRelease
	d.mu.Unlock()
	debug.Info("%s: released", d.name)
	if onRelease != nil {
		onRelease()
	}
	return nil
}

func (d *device) pump(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.deliver()
		}
	}
}

// deliver grabs one frame and hands it to the callback, outside the lock.
func (d *device) deliver() bool {
	d.mu.Lock()
	if !d.previewing || d.callback == nil || d.released {
		d.mu.Unlock()
		return false
	}
	cb, size := d.callback, d.params.PreviewSize
	d.mu.Unlock()

	frame, err := d.grab(size)
	if err != nil {
		debug.Trace("%s: grab failed: %v", d.name, err)
		return false
	}
	cb(frame)
	return true
}

func containsSize(sizes []image.Point, p image.Point) bool {
	for _, s := range sizes {
		if s == p {
			return true
		}
	}
	return false
}
