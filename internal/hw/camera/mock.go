package camera

import (
	"fmt"
	"image"
	_ "image/jpeg" // still images for the mock camera
	_ "image/png"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/ScanGo/internal/debug"
)

// MockSpec describes one simulated camera.
type MockSpec struct {
	Info         Info
	PreviewSizes []image.Point
	FocusModes   []string
	// OpenErr makes Open fail; ParametersErr makes Parameters fail.
	OpenErr       error
	ParametersErr error
}

// DefaultMockSpec is a back-facing camera mounted at 90° with common sizes.
func DefaultMockSpec() MockSpec {
	return MockSpec{
		Info: Info{Facing: Back, Orientation: 90},
		PreviewSizes: []image.Point{
			image.Pt(320, 240), image.Pt(640, 480), image.Pt(1280, 720), image.Pt(1920, 1080),
		},
		FocusModes: []string{FocusModeAuto, FocusModeContinuousPicture, FocusModeFixed},
	}
}

// MockProvider simulates a set of cameras "filming" a still image (or a flat
// grey field). With a zero frame interval no frames are produced on their
// own; tests push them with MockDevice.Emit.
type MockProvider struct {
	mu       sync.Mutex
	specs    []MockSpec
	interval time.Duration
	still    image.Image
	devices  map[int]*MockDevice
	opens    atomic.Int32
}

// NewMockProvider creates a provider for the given cameras.
func NewMockProvider(interval time.Duration, specs ...MockSpec) *MockProvider {
	return &MockProvider{specs: specs, interval: interval, devices: make(map[int]*MockDevice)}
}

// SetStill sets the image every frame is rendered from.
func (p *MockProvider) SetStill(img image.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.still = img
}

// LoadStill decodes a PNG or JPEG file and uses it as the filmed image.
func (p *MockProvider) LoadStill(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open still image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode still image: %w", err)
	}
	p.SetStill(img)
	debug.Verbose("Mock camera: filming %s (%dx%d)", path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func (p *MockProvider) NumCameras() int { return len(p.specs) }

func (p *MockProvider) Info(id int) (Info, error) {
	if id < 0 || id >= len(p.specs) {
		return Info{}, fmt.Errorf("%w: %d", ErrNoSuchCamera, id)
	}
	return p.specs[id].Info, nil
}

func (p *MockProvider) Open(id int) (Device, error) {
	if id < 0 || id >= len(p.specs) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchCamera, id)
	}
	spec := p.specs[id]
	if spec.OpenErr != nil {
		return nil, fmt.Errorf("open camera %d: %w", id, spec.OpenErr)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.devices[id]; ok && !d.Released() {
		return nil, fmt.Errorf("%w: %d", ErrInUse, id)
	}
	params := &Parameters{
		SupportedPreviewSizes: append([]image.Point(nil), spec.PreviewSizes...),
		SupportedFocusModes:   append([]string(nil), spec.FocusModes...),
	}
	if len(spec.PreviewSizes) > 0 {
		params.PreviewSize = spec.PreviewSizes[0]
	}
	if len(spec.FocusModes) > 0 {
		params.FocusMode = spec.FocusModes[0]
	}
	still := p.still
	md := &MockDevice{}
	md.device = newDevice(fmt.Sprintf("mock camera %d", id), params, p.interval, func(size image.Point) ([]byte, error) {
		md.frames.Add(1)
		return NV21FromImage(still, size), nil
	})
	if spec.ParametersErr != nil {
		md.faults["parameters"] = spec.ParametersErr
	}
	md.onRelease = func() { md.releases.Add(1) }
	p.devices[id] = md
	p.opens.Add(1)
	debug.Info("Mock camera %d opened (%s, mounted %d°)", id, spec.Info.Facing, spec.Info.Orientation)
	return md, nil
}

// Opens returns how many times a device was successfully opened.
func (p *MockProvider) Opens() int { return int(p.opens.Load()) }

// Device returns the device last opened for id, or nil.
func (p *MockProvider) Device(id int) *MockDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices[id]
}

// MockDevice is an opened simulated camera.
type MockDevice struct {
	*device
	releases atomic.Int32
	frames   atomic.Int32
}

// FailOn injects err into every subsequent call of op ("start-preview",
// "stop-preview", "set-preview-display", "parameters", ...). nil clears it.
func (d *MockDevice) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.faults, op)
		return
	}
	d.faults[op] = err
}

// Calls returns the recorded operations in order.
func (d *MockDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// ResetCalls clears the recorded operations.
func (d *MockDevice) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Releases counts effective hardware releases.
func (d *MockDevice) Releases() int { return int(d.releases.Load()) }

// Released reports whether Release succeeded.
func (d *MockDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Previewing reports whether the preview is running.
func (d *MockDevice) Previewing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previewing
}

// HasCallback reports whether a frame callback is registered.
func (d *MockDevice) HasCallback() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callback != nil
}

// Orientation returns the applied display orientation.
func (d *MockDevice) Orientation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientation
}

// Current returns a copy of the applied parameters.
func (d *MockDevice) Current() *Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params.Clone()
}

// Emit delivers one frame synchronously on the caller's goroutine, as the
// hardware frame thread would. It reports whether a callback received it.
func (d *MockDevice) Emit() bool { return d.deliver() }

var (
	_ Provider = (*MockProvider)(nil)
	_ Device   = (*MockDevice)(nil)
)
