package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/vova616/screenshot"
)

// screenSizes are the preview sizes offered when they fit on the screen.
var screenSizes = []image.Point{
	image.Pt(640, 480), image.Pt(800, 600), image.Pt(1280, 720), image.Pt(1920, 1080),
}

// ScreenProvider exposes the primary screen as a single back-facing camera,
// so codes shown on the desktop can be scanned. Each frame is the centered
// screen region of the preview size.
type ScreenProvider struct {
	mu       sync.Mutex
	interval time.Duration
	open     *device
}

// NewScreenProvider creates a screen camera producing a frame per interval.
func NewScreenProvider(interval time.Duration) *ScreenProvider {
	return &ScreenProvider{interval: interval}
}

func (p *ScreenProvider) NumCameras() int { return 1 }

func (p *ScreenProvider) Info(id int) (Info, error) {
	if id != 0 {
		return Info{}, fmt.Errorf("%w: %d", ErrNoSuchCamera, id)
	}
	return Info{Facing: Back, Orientation: 0}, nil
}

func (p *ScreenProvider) Open(id int) (Device, error) {
	if id != 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchCamera, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open != nil && !p.open.isReleased() {
		return nil, fmt.Errorf("%w: %d", ErrInUse, id)
	}
	screen, err := screenshot.ScreenRect()
	if err != nil {
		return nil, fmt.Errorf("open screen camera: %w", err)
	}
	params := &Parameters{
		SupportedPreviewSizes: screenPreviewSizes(screen),
		SupportedFocusModes:   []string{FocusModeFixed},
		FocusMode:             FocusModeFixed,
	}
	params.PreviewSize = params.SupportedPreviewSizes[0]
	d := newDevice("screen camera", params, p.interval, func(size image.Point) ([]byte, error) {
		img, err := screenshot.CaptureRect(centeredRect(screen, size))
		if err != nil {
			return nil, err
		}
		return NV21FromImage(img, size), nil
	})
	p.open = d
	debug.Info("Screen camera opened (%dx%d)", screen.Dx(), screen.Dy())
	return d, nil
}

// screenPreviewSizes lists the standard sizes fitting in screen, plus the
// full screen size itself.
func screenPreviewSizes(screen image.Rectangle) []image.Point {
	var sizes []image.Point
	for _, s := range screenSizes {
		if s.X <= screen.Dx() && s.Y <= screen.Dy() {
			sizes = append(sizes, s)
		}
	}
	full := screen.Size()
	if !containsSize(sizes, full) {
		sizes = append(sizes, full)
	}
	return sizes
}

// centeredRect is the rectangle of size centered in screen, clipped to it.
func centeredRect(screen image.Rectangle, size image.Point) image.Rectangle {
	origin := screen.Min.Add(screen.Size().Sub(size).Div(2))
	return image.Rectangle{Min: origin, Max: origin.Add(size)}.Intersect(screen)
}

func (d *device) isReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

var _ Provider = (*ScreenProvider)(nil)
