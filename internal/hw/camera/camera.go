// Package camera is the capture-resource API the scanner consumes:
// enumerate and open devices, read and apply their parameters, bind the
// preview to a display surface and receive raw preview frames.
package camera

import (
	"errors"
	"image"

	"github.com/cjeanneret/ScanGo/internal/hw/display"
)

// Facing tells which side of the host a camera looks at.
type Facing int

const (
	Back Facing = iota
	Front
)

func (f Facing) String() string {
	if f == Front {
		return "front"
	}
	return "back"
}

// ParseFacing converts "back"/"front".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "":
		return Back, nil
	case "front":
		return Front, nil
	}
	return Back, errors.New("camera: unknown facing " + s)
}

// Info is the static description of a camera, available without opening it.
type Info struct {
	Facing Facing
	// Orientation is the clockwise angle the sensor image must be rotated to
	// be upright in the device's natural orientation (0, 90, 180, 270).
	Orientation int
}

// Focus modes.
const (
	FocusModeAuto              = "auto"
	FocusModeContinuousPicture = "continuous-picture"
	FocusModeContinuousVideo   = "continuous-video"
	FocusModeFixed             = "fixed"
)

// Parameters are a device's capabilities and current settings.
type Parameters struct {
	PreviewSize           image.Point
	SupportedPreviewSizes []image.Point
	FocusMode             string
	SupportedFocusModes   []string
}

// Clone returns a deep copy.
func (p *Parameters) Clone() *Parameters {
	c := *p
	c.SupportedPreviewSizes = append([]image.Point(nil), p.SupportedPreviewSizes...)
	c.SupportedFocusModes = append([]string(nil), p.SupportedFocusModes...)
	return &c
}

// SupportsFocusMode reports whether mode is in SupportedFocusModes.
func (p *Parameters) SupportsFocusMode(mode string) bool {
	for _, m := range p.SupportedFocusModes {
		if m == mode {
			return true
		}
	}
	return false
}

// FrameCallback receives raw NV21 preview frames (Y plane first) on a
// device-owned goroutine. The slice must not be retained after return unless
// copied; devices allocate a fresh slice per frame.
type FrameCallback func(frame []byte)

// Device is an opened capture resource.
type Device interface {
	Parameters() (*Parameters, error)
	SetParameters(p *Parameters) error
	SetDisplayOrientation(degrees int) error
	SetPreviewDisplay(s display.Surface) error
	StartPreview() error
	StopPreview() error
	// SetPreviewCallback registers cb for frame delivery; nil clears it.
	SetPreviewCallback(cb FrameCallback)
	Release() error
}

// Provider enumerates and opens devices.
type Provider interface {
	NumCameras() int
	Info(id int) (Info, error)
	Open(id int) (Device, error)
}

var (
	ErrNoSuchCamera = errors.New("camera: no such camera")
	ErrInUse        = errors.New("camera: device already open")
	ErrReleased     = errors.New("camera: device released")
	ErrNoSurface    = errors.New("camera: invalid preview surface")
	ErrUnsupported  = errors.New("camera: unsupported parameter")
)
