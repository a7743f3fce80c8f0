package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/cjeanneret/ScanGo/internal/debug"
	"github.com/cjeanneret/ScanGo/internal/hw/camera"
	"github.com/cjeanneret/ScanGo/internal/logic/geometry"
)

var (
	// ErrResourceUnavailable means no matching camera exists or opening it failed.
	ErrResourceUnavailable = errors.New("scanner: capture resource unavailable")
	// ErrConfigurationUnreadable means the camera parameters could not be read.
	ErrConfigurationUnreadable = errors.New("scanner: capture configuration unreadable")
	// ErrConfigurationRejected means the camera refused the computed configuration.
	ErrConfigurationRejected = errors.New("scanner: capture configuration rejected")
)

// AnyBackCamera selects the first back-facing camera.
const AnyBackCamera = -1

// focusPreference lists focus modes from most to least suited to scanning.
var focusPreference = []string{
	camera.FocusModeContinuousPicture,
	camera.FocusModeContinuousVideo,
	camera.FocusModeAuto,
}

// Target is what an initialization is asked to configure.
type Target struct {
	Viewport image.Point // host view size as laid out
	Rotation int         // host display rotation
	CameraID int         // explicit index, or AnyBackCamera
	Square   bool        // square frame of interest
}

// Handle is an opened, fully configured device and its geometry.
type Handle struct {
	Device   camera.Device
	Info     camera.Info
	Geometry geometry.Geometry
}

// Initializer opens and configures a camera for a target viewport.
type Initializer struct {
	Provider camera.Provider
}

// Run performs one initialization. ctx is checked between hardware steps;
// a device opened by a cancelled run is released before returning.
func (in Initializer) Run(ctx context.Context, t Target) (*Handle, error) {
	debug.Section("Camera initialization")

	id, info, err := in.selectCamera(t.CameraID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	debug.Step(1, fmt.Sprintf("open camera %d (%s, mounted %d°)", id, info.Facing, info.Orientation))
	dev, err := in.Provider.Open(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}

	h, err := configure(ctx, dev, info, t)
	if err != nil {
		if rerr := dev.Release(); rerr != nil {
			debug.Error(fmt.Errorf("release after failed initialization: %w", rerr))
		}
		return nil, err
	}
	return h, nil
}

func (in Initializer) selectCamera(id int) (int, camera.Info, error) {
	if id != AnyBackCamera {
		info, err := in.Provider.Info(id)
		if err != nil {
			return 0, camera.Info{}, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
		}
		return id, info, nil
	}
	for i := 0; i < in.Provider.NumCameras(); i++ {
		info, err := in.Provider.Info(i)
		if err != nil {
			continue
		}
		if info.Facing == camera.Back {
			return i, info, nil
		}
	}
	return 0, camera.Info{}, fmt.Errorf("%w: no back-facing camera", ErrResourceUnavailable)
}

func configure(ctx context.Context, dev camera.Device, info camera.Info, t Target) (*Handle, error) {
	debug.Step(2, "read parameters")
	params, err := dev.Parameters()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUnreadable, err)
	}
	if params == nil {
		return nil, ErrConfigurationUnreadable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	geo := geometry.Resolve(geometry.Request{
		Viewport:  t.Viewport,
		Rotation:  t.Rotation,
		Mount:     info.Orientation,
		Front:     info.Facing == camera.Front,
		Square:    t.Square,
		Supported: params.SupportedPreviewSizes,
		Current:   params.PreviewSize,
	})
	debug.PrintStruct("Geometry", geo)

	debug.Step(3, "apply parameters")
	params.PreviewSize = geo.PreviewSize
	optimize(params)
	if err := dev.SetParameters(params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	debug.Step(4, fmt.Sprintf("display orientation %d°", geo.DisplayOrientation))
	if err := dev.SetDisplayOrientation(geo.DisplayOrientation); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Handle{Device: dev, Info: info, Geometry: geo}, nil
}

// optimize picks the best supported focus mode and leaves the current one
// when none of the preferred modes is available.
func optimize(p *camera.Parameters) {
	for _, mode := range focusPreference {
		if p.SupportsFocusMode(mode) {
			p.FocusMode = mode
			return
		}
	}
}
