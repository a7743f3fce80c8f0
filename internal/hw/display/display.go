// Package display models the host UI the preview is shown in: a view with a
// (possibly not yet known) size and a surface whose lifecycle is driven by
// the host, independently of the capture session.
package display

import "image"

// Surface is an output the capture device renders its preview into.
type Surface interface {
	Valid() bool
}

// SurfaceCallback receives surface lifecycle notifications. Implementations
// must tolerate being called from any goroutine, in any order, repeatedly.
type SurfaceCallback interface {
	SurfaceCreated(s Surface)
	SurfaceChanged(s Surface, width, height int)
	SurfaceDestroyed(s Surface)
}

// SurfaceHolder owns a surface and dispatches its lifecycle notifications.
type SurfaceHolder interface {
	// Surface returns the current surface, or nil if none exists.
	Surface() Surface
	// AddCallback registers cb. If a valid surface already exists, cb
	// receives SurfaceCreated for it.
	AddCallback(cb SurfaceCallback)
	RemoveCallback(cb SurfaceCallback)
}

// View is the host widget the scanner is attached to.
type View interface {
	// Size returns the laid out size; ok is false before the first layout.
	Size() (size image.Point, ok bool)
	// OnLayout registers a one-shot listener fired with the first known size.
	OnLayout(fn func(size image.Point))
	// Rotation is the host display rotation in degrees.
	Rotation() int
	// SquareFrame reports whether the scanned region should be square.
	SquareFrame() bool
	// SetFrameSize tells the view which region is scanned, for its overlay.
	SetFrameSize(size image.Point)
	Holder() SurfaceHolder
}
