package geometry

import (
	"image"
	"math"
)

const (
	// MinPreviewPixels discards tiny preview sizes when anything bigger exists.
	MinPreviewPixels = 480 * 320
	// MaxAspectDistortion is the largest aspect ratio difference still
	// considered a match for the requested viewport.
	MaxAspectDistortion = 0.15
)

// Geometry is the capture configuration chosen for a session.
type Geometry struct {
	PreviewSize        image.Point // sensor resolution, landscape-first
	FrameSize          image.Point // frame of interest, in display orientation
	DisplayOrientation int         // 0, 90, 180 or 270
}

// OrientedPreview returns the preview size as seen after applying the
// display orientation.
func (g Geometry) OrientedPreview() image.Point {
	if IsQuarterTurn(g.DisplayOrientation) {
		return Swap(g.PreviewSize)
	}
	return g.PreviewSize
}

// FrameRect returns the frame of interest centered in the oriented preview.
func (g Geometry) FrameRect() image.Rectangle {
	return FrameRect(g.FrameSize, g.OrientedPreview())
}

// Request carries the inputs of a geometry resolution.
type Request struct {
	Viewport  image.Point   // host view size, as laid out
	Rotation  int           // host display rotation in degrees
	Mount     int           // sensor mount orientation in degrees
	Front     bool          // front-facing (mirrored) camera
	Square    bool          // square frame of interest
	Supported []image.Point // supported preview sizes
	Current   image.Point   // device default, used when nothing is supported
}

// Resolve picks the preview size and frame of interest for r.
//
// A portrait viewport is queried as (height, width), since sensors report
// sizes landscape-first. The frame of interest is fitted in the preview as
// it will be displayed, i.e. swapped for quarter-turn orientations.
func Resolve(r Request) Geometry {
	orientation := DisplayOrientation(r.Rotation, r.Mount, r.Front)
	query := r.Viewport
	if IsPortrait(r.Viewport) {
		query = Swap(r.Viewport)
	}
	preview := BestPreviewSize(r.Supported, r.Current, query)
	g := Geometry{PreviewSize: preview, DisplayOrientation: orientation}
	g.FrameSize = FrameSize(g.OrientedPreview(), r.Viewport, r.Square)
	return g
}

// BestPreviewSize selects from supported the size to stream at for a
// landscape-first viewport want.
//
// An exact match wins. Otherwise sizes under MinPreviewPixels are dropped
// (unless nothing else remains); among sizes within MaxAspectDistortion of
// want's aspect ratio the largest one wins; if none is within tolerance the
// smallest distortion wins, larger pixel count breaking ties. Earlier list
// entries win complete ties. An empty list yields fallback.
func BestPreviewSize(supported []image.Point, fallback, want image.Point) image.Point {
	if len(supported) == 0 {
		return fallback
	}
	for _, s := range supported {
		if s == want {
			return s
		}
	}
	candidates := make([]image.Point, 0, len(supported))
	for _, s := range supported {
		if s.X*s.Y >= MinPreviewPixels {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		candidates = supported
	}

	wantAspect := aspect(want)
	best := candidates[0]
	bestDist := distortion(best, wantAspect)
	for _, c := range candidates[1:] {
		d := distortion(c, wantAspect)
		if better(c, d, best, bestDist) {
			best, bestDist = c, d
		}
	}
	return best
}

func better(c image.Point, d float64, best image.Point, bestDist float64) bool {
	cWithin, bestWithin := d <= MaxAspectDistortion, bestDist <= MaxAspectDistortion
	switch {
	case cWithin != bestWithin:
		return cWithin
	case cWithin:
		return pixels(c) > pixels(best)
	case d != bestDist:
		return d < bestDist
	default:
		return pixels(c) > pixels(best)
	}
}

// FrameSize is the largest rectangle with viewport's aspect ratio (or a
// square) fitting in preview. Both sizes are in display orientation.
func FrameSize(preview, viewport image.Point, square bool) image.Point {
	if square {
		s := min(preview.X, preview.Y)
		return image.Pt(s, s)
	}
	if viewport.X <= 0 || viewport.Y <= 0 {
		return preview
	}
	// Compare preview.X/preview.Y with viewport.X/viewport.Y without floats.
	if preview.X*viewport.Y <= preview.Y*viewport.X {
		return image.Pt(preview.X, preview.X*viewport.Y/viewport.X)
	}
	return image.Pt(preview.Y*viewport.X/viewport.Y, preview.Y)
}

// FrameRect centers a frame of the given size in bounds.
func FrameRect(frame, bounds image.Point) image.Rectangle {
	frame = image.Pt(min(frame.X, bounds.X), min(frame.Y, bounds.Y))
	origin := bounds.Sub(frame).Div(2)
	return image.Rectangle{Min: origin, Max: origin.Add(frame)}
}

// DisplayOrientation computes the clockwise rotation to apply to the preview
// so it appears upright on a display rotated by rotation degrees, for a
// sensor mounted at mount degrees. Front cameras are mirrored.
func DisplayOrientation(rotation, mount int, front bool) int {
	rotation = NormalizeDegrees(rotation)
	mount = NormalizeDegrees(mount)
	if front {
		return (360 - (mount+rotation)%360) % 360
	}
	return (mount - rotation + 360) % 360
}

// NormalizeDegrees maps any angle to the nearest of 0, 90, 180, 270.
func NormalizeDegrees(degrees int) int {
	d := ((degrees % 360) + 360) % 360
	return (d + 45) / 90 * 90 % 360
}

// IsQuarterTurn reports whether orientation swaps width and height.
func IsQuarterTurn(orientation int) bool {
	o := NormalizeDegrees(orientation)
	return o == 90 || o == 270
}

// IsPortrait reports whether a viewport is taller than wide.
func IsPortrait(viewport image.Point) bool {
	return viewport.Y > viewport.X
}

// Swap exchanges width and height.
func Swap(p image.Point) image.Point {
	return image.Pt(p.Y, p.X)
}

func aspect(p image.Point) float64 {
	if p.Y == 0 {
		return 0
	}
	return float64(p.X) / float64(p.Y)
}

func distortion(p image.Point, wantAspect float64) float64 {
	return math.Abs(aspect(p) - wantAspect)
}

func pixels(p image.Point) int {
	return p.X * p.Y
}
