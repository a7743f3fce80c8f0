package decode

import (
	"fmt"
	"image"
)

// orient extracts the Y plane of an NV21 frame and rotates it clockwise by
// degrees so that it matches what the user sees.
func orient(frame []byte, size image.Point, degrees int) ([]byte, image.Point, error) {
	n := size.X * size.Y
	if size.X <= 0 || size.Y <= 0 || len(frame) < n {
		return nil, image.Point{}, fmt.Errorf("%w: %d bytes for %dx%d", ErrShortFrame, len(frame), size.X, size.Y)
	}
	lum := frame[:n]
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return rotate90(lum, size), image.Pt(size.Y, size.X), nil
	case 180:
		return rotate180(lum, size), size, nil
	case 270:
		return rotate270(lum, size), image.Pt(size.Y, size.X), nil
	default:
		return lum, size, nil
	}
}

func rotate90(src []byte, size image.Point) []byte {
	w, h := size.X, size.Y
	dst := make([]byte, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x, v := range row {
			dst[x*h+(h-1-y)] = v
		}
	}
	return dst
}

func rotate180(src []byte, size image.Point) []byte {
	dst := make([]byte, len(src))
	last := len(src) - 1
	for i, v := range src {
		dst[last-i] = v
	}
	return dst
}

func rotate270(src []byte, size image.Point) []byte {
	w, h := size.X, size.Y
	dst := make([]byte, len(src))
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x, v := range row {
			dst[(w-1-x)*h+y] = v
		}
	}
	return dst
}
