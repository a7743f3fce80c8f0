package camera

import (
	"image"
	"image/color"
)

// NV21Size is the byte length of an NV21 frame of the given size.
func NV21Size(size image.Point) int {
	return size.X*size.Y + 2*((size.X+1)/2)*((size.Y+1)/2)
}

// NV21FromImage scales img to size (nearest neighbour) and encodes it as an
// NV21 frame. Chroma is neutral; scanners only read the Y plane.
func NV21FromImage(img image.Image, size image.Point) []byte {
	frame := make([]byte, NV21Size(size))
	ySize := size.X * size.Y
	for i := ySize; i < len(frame); i++ {
		frame[i] = 0x80
	}
	if img == nil {
		for i := 0; i < ySize; i++ {
			frame[i] = 0x80
		}
		return frame
	}
	b := img.Bounds()
	rgba, fast := img.(*image.RGBA)
	for y := 0; y < size.Y; y++ {
		sy := b.Min.Y + y*b.Dy()/size.Y
		for x := 0; x < size.X; x++ {
			sx := b.Min.X + x*b.Dx()/size.X
			if fast {
				off := rgba.PixOffset(sx, sy)
				r, g, bl := uint32(rgba.Pix[off]), uint32(rgba.Pix[off+1]), uint32(rgba.Pix[off+2])
				frame[y*size.X+x] = uint8((19595*r*0x101 + 38470*g*0x101 + 7471*bl*0x101 + 1<<15) >> 24)
				continue
			}
			frame[y*size.X+x] = color.GrayModel.Convert(img.At(sx, sy)).(color.Gray).Y
		}
	}
	return frame
}
