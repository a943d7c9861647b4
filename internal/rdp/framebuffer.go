package rdp

import "fmt"

// FrameBuffer is the authoritative RGBA copy of the remote desktop. It
// is not safe for concurrent use; the owning Client serializes access.
type FrameBuffer struct {
	width  int
	height int
	pix    []byte
}

func NewFrameBuffer(width, height int) *FrameBuffer {
	return &FrameBuffer{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*4),
	}
}

func (fb *FrameBuffer) Width() int  { return fb.width }
func (fb *FrameBuffer) Height() int { return fb.height }

// Resize reallocates the buffer, discarding its contents. Used when the
// server renegotiates the desktop size.
func (fb *FrameBuffer) Resize(width, height int) {
	fb.width = width
	fb.height = height
	fb.pix = make([]byte, width*height*4)
}

// Blit converts one decoded rectangle to RGBA and copies it in,
// clipping anything that falls outside the desktop.
func (fb *FrameBuffer) Blit(x, y, width, height, bitsPerPixel int, data []byte) error {
	bytesPerPixel := bitsPerPixel / 8
	if bytesPerPixel < 1 || bytesPerPixel > 4 {
		return fmt.Errorf("rdp: cannot blit %d bpp pixel data", bitsPerPixel)
	}
	if len(data) < width*height*bytesPerPixel {
		return fmt.Errorf("rdp: blit data shorter than %dx%d at %d bpp", width, height, bitsPerPixel)
	}

	for row := 0; row < height; row++ {
		dy := y + row
		if dy < 0 || dy >= fb.height {
			continue
		}
		for col := 0; col < width; col++ {
			dx := x + col
			if dx < 0 || dx >= fb.width {
				continue
			}
			src := (row*width + col) * bytesPerPixel
			r, g, b := decodePixel(data[src:src+bytesPerPixel], bitsPerPixel)
			dst := (dy*fb.width + dx) * 4
			fb.pix[dst] = r
			fb.pix[dst+1] = g
			fb.pix[dst+2] = b
			fb.pix[dst+3] = 0xff
		}
	}
	return nil
}

func decodePixel(p []byte, bitsPerPixel int) (r, g, b byte) {
	switch bitsPerPixel {
	case 32, 24:
		// BGRX / BGR
		return p[2], p[1], p[0]
	case 16:
		// RGB 5-6-5
		v := uint16(p[0]) | uint16(p[1])<<8
		r = byte(v >> 11 & 0x1f << 3)
		g = byte(v >> 5 & 0x3f << 2)
		b = byte(v & 0x1f << 3)
		return r | r>>5, g | g>>6, b | b>>5
	case 15:
		// RGB 5-5-5
		v := uint16(p[0]) | uint16(p[1])<<8
		r = byte(v >> 10 & 0x1f << 3)
		g = byte(v >> 5 & 0x1f << 3)
		b = byte(v & 0x1f << 3)
		return r | r>>5, g | g>>5, b | b>>5
	default:
		// palettized data without a palette, render as grayscale
		return p[0], p[0], p[0]
	}
}

// Extract copies the RGBA pixels of r out of the buffer. The rectangle
// is clamped to the desktop first; a fully out-of-bounds rectangle
// yields nil.
func (fb *FrameBuffer) Extract(r Rect) []byte {
	r = r.Clamp(fb.width, fb.height)
	if r.Empty() {
		return nil
	}
	out := make([]byte, r.Width*r.Height*4)
	for row := 0; row < r.Height; row++ {
		src := ((r.Y+row)*fb.width + r.X) * 4
		copy(out[row*r.Width*4:], fb.pix[src:src+r.Width*4])
	}
	return out
}

// Snapshot copies the whole desktop.
func (fb *FrameBuffer) Snapshot() []byte {
	out := make([]byte, len(fb.pix))
	copy(out, fb.pix)
	return out
}
