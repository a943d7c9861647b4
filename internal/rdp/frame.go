package rdp

import (
	"encoding/base64"

	"github.com/xuanvinh1997/open-term/internal/rdpwire"
)

// Rect is a dirty region in desktop coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// RectFromRegion converts a wire-level damaged region.
func RectFromRegion(r rdpwire.Region) Rect {
	return Rect{
		X:      int(r.Left),
		Y:      int(r.Top),
		Width:  int(r.Right) - int(r.Left),
		Height: int(r.Bottom) - int(r.Top),
	}
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Clamp restricts r to a width-by-height desktop.
func (r Rect) Clamp(width, height int) Rect {
	right := min(r.X+r.Width, width)
	bottom := min(r.Y+r.Height, height)
	x := max(r.X, 0)
	y := max(r.Y, 0)
	return Rect{X: x, Y: y, Width: right - x, Height: bottom - y}
}

// Union returns the bounding box of r and other.
func (r Rect) Union(other Rect) Rect {
	x := min(r.X, other.X)
	y := min(r.Y, other.Y)
	right := max(r.X+r.Width, other.X+other.Width)
	bottom := max(r.Y+r.Height, other.Y+other.Height)
	return Rect{X: x, Y: y, Width: right - x, Height: bottom - y}
}

// Touches reports whether r and other overlap or share an edge, i.e.
// whether merging them loses nothing but the gap.
func (r Rect) Touches(other Rect) bool {
	return r.X <= other.X+other.Width && other.X <= r.X+r.Width &&
		r.Y <= other.Y+other.Height && other.Y <= r.Y+r.Height
}

// DirtyRect is one changed region with its pixel payload, ready for
// serialization to a frame consumer.
type DirtyRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
	// Data is base64-encoded RGBA, Width*Height*4 bytes decoded.
	Data string `json:"data"`
}

// NewDirtyRect encodes raw RGBA pixels for r.
func NewDirtyRect(r Rect, pixels []byte) DirtyRect {
	return DirtyRect{
		X:      r.X,
		Y:      r.Y,
		Width:  r.Width,
		Height: r.Height,
		Data:   base64.StdEncoding.EncodeToString(pixels),
	}
}

// FrameUpdate is one emission of the session worker. A full update
// carries the whole desktop as one encoded payload; a partial update
// carries only the regions that changed since the previous one.
type FrameUpdate struct {
	Type string `json:"type"`

	// Full updates
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   string `json:"data,omitempty"`

	// Partial updates
	Rects []DirtyRect `json:"rects,omitempty"`
}

const (
	FrameFull    = "full"
	FramePartial = "partial"
)

// NewFullFrame wraps a whole-desktop snapshot.
func NewFullFrame(width, height int, pixels []byte) FrameUpdate {
	return FrameUpdate{
		Type:   FrameFull,
		Width:  width,
		Height: height,
		Data:   base64.StdEncoding.EncodeToString(pixels),
	}
}

func NewPartialFrame(rects []DirtyRect) FrameUpdate {
	return FrameUpdate{Type: FramePartial, Rects: rects}
}
