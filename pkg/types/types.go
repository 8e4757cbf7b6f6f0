package types

import "math"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Rect is an axis-aligned rectangle in display pixel coordinates
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the absolute horizontal extent
func (r Rect) Width() float64 {
	return math.Abs(r.X2 - r.X1)
}

// Height returns the absolute vertical extent
func (r Rect) Height() float64 {
	return math.Abs(r.Y2 - r.Y1)
}

// Normalize orders the corners so that X1<=X2 and Y1<=Y2
func (r Rect) Normalize() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// ScaleXY multiplies x coordinates by fx and y coordinates by fy
func (r Rect) ScaleXY(fx, fy float64) Rect {
	return Rect{X1: r.X1 * fx, Y1: r.Y1 * fy, X2: r.X2 * fx, Y2: r.Y2 * fy}
}

// Truncated returns the corners truncated toward zero
func (r Rect) Truncated() (x1, y1, x2, y2 int) {
	return int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)
}

// BoundingBox is a labeled rectangle drawn over the open image
type BoundingBox struct {
	Rect  Rect   `json:"rect"`
	Label string `json:"label"`
}

// Turn is one message of a conversation
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// Entry is one labeled conversation of the dataset
type Entry struct {
	ID            string `json:"id"`
	Conversations []Turn `json:"conversations"`
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToRect converts the normalized box to pixels of a w x h image
func (b Box) ToRect(w, h int) Rect {
	fw, fh := float64(w), float64(h)
	return Rect{X1: b.X * fw, Y1: b.Y * fh, X2: (b.X + b.W) * fw, Y2: (b.Y + b.H) * fh}
}

// Suggestion is a vision model proposal for a bounding box
type Suggestion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}
