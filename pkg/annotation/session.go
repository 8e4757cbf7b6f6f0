// Package annotation holds the bounding boxes drawn over the open image.
//
// All coordinates are in the display space of the (possibly downscaled)
// image. A drag produces a candidate rectangle; a candidate smaller than the
// minimum box size in either dimension is treated as an accidental click.
// Committing a candidate with a label turns it into a box.
package annotation

import (
	"fmt"
	"image"

	"github.com/menta2k/vqa-builder/pkg/apperr"
	"github.com/menta2k/vqa-builder/pkg/imageio"
	"github.com/menta2k/vqa-builder/pkg/types"
)

// DefaultMinBoxSize is the smallest accepted width and height in pixels
const DefaultMinBoxSize = 5

// Opener decodes an image source into a display picture
type Opener interface {
	Open(source string) (*imageio.Picture, error)
}

// Session is the annotation state of the currently open image
type Session struct {
	opener     Opener
	minBoxSize float64

	picture   *imageio.Picture
	boxes     []types.BoundingBox
	candidate *types.Rect
}

// New creates a new Session with the default minimum box size
func New(opener Opener) *Session {
	return NewWithMinBoxSize(opener, DefaultMinBoxSize)
}

// NewWithMinBoxSize creates a new Session with a custom minimum box size
func NewWithMinBoxSize(opener Opener, minBoxSize float64) *Session {
	if minBoxSize <= 0 {
		minBoxSize = DefaultMinBoxSize
	}
	return &Session{opener: opener, minBoxSize: minBoxSize}
}

// LoadImage opens path and resets the box set. An empty path is a no-op.
func (s *Session) LoadImage(path string) error {
	if path == "" {
		return nil
	}
	pic, err := s.opener.Open(path)
	if err != nil {
		return apperr.IO("load image", err)
	}
	s.picture = pic
	s.Clear()
	return nil
}

// Picture returns the open image, or nil
func (s *Session) Picture() *imageio.Picture {
	return s.picture
}

// Scale returns the display scale factor of the open image, 1 without one
func (s *Session) Scale() float64 {
	if s.picture == nil || s.picture.Scale <= 0 {
		return 1
	}
	return s.picture.Scale
}

// Scales returns the horizontal and vertical display scale factors
func (s *Session) Scales() (float64, float64) {
	sx := s.Scale()
	if s.picture == nil || s.picture.ScaleY <= 0 {
		return sx, sx
	}
	return sx, s.picture.ScaleY
}

// DisplaySize returns the display bitmap size, zero without an image
func (s *Session) DisplaySize() image.Point {
	if s.picture == nil {
		return image.Point{}
	}
	return s.picture.DisplaySize()
}

// BeginDrag starts a new candidate at the pointer, discarding any prior one
func (s *Session) BeginDrag(x, y float64) {
	s.candidate = &types.Rect{X1: x, Y1: y, X2: x, Y2: y}
}

// UpdateDrag moves the opposite corner of the candidate
func (s *Session) UpdateDrag(x, y float64) {
	if s.candidate == nil {
		return
	}
	s.candidate.X2 = x
	s.candidate.Y2 = y
}

// EndDrag finishes the drag at the release point and reports whether a
// candidate remains pending.
func (s *Session) EndDrag(x, y float64) bool {
	if s.candidate == nil {
		return false
	}
	s.UpdateDrag(x, y)
	if s.tooSmall(*s.candidate) {
		s.candidate = nil
		return false
	}
	return true
}

// SetCandidate installs r as the pending candidate, subject to the minimum size
func (s *Session) SetCandidate(r types.Rect) error {
	if s.tooSmall(r) {
		return apperr.Validationf("set candidate", "area is smaller than %g px", s.minBoxSize)
	}
	s.candidate = &r
	return nil
}

// Candidate returns the pending rectangle
func (s *Session) Candidate() (types.Rect, bool) {
	if s.candidate == nil {
		return types.Rect{}, false
	}
	return *s.candidate, true
}

// CommitBox turns the candidate into a labeled box
func (s *Session) CommitBox(label string) error {
	if s.candidate == nil {
		return apperr.Validation("commit box", "select an area on the image first")
	}
	if label == "" {
		return apperr.Validation("commit box", "enter an object description")
	}
	s.boxes = append(s.boxes, types.BoundingBox{Rect: s.candidate.Normalize(), Label: label})
	s.candidate = nil
	return nil
}

// RemoveLast pops the most recently committed box
func (s *Session) RemoveLast() {
	if len(s.boxes) > 0 {
		s.boxes = s.boxes[:len(s.boxes)-1]
	}
}

// Clear empties the box set and discards the candidate. The image stays open.
func (s *Session) Clear() {
	s.boxes = nil
	s.candidate = nil
}

// Boxes returns a copy of the committed boxes
func (s *Session) Boxes() []types.BoundingBox {
	out := make([]types.BoundingBox, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// Len returns the number of committed boxes
func (s *Session) Len() int {
	return len(s.boxes)
}

// Describe returns the box list line "LABEL: (x1,y1)-(x2,y2)"
func Describe(box types.BoundingBox) string {
	x1, y1, x2, y2 := box.Rect.Truncated()
	return fmt.Sprintf("%s: (%d,%d)-(%d,%d)", box.Label, x1, y1, x2, y2)
}

func (s *Session) tooSmall(r types.Rect) bool {
	return r.Width() < s.minBoxSize || r.Height() < s.minBoxSize
}
