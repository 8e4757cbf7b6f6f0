package dataset

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/menta2k/vqa-builder/internal/utils"
	"github.com/menta2k/vqa-builder/pkg/types"
)

// Literal markers of the persisted conversation format.
const (
	imgOpen   = "<img>"
	imgClose  = "</img>"
	boxPrompt = "Отметьте "
	idPrefix  = "identity_"
)

// ImageReference returns the URL verbatim, otherwise the base name of path
func ImageReference(path string) string {
	if utils.IsRemote(path) {
		return path
	}
	return filepath.Base(path)
}

// FormatImageQuestion builds the user turn that introduces image n
func FormatImageQuestion(n int, ref, question string) string {
	return fmt.Sprintf("Picture %d: %s%s%s\n%s", n, imgOpen, ref, imgClose, question)
}

// FormatBoxPrompt builds the user turn asking to locate label
func FormatBoxPrompt(label string) string {
	return boxPrompt + label
}

// FormatBoxAnswer builds the assistant turn locating box
func FormatBoxAnswer(box types.BoundingBox) string {
	x1, y1, x2, y2 := box.Rect.Truncated()
	return fmt.Sprintf("<ref>%s</ref><box>(%d,%d),(%d,%d)</box>", box.Label, x1, y1, x2, y2)
}

// ExtractImageRef returns the text between the first <img> and the following
// </img>, or the rest of value when the closing marker is missing.
func ExtractImageRef(value string) (string, bool) {
	_, rest, found := strings.Cut(value, imgOpen)
	if !found {
		return "", false
	}
	ref, _, _ := strings.Cut(rest, imgClose)
	return ref, true
}

// FormatID returns the auto-numbered id for n
func FormatID(n int) string {
	return fmt.Sprintf("%s%d", idPrefix, n)
}

// NextIDFor returns one more than the largest n among ids "identity_<n>"
func NextIDFor(entries []types.Entry) int {
	maxID := 0
	for _, e := range entries {
		suffix, ok := strings.CutPrefix(e.ID, idPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if n > maxID {
			maxID = n
		}
	}
	return maxID + 1
}
