package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/menta2k/vqa-builder/pkg/client"
	"github.com/menta2k/vqa-builder/pkg/types"
)

// BoxPrompt asks the model to locate the dominant object
const BoxPrompt = `You are an image object locator.

Return JSON only:
{
  "label": "short noun phrase",
  "confidence": 0.0,
  "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- The box should tightly include the visually dominant object.
- The label should be what a person would type to describe the object.
- If no object is found, return {"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0}}
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// AnswerPrompt asks the model to answer a question about the image
const AnswerPrompt = `Answer the question about this image in one or two short factual sentences.
Do not guess real identities. Reply with the answer text only.

Question: %s`

// Detector proposes boxes and answers using a vision model
type Detector struct {
	client client.VisionClient
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient) *Detector {
	return &Detector{client: client}
}

// SuggestBox asks the model for the dominant object of an image. It returns
// ok=false when the model found nothing usable.
func (d *Detector) SuggestBox(ctx context.Context, model, imageB64 string) (types.Suggestion, bool, error) {
	query := d.client.Query
	if jq, ok := d.client.(client.JSONQuerier); ok {
		query = jq.QueryJSON
	}
	raw, err := query(ctx, model, BoxPrompt, imageB64)
	if err != nil {
		return types.Suggestion{}, false, err
	}

	s, err := parseSuggestion(raw)
	if err != nil {
		return types.Suggestion{}, false, err
	}
	s.Box = normalizeBox(s.Box)
	s.Label = strings.TrimSpace(s.Label)

	if s.Label == "" || strings.EqualFold(s.Label, "none") || s.Box.W == 0 || s.Box.H == 0 {
		return types.Suggestion{}, false, nil
	}
	return s, true, nil
}

// DraftAnswer asks the model to answer question about the image
func (d *Detector) DraftAnswer(ctx context.Context, model, imageB64, question string) (string, error) {
	raw, err := d.client.Query(ctx, model, fmt.Sprintf(AnswerPrompt, question), imageB64)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", fmt.Errorf("model returned an empty answer")
	}
	return answer, nil
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox clamps the box into the unit square
func normalizeBox(b types.Box) types.Box {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.Box{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}
