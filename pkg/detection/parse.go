package detection

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/vqa-builder/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// parseSuggestion parses the JSON reply of the box prompt
func parseSuggestion(raw string) (types.Suggestion, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return types.Suggestion{}, fmt.Errorf("no JSON object in model response")
	}

	var s types.Suggestion
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return types.Suggestion{}, fmt.Errorf("failed to parse model response: %w", err)
	}
	return s, nil
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
