package detection

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/menta2k/vqa-builder/pkg/types"
)

type stubClient struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubClient) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func TestSuggestBox(t *testing.T) {
	stub := &stubClient{reply: "```json\n{\"label\": \"cat\", \"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.5, \"h\": 0.4},}\n```"}
	d := NewDetector(stub)

	s, ok, err := d.SuggestBox(context.Background(), "m", "b64")
	if err != nil || !ok {
		t.Fatalf("SuggestBox = %v, %v", ok, err)
	}
	if s.Label != "cat" || s.Box != (types.Box{X: 0.1, Y: 0.2, W: 0.5, H: 0.4}) {
		t.Errorf("suggestion = %+v", s)
	}
	if stub.prompts[0] != BoxPrompt {
		t.Error("expected the box prompt")
	}
}

type jsonStub struct {
	stubClient
	jsonCalls int
}

func (s *jsonStub) QueryJSON(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	s.jsonCalls++
	return s.Query(ctx, model, prompt, imgB64)
}

func TestSuggestBoxPrefersJSONMode(t *testing.T) {
	stub := &jsonStub{stubClient: stubClient{reply: `{"label":"dog","confidence":0.7,"box":{"x":0,"y":0,"w":0.5,"h":0.5}}`}}
	d := NewDetector(stub)

	if _, ok, err := d.SuggestBox(context.Background(), "m", "b64"); err != nil || !ok {
		t.Fatalf("SuggestBox = %v, %v", ok, err)
	}
	if stub.jsonCalls != 1 {
		t.Errorf("QueryJSON called %d times, want 1", stub.jsonCalls)
	}

	if _, err := d.DraftAnswer(context.Background(), "m", "b64", "What?"); err != nil {
		t.Fatal(err)
	}
	if stub.jsonCalls != 1 {
		t.Error("answers should use free-text mode")
	}
}

func TestSuggestBoxNone(t *testing.T) {
	d := NewDetector(&stubClient{reply: `{"label":"none","confidence":0.0,"box":{"x":0,"y":0,"w":0,"h":0}}`})
	if _, ok, err := d.SuggestBox(context.Background(), "m", "b64"); ok || err != nil {
		t.Errorf("expected no suggestion, got %v, %v", ok, err)
	}
}

func TestSuggestBoxClampsToImage(t *testing.T) {
	d := NewDetector(&stubClient{reply: `// located
{"label":" dog ","box":{"x":0.8,"y":-0.1,"w":0.5,"h":1.5}}`})
	s, ok, err := d.SuggestBox(context.Background(), "m", "b64")
	if err != nil || !ok {
		t.Fatalf("SuggestBox = %v, %v", ok, err)
	}
	if s.Label != "dog" {
		t.Errorf("label = %q", s.Label)
	}
	if s.Box.X+s.Box.W > 1.0000001 || s.Box.Y != 0 || s.Box.H != 1 {
		t.Errorf("box not clamped: %+v", s.Box)
	}
}

func TestSuggestBoxErrors(t *testing.T) {
	d := NewDetector(&stubClient{reply: "I see a cat."})
	if _, _, err := d.SuggestBox(context.Background(), "m", "b64"); err == nil {
		t.Error("expected error for non-JSON reply")
	}

	d = NewDetector(&stubClient{err: errors.New("connection refused")})
	if _, _, err := d.SuggestBox(context.Background(), "m", "b64"); err == nil {
		t.Error("expected client error to propagate")
	}
}

func TestDraftAnswer(t *testing.T) {
	stub := &stubClient{reply: "  A cat sleeping.\n"}
	d := NewDetector(stub)

	answer, err := d.DraftAnswer(context.Background(), "m", "b64", "What is on the sofa?")
	if err != nil {
		t.Fatalf("DraftAnswer failed: %v", err)
	}
	if answer != "A cat sleeping." {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(stub.prompts[0], "Question: What is on the sofa?") {
		t.Errorf("prompt = %q", stub.prompts[0])
	}

	d = NewDetector(&stubClient{reply: "   "})
	if _, err := d.DraftAnswer(context.Background(), "m", "b64", "Q"); err == nil {
		t.Error("expected error for empty answer")
	}
}
