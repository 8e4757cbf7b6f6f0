package client

import "context"

// VisionClient sends a prompt with a base64 JPEG to a vision model and
// returns the raw text reply
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// JSONQuerier is implemented by backends that can constrain the reply to a
// single JSON object
type JSONQuerier interface {
	QueryJSON(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
