// Package llm defines the generation boundary of the cogcoach core.
//
// The core consumes exactly one external capability: a Client that turns a
// prompt into raw model output. Provider-specific wire formats stay on the
// other side of this boundary; the core never constructs or parses them.
package llm

import (
	"context"

	"github.com/Axthefish/cogcoach/types"
)

// GenerateConfig carries per-call generation parameters.
type GenerateConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"max_output_tokens,omitempty"`
	ResponseMIMEType string  `json:"response_mime_type,omitempty"` // e.g. "application/json"
}

// Client is the single external collaborator of the core.
//
// Implementations should return *types.Error so failures carry a structured
// code; plain errors are tolerated and classified by message patterns in
// llm/retry.
type Client interface {
	Generate(ctx context.Context, prompt string, cfg GenerateConfig, tier types.Tier, stage types.Stage) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string, cfg GenerateConfig, tier types.Tier, stage types.Stage) (string, error)

// Generate implements Client.
func (f ClientFunc) Generate(ctx context.Context, prompt string, cfg GenerateConfig, tier types.Tier, stage types.Stage) (string, error) {
	return f(ctx, prompt, cfg, tier, stage)
}
