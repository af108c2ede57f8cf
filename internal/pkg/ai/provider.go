package ai

import "context"

// Provider is the single blocking call into a generative model. jsonOnly
// requests strict JSON-object output where the backend supports enforcing it;
// the extractor owns all retry and feedback logic above this interface.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, jsonOnly bool) (string, error)
}
