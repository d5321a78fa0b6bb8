package ai

import "context"

// TextGenerator turns a system prompt and a user prompt into model output.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
