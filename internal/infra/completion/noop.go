package completion

import "context"

// NoOp is a provider that echoes the prompt back. Useful for development
// and tests where no API key is available.
type NoOp struct{}

// NewNoOp creates a NoOp provider.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Name implements Provider.
func (n *NoOp) Name() string { return "noop" }

// Complete returns the prompt truncated to a reasonable length.
func (n *NoOp) Complete(_ context.Context, prompt string) (string, error) {
	const maxLength = 500
	if len(prompt) <= maxLength {
		return prompt, nil
	}
	return prompt[:maxLength] + "...", nil
}
