package interfaces

import "context"

// FormInterpreterBackend is the text completion contract used by the LLM
// form strategy. A nil backend means DOM-only operation.
type FormInterpreterBackend interface {
	Complete(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error)
	Name() string
	Close() error
}
