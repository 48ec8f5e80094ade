package domain

import "context"

// Generator turns a prompt into generated text.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
	Name() string
}
