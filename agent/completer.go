package agent

import "context"

//go:generate mockgen -source=completer.go -destination=../mocks/mockagent/completer_mock.gen.go -package mockagent

// Completer returns the model reply for the prompt.
// The history is a copy of the steps recorded so far.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []Step) (string, error)
}

// CompleterFunc is an adapter to use a function as Completer
type CompleterFunc func(ctx context.Context, prompt string, history []Step) (string, error)

// Complete calls f
func (f CompleterFunc) Complete(ctx context.Context, prompt string, history []Step) (string, error) {
	return f(ctx, prompt, history)
}
