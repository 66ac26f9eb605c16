package orchestration

import "context"

//go:generate mockgen -destination=mocks/mock_ui.go -package=mocks github.com/mattjoyce/akl/internal/orchestration UI

// Option is one entry of a selection prompt.
type Option struct {
	ID    string
	Label string
}

// UI is the interactive surface handlers consult when a choice is ambiguous.
type UI interface {
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, prompt string) bool
	// Select asks the user to pick one option. ok is false when the prompt was
	// dismissed.
	Select(ctx context.Context, prompt string, options []Option) (id string, ok bool)
	// Warn shows a non-fatal message.
	Warn(message string)
}
