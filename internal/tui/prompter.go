package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/akl/internal/command"
	"github.com/mattjoyce/akl/internal/log"
	"github.com/mattjoyce/akl/internal/orchestration"
)

// Prompter asks questions on a terminal. Prompts are serialized because the
// listener and the RPC server can both reach a handler that prompts.
type Prompter struct {
	in     io.Reader
	out    io.Writer
	mu     sync.Mutex
	logger *slog.Logger

	// run is swapped in tests.
	run func(ctx context.Context, m tea.Model) (tea.Model, error)
}

var (
	_ orchestration.UI = (*Prompter)(nil)
	_ command.Notifier = (*Prompter)(nil)
)

// NewPrompter creates a prompter reading keys from in and drawing on out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: in, out: out, logger: log.WithComponent("tui")}
	p.run = func(ctx context.Context, m tea.Model) (tea.Model, error) {
		return tea.NewProgram(m,
			tea.WithContext(ctx),
			tea.WithInput(p.in),
			tea.WithOutput(p.out),
		).Run()
	}
	return p
}

// Confirm asks a yes/no question. Anything but an explicit yes is no.
func (p *Prompter) Confirm(ctx context.Context, prompt string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	final, err := p.run(ctx, newConfirmModel(prompt))
	if err != nil {
		p.logger.Warn("confirm prompt failed", "prompt", prompt, "error", err)
		return false
	}
	m, ok := final.(confirmModel)
	return ok && m.yes
}

// Select asks the user to pick one of options.
func (p *Prompter) Select(ctx context.Context, prompt string, options []orchestration.Option) (string, bool) {
	if len(options) == 0 {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	final, err := p.run(ctx, newSelectModel(prompt, options))
	if err != nil {
		p.logger.Warn("select prompt failed", "prompt", prompt, "error", err)
		return "", false
	}
	m, ok := final.(selectModel)
	if !ok {
		return "", false
	}
	return m.Selected()
}

// Warn prints a warning line.
func (p *Prompter) Warn(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, warnStyle.Render("! ")+message)
}

// NotifyFailure prints a command failure once.
func (p *Prompter) NotifyFailure(name command.Name, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, errorStyle.Render("✗ "+name.String()+" failed: ")+err.Error())
}

// Headless answers prompts without a terminal. Confirm returns AssumeYes and
// Select picks the first option only when AssumeYes is set.
type Headless struct {
	AssumeYes bool
	logger    *slog.Logger
}

var (
	_ orchestration.UI = (*Headless)(nil)
	_ command.Notifier = (*Headless)(nil)
)

// NewHeadless creates a UI for unattended runs.
func NewHeadless(assumeYes bool) *Headless {
	return &Headless{AssumeYes: assumeYes, logger: log.WithComponent("tui")}
}

func (h *Headless) Confirm(_ context.Context, prompt string) bool {
	h.logger.Info("prompt answered without terminal", "prompt", prompt, "answer", h.AssumeYes)
	return h.AssumeYes
}

func (h *Headless) Select(_ context.Context, prompt string, options []orchestration.Option) (string, bool) {
	if !h.AssumeYes || len(options) == 0 {
		h.logger.Warn("selection needed but no terminal is attached", "prompt", prompt, "options", len(options))
		return "", false
	}
	h.logger.Info("prompt answered without terminal", "prompt", prompt, "answer", options[0].ID)
	return options[0].ID, true
}

func (h *Headless) Warn(message string) {
	h.logger.Warn(message)
}

func (h *Headless) NotifyFailure(name command.Name, err error) {
	h.logger.Error("command failed", "command", name.String(), "error", err)
}
