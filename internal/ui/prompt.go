// Package ui renders upload progress on the console and reads interactive
// transfer commands.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chunkup/pkg/types"
)

// ErrQuit is returned by Prompt.Run when the user asks to quit
var ErrQuit = errors.New("quit requested")

// Controller is the set of transfer commands the prompt can issue
type Controller interface {
	Pause(id string) error
	Resume(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Cancel(id string) error
	Delete(id string) error
	Files() []types.FileInfo
	Suspended() []types.FileInfo
	Idle() <-chan struct{}
}

// Prompt reads commands line by line and applies them to a Controller
type Prompt struct {
	in   io.Reader
	ui   *ConsoleUI
	ctrl Controller
}

// NewPrompt creates a prompt reading from in
func NewPrompt(in io.Reader, ui *ConsoleUI, ctrl Controller) *Prompt {
	return &Prompt{in: in, ui: ui, ctrl: ctrl}
}

const usage = "commands: list | pause ID | resume ID | retry ID | cancel ID | delete ID | quit"

// Run processes commands until input ends, ctx is done, the user quits or
// every upload has finished with none left suspended
func (p *Prompt) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Lines are read on their own goroutine so ctx can interrupt a blocked read
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	p.ui.ShowMessage(usage)

	// idle is refreshed after every command; a closed channel that was
	// already announced is not announced again
	idle := p.ctrl.Idle()
	var announced <-chan struct{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle:
			if len(p.ctrl.Suspended()) == 0 {
				return nil
			}
			if announced != idle {
				p.ui.ShowMessage("No uploads running. Resume or retry a file, or type quit.")
				announced = idle
			}
			idle = nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := p.execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return err
				}
				p.ui.ShowMessage(fmt.Sprintf("Error: %v", err))
			}
			idle = p.ctrl.Idle()
		}
	}
}

func (p *Prompt) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd := strings.ToLower(fields[0])
	switch cmd {
	case "quit", "exit", "q":
		return ErrQuit
	case "list", "ls":
		p.ui.PrintFiles(p.ctrl.Files())
		return nil
	case "help", "?":
		p.ui.ShowMessage(usage)
		return nil
	}

	if len(fields) != 2 {
		return fmt.Errorf("usage: %s ID", cmd)
	}
	id, err := p.resolve(fields[1])
	if err != nil {
		return err
	}

	switch cmd {
	case "pause":
		err = p.ctrl.Pause(id)
	case "resume":
		err = p.ctrl.Resume(ctx, id)
	case "retry":
		err = p.ctrl.Retry(ctx, id)
	case "cancel":
		err = p.ctrl.Cancel(id)
	case "delete":
		err = p.ctrl.Delete(id)
	default:
		return fmt.Errorf("unknown command %q (%s)", cmd, usage)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd, shortID(id), err)
	}
	p.ui.ShowMessage(fmt.Sprintf("%s %s: ok", cmd, shortID(id)))
	return nil
}

// resolve expands an identifier prefix to the full identifier
func (p *Prompt) resolve(prefix string) (string, error) {
	var match string
	for _, f := range p.ctrl.Files() {
		if f.Identifier == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(f.Identifier, prefix) {
			if match != "" {
				return "", fmt.Errorf("identifier prefix %q is ambiguous", prefix)
			}
			match = f.Identifier
		}
	}
	if match == "" {
		return "", fmt.Errorf("no file matches %q", prefix)
	}
	return match, nil
}
