// Package ui abstracts the user-facing surface (dialogs, notifications) so
// the update flow can run under a desktop shell, a terminal, or headless.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Sink receives user-facing messages. Confirm blocks for a yes/no answer;
// Notify is passive and must never block on the user.
type Sink interface {
	Info(title, msg string)
	Error(title, msg string)
	// Confirm asks a yes/no question; ok labels the affirmative button.
	Confirm(title, msg, ok string) bool
	// Notify emits a passive notification (no interaction).
	Notify(title, msg string)
}

// Logged writes everything to a slog.Logger and declines confirmations.
// It is the sink for background work and tests.
type Logged struct {
	Logger *slog.Logger
	// Accept, when true, makes Confirm answer yes (useful in tests).
	Accept bool
}

func (l Logged) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Logged) Info(title, msg string)  { l.logger().Info(msg, "title", title) }
func (l Logged) Error(title, msg string) { l.logger().Error(msg, "title", title) }
func (l Logged) Notify(title, msg string) {
	l.logger().Info(msg, "title", title, "notification", true)
}
func (l Logged) Confirm(title, msg, ok string) bool {
	l.logger().Info(msg, "title", title, "auto_answer", l.Accept)
	return l.Accept
}

// Console prompts on a terminal. Used by the interactive update command.
type Console struct {
	In  io.Reader
	Out io.Writer
}

func (c Console) Info(title, msg string)   { fmt.Fprintf(c.Out, "%s: %s\n", title, msg) }
func (c Console) Error(title, msg string)  { fmt.Fprintf(c.Out, "%s: %s\n", title, msg) }
func (c Console) Notify(title, msg string) { fmt.Fprintf(c.Out, "%s: %s\n", title, msg) }

func (c Console) Confirm(title, msg, ok string) bool {
	fmt.Fprintf(c.Out, "%s: %s [%s/N] ", title, msg, ok)
	r := bufio.NewReader(c.In)
	line, err := r.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", strings.ToLower(ok):
		return true
	}
	return false
}
