// Package cli provides interactive terminal prompt helpers for CLI wizards.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Prompter handles interactive terminal prompts.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	r   *bufio.Reader
}

// NewPrompter returns a Prompter reading from in and writing to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{In: in, Out: out}
}

// DefaultPrompter returns a Prompter connected to stdin/stdout.
func DefaultPrompter() *Prompter {
	return NewPrompter(os.Stdin, os.Stdout)
}

func (p *Prompter) readLine() string {
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

// Ask prints a question with a default value and reads one line.
// Returns the default if the user presses Enter without typing.
func (p *Prompter) Ask(question, defaultVal string) string {
	if defaultVal != "" {
		_, _ = fmt.Fprintf(p.Out, "%s [%s]: ", question, defaultVal)
	} else {
		_, _ = fmt.Fprintf(p.Out, "%s: ", question)
	}
	if line := p.readLine(); line != "" {
		return line
	}
	return defaultVal
}

// AskSecret reads a line without echoing. Falls back to a plain read when
// stdin is not a terminal (tests, piped input).
func (p *Prompter) AskSecret(question string) string {
	_, _ = fmt.Fprintf(p.Out, "%s: ", question)

	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(p.Out) // newline after hidden input
		if err == nil {
			return strings.TrimSpace(string(b))
		}
	}

	return p.readLine()
}

// AskInt asks for a positive integer with a default value.
func (p *Prompter) AskInt(question string, defaultVal int) int {
	for {
		ans := p.Ask(question, strconv.Itoa(defaultVal))
		if n, err := strconv.Atoi(ans); err == nil && n > 0 {
			return n
		}
		_, _ = fmt.Fprintln(p.Out, "  Please enter a positive number.")
	}
}

// Choose presents a numbered list of options and returns the selected value.
func (p *Prompter) Choose(question string, options []string, defaultIdx int) string {
	_, _ = fmt.Fprintln(p.Out, question)
	for i, opt := range options {
		marker := "  "
		if i == defaultIdx {
			marker = "> "
		}
		_, _ = fmt.Fprintf(p.Out, "%s%d) %s\n", marker, i+1, opt)
	}

	for {
		ans := p.Ask("Choice", strconv.Itoa(defaultIdx+1))
		if n, err := strconv.Atoi(ans); err == nil && n >= 1 && n <= len(options) {
			return options[n-1]
		}
		_, _ = fmt.Fprintf(p.Out, "  Please enter a number between 1 and %d.\n", len(options))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(question string, defaultYes bool) bool {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	ans := p.Ask(fmt.Sprintf("%s [%s]", question, hint), "")
	if ans == "" {
		return defaultYes
	}
	return strings.HasPrefix(strings.ToLower(ans), "y")
}
