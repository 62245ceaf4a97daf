package main

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/soypat/ethat/atcmd"
)

// linerPrompter reads lines with editing, history and AT command completion.
type linerPrompter struct {
	s    *liner.State
	once sync.Once
}

// newPrompter uses line editing when stdin is a terminal.
func newPrompter(noLiner bool, reg *atcmd.Registry) (atcmd.Prompter, func()) {
	if noLiner || !isatty.IsTerminal(os.Stdin.Fd()) {
		return atcmd.NewReaderPrompter(os.Stdin, os.Stdout), func() {}
	}
	s := liner.NewLiner()
	s.SetCtrlCAborts(true)
	s.SetCompleter(func(line string) []string { return complete(reg.Names(), line) })
	l := &linerPrompter{s: s}
	return l, func() { l.Close() }
}

// Close restores the terminal. It is safe to call more than once since the
// console closes it on cancellation as well.
func (l *linerPrompter) Close() (err error) {
	l.once.Do(func() { err = l.s.Close() })
	return err
}

func (l *linerPrompter) Prompt(prompt string) (string, error) {
	line, err := l.s.Prompt(prompt)
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		l.s.AppendHistory(line)
	}
	return line, nil
}

// complete returns the AT commands starting with line, ignoring case.
func complete(names []string, line string) (matches []string) {
	prefix := strings.ToUpper(strings.TrimSpace(line))
	for _, name := range names {
		if cmd := "AT" + name; strings.HasPrefix(cmd, prefix) {
			matches = append(matches, cmd)
		}
	}
	return matches
}
