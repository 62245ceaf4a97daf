// Package atcmd parses and dispatches AT console commands.
//
// A command line has the form AT<name>[=<arg>{,<arg>}]. Every dispatched line
// produces exactly one terminator: "\r\nOK\r\n" on success or
// "\r\nERROR:<code>\r\n" on failure.
package atcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Error codes written in the ERROR terminator.
const (
	CodeCommand = 1 // Argument or state failure reported by a handler.
	CodeUnknown = 2 // No handler registered for the command.
)

const (
	okTerm    = "\r\nOK\r\n"
	errFormat = "\r\nERROR:%d\r\n"
)

var (
	ErrNotAT          = errors.New("atcmd: line does not start with AT")
	ErrUnknownCommand = errors.New("atcmd: unknown command")
	ErrDuplicate      = errors.New("atcmd: command already registered")
	ErrBadName        = errors.New("atcmd: command name must start with '+'")
)

// Command is a parsed AT line.
type Command struct {
	// Name is upper-cased and includes the leading '+'. It is empty for a bare "AT".
	Name string
	// Args is nil when the line had no '='.
	Args []string
}

// Parse splits an AT command line. Surrounding whitespace and line endings
// are ignored and the AT prefix is case-insensitive.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || !strings.EqualFold(line[:2], "AT") {
		return Command{}, ErrNotAT
	}
	rest := line[2:]
	name, params, hasArgs := strings.Cut(rest, "=")
	cmd := Command{Name: strings.ToUpper(strings.TrimSpace(name))}
	if hasArgs {
		cmd.Args = strings.Split(params, ",")
		for i := range cmd.Args {
			cmd.Args[i] = strings.TrimSpace(cmd.Args[i])
		}
	}
	return cmd, nil
}

// Handler executes one command. Output written to w precedes the terminator.
// Usage is written after the output when Run returns an error.
type Handler interface {
	Run(w io.Writer, args []string) error
	Usage() string
}

// CodedError carries an explicit terminator code.
type CodedError struct {
	Code int
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

// Registry maps command names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	logger   *slog.Logger
}

// NewRegistry returns a registry with the built-in +LIST command.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{handlers: make(map[string]Handler), logger: logger}
	r.Register("+LIST", listHandler{r})
	return r
}

// Register adds h under name. Names are case-insensitive.
func (r *Registry) Register(name string, h Handler) error {
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "+") || len(name) < 2 {
		return ErrBadName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.handlers[name] = h
	r.order = append(r.order, name)
	return nil
}

// Names returns registered command names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) handler(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Dispatch parses and runs line, writing handler output and the terminator
// to w. Blank lines are ignored. The returned error is the command failure,
// already reported on w.
func (r *Registry) Dispatch(w io.Writer, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	cmd, err := Parse(line)
	if err != nil {
		return r.fail(w, nil, &CodedError{Code: CodeUnknown, Err: err})
	}
	if cmd.Name == "" {
		_, err = io.WriteString(w, okTerm)
		return err
	}
	h := r.handler(cmd.Name)
	if h == nil {
		return r.fail(w, nil, &CodedError{Code: CodeUnknown, Err: fmt.Errorf("%w: AT%s", ErrUnknownCommand, cmd.Name)})
	}
	err = r.run(w, cmd, h)
	if err != nil {
		return r.fail(w, h, err)
	}
	r.debug("atcmd:ok", slog.String("cmd", cmd.Name))
	_, err = io.WriteString(w, okTerm)
	return err
}

func (r *Registry) run(w io.Writer, cmd Command, h Handler) (err error) {
	defer func() {
		if a := recover(); a != nil {
			err = fmt.Errorf("atcmd: AT%s panicked: %v", cmd.Name, a)
		}
	}()
	return h.Run(w, cmd.Args)
}

func (r *Registry) fail(w io.Writer, h Handler, err error) error {
	code := CodeCommand
	var coded *CodedError
	if errors.As(err, &coded) {
		code = coded.Code
	}
	r.warn("atcmd:fail", slog.Int("code", code), slog.String("err", err.Error()))
	if h != nil {
		if usage := h.Usage(); usage != "" {
			io.WriteString(w, usage)
		}
	}
	fmt.Fprintf(w, errFormat, code)
	return err
}

func (r *Registry) warn(msg string, attrs ...slog.Attr) {
	if r.logger != nil {
		r.logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}

func (r *Registry) debug(msg string, attrs ...slog.Attr) {
	if r.logger != nil {
		r.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

type listHandler struct{ r *Registry }

func (l listHandler) Run(w io.Writer, args []string) error {
	for _, name := range l.r.Names() {
		_, err := fmt.Fprintf(w, "AT%s\r\n", name)
		if err != nil {
			return err
		}
	}
	return nil
}

func (listHandler) Usage() string { return "AT+LIST\r\n" }
