package atcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Prompter reads one line of input after showing prompt.
// It returns io.EOF when input is exhausted. A Prompter that also implements
// io.Closer is closed by [Console.Run] on cancellation.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// ReaderPrompter is a [Prompter] over a plain reader, for scripts and
// terminals that do not support line editing.
type ReaderPrompter struct {
	r       io.Reader
	scanner *bufio.Scanner
	w       io.Writer
}

// NewReaderPrompter returns a prompter reading r. The prompt is echoed to w if non-nil.
func NewReaderPrompter(r io.Reader, w io.Writer) *ReaderPrompter {
	return &ReaderPrompter{r: r, scanner: bufio.NewScanner(r), w: w}
}

// Close closes the underlying reader if it is an io.Closer.
func (p *ReaderPrompter) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *ReaderPrompter) Prompt(prompt string) (string, error) {
	if p.w != nil {
		fmt.Fprint(p.w, prompt)
	}
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	err := p.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	return "", err
}

// Console dispatches lines read from a Prompter sequentially.
type Console struct {
	Registry *Registry
	Input    Prompter
	Output   io.Writer
	Prompt   string
	// OnLine is called with each line read before it is dispatched, e.g. to record history.
	OnLine func(line string)
	Logger *slog.Logger
}

type promptResult struct {
	line string
	err  error
}

// Run dispatches lines until input is exhausted or ctx is cancelled.
// io.EOF is not reported as an error. On cancellation Input is closed if it
// implements io.Closer so the pending Prompt can return. A Prompter that
// cannot be closed keeps its reading goroutine until the read completes.
func (c *Console) Run(ctx context.Context) error {
	if c.Registry == nil || c.Input == nil || c.Output == nil {
		return errors.New("atcmd: console needs registry, input and output")
	}
	results := make(chan promptResult, 1)
	for {
		go func() {
			line, err := c.Input.Prompt(c.Prompt)
			results <- promptResult{line: line, err: err}
		}()
		var res promptResult
		select {
		case <-ctx.Done():
			if closer, ok := c.Input.(io.Closer); ok {
				err := closer.Close()
				if err != nil && c.Logger != nil {
					c.Logger.LogAttrs(ctx, slog.LevelDebug, "console:close", slog.String("err", err.Error()))
				}
			}
			return ctx.Err()
		case res = <-results:
		}
		if errors.Is(res.err, io.EOF) {
			return nil
		} else if res.err != nil {
			return res.err
		}
		if c.OnLine != nil && res.line != "" {
			c.OnLine(res.line)
		}
		err := c.Registry.Dispatch(c.Output, res.line)
		if err != nil && c.Logger != nil {
			c.Logger.LogAttrs(ctx, slog.LevelDebug, "console:dispatch", slog.String("line", res.line), slog.String("err", err.Error()))
		}
	}
}
