package atcmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line     string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{line: "AT", wantName: ""},
		{line: "at+ethstat\r\n", wantName: "+ETHSTAT"},
		{line: "AT+ETHIP=1,192.168.1.50", wantName: "+ETHIP", wantArgs: []string{"1", "192.168.1.50"}},
		{line: "AT+ETHIP= 0 , 10.0.0.2 ,10.0.0.1, 255.0.0.0 ", wantName: "+ETHIP", wantArgs: []string{"0", "10.0.0.2", "10.0.0.1", "255.0.0.0"}},
		{line: "AT+ETHGRP=", wantName: "+ETHGRP", wantArgs: []string{""}},
		{line: "AT+ETHIP=1,,x", wantName: "+ETHIP", wantArgs: []string{"1", "", "x"}},
		{line: "+ETHSTAT", wantErr: ErrNotAT},
		{line: "A", wantErr: ErrNotAT},
	}
	for _, tt := range tests {
		cmd, err := Parse(tt.line)
		if err != tt.wantErr {
			t.Errorf("%q: want err %v, got %v", tt.line, tt.wantErr, err)
			continue
		}
		if cmd.Name != tt.wantName {
			t.Errorf("%q: want name %q, got %q", tt.line, tt.wantName, cmd.Name)
		}
		if len(cmd.Args) != len(tt.wantArgs) {
			t.Errorf("%q: want args %q, got %q", tt.line, tt.wantArgs, cmd.Args)
			continue
		}
		for i := range cmd.Args {
			if cmd.Args[i] != tt.wantArgs[i] {
				t.Errorf("%q: arg %d want %q, got %q", tt.line, i, tt.wantArgs[i], cmd.Args[i])
			}
		}
	}
	cmd, _ := Parse("AT+ETHSTAT")
	if cmd.Args != nil {
		t.Error("args must be nil without '='")
	}
}

type funcHandler struct {
	run   func(w io.Writer, args []string) error
	usage string
}

func (f funcHandler) Run(w io.Writer, args []string) error { return f.run(w, args) }
func (f funcHandler) Usage() string                        { return f.usage }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	handlers := map[string]funcHandler{
		"+ECHO": {run: func(w io.Writer, args []string) error {
			_, err := io.WriteString(w, strings.Join(args, "|")+"\r\n")
			return err
		}},
		"+FAIL": {usage: "AT+FAIL=<x>\r\n", run: func(w io.Writer, args []string) error {
			io.WriteString(w, "[+FAIL]\r\n")
			return errors.New("bad argument")
		}},
		"+PANIC": {run: func(w io.Writer, args []string) error {
			var m map[string]int
			m["x"] = 1
			return nil
		}},
	}
	for _, name := range []string{"+ECHO", "+FAIL", "+PANIC"} {
		if err := r.Register(name, handlers[name]); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestDispatch(t *testing.T) {
	r := newTestRegistry(t)
	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{line: "AT", want: "\r\nOK\r\n"},
		{line: "AT+ECHO=a, b", want: "a|b\r\n\r\nOK\r\n"},
		{line: "at+echo", want: "\r\n\r\nOK\r\n"},
		{line: "AT+FAIL=1", want: "[+FAIL]\r\nAT+FAIL=<x>\r\n\r\nERROR:1\r\n", wantErr: true},
		{line: "AT+PANIC", want: "\r\nERROR:1\r\n", wantErr: true},
		{line: "AT+NOPE", want: "\r\nERROR:2\r\n", wantErr: true},
		{line: "hello", want: "\r\nERROR:2\r\n", wantErr: true},
		{line: "  \r\n", want: ""},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		err := r.Dispatch(&buf, tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: wantErr=%v, got %v", tt.line, tt.wantErr, err)
		}
		if buf.String() != tt.want {
			t.Errorf("%q: want output %q, got %q", tt.line, tt.want, buf.String())
		}
	}
}

func TestDispatchSingleTerminator(t *testing.T) {
	r := newTestRegistry(t)
	for _, line := range []string{"AT", "AT+ECHO=1", "AT+FAIL", "AT+PANIC", "AT+NOPE", "xyz", "AT+LIST"} {
		var buf bytes.Buffer
		r.Dispatch(&buf, line)
		out := buf.String()
		n := strings.Count(out, "\r\nOK\r\n") + strings.Count(out, "\r\nERROR:")
		if n != 1 {
			t.Errorf("%q: want exactly one terminator, got %d in %q", line, n, out)
		}
	}
}

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register("+echo", funcHandler{})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("want ErrDuplicate, got %v", err)
	}
	if err = r.Register("ECHO2", funcHandler{}); err != ErrBadName {
		t.Errorf("want ErrBadName, got %v", err)
	}
	names := r.Names()
	want := []string{"+LIST", "+ECHO", "+FAIL", "+PANIC"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names %v", names)
	}
	var buf bytes.Buffer
	if err = r.Dispatch(&buf, "AT+LIST"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "AT+LIST\r\nAT+ECHO\r\nAT+FAIL\r\nAT+PANIC\r\n\r\nOK\r\n" {
		t.Errorf("list output %q", buf.String())
	}
}

func TestCodedError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("+CODE", funcHandler{run: func(w io.Writer, args []string) error {
		return &CodedError{Code: 7, Err: errors.New("seven")}
	}})
	var buf bytes.Buffer
	r.Dispatch(&buf, "AT+CODE")
	if buf.String() != "\r\nERROR:7\r\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestConsole(t *testing.T) {
	r := newTestRegistry(t)
	var out bytes.Buffer
	var history []string
	c := Console{
		Registry: r,
		Input:    NewReaderPrompter(strings.NewReader("AT\nAT+ECHO=x\n\nAT+NOPE\n"), nil),
		Output:   &out,
		OnLine:   func(line string) { history = append(history, line) },
	}
	err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := "\r\nOK\r\nx\r\n\r\nOK\r\n\r\nERROR:2\r\n"
	if out.String() != want {
		t.Errorf("want %q, got %q", want, out.String())
	}
	if len(history) != 3 {
		t.Errorf("history %q", history)
	}
}

type blockingPrompter struct{ block chan struct{} }

func (b blockingPrompter) Prompt(string) (string, error) {
	<-b.block
	return "", io.EOF
}

func TestConsoleCancel(t *testing.T) {
	p := blockingPrompter{block: make(chan struct{})}
	defer close(p.block)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := Console{Registry: NewRegistry(nil), Input: p, Output: io.Discard}
	err := c.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

// closablePrompter blocks in Prompt until closed.
type closablePrompter struct {
	closed   chan struct{}
	returned chan struct{}
}

func (c *closablePrompter) Prompt(string) (string, error) {
	defer close(c.returned)
	<-c.closed
	return "", errors.New("prompter closed")
}

func (c *closablePrompter) Close() error {
	close(c.closed)
	return nil
}

func TestConsoleCancelClosesInput(t *testing.T) {
	p := &closablePrompter{closed: make(chan struct{}), returned: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	c := Console{Registry: NewRegistry(nil), Input: p, Output: io.Discard}
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-p.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("pending Prompt still blocked after cancel")
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestReaderPrompterClose(t *testing.T) {
	r := &closeRecorder{Reader: strings.NewReader("")}
	if err := NewReaderPrompter(r, nil).Close(); err != nil || !r.closed {
		t.Errorf("reader not closed: %v", err)
	}
	if err := NewReaderPrompter(strings.NewReader(""), nil).Close(); err != nil {
		t.Error(err)
	}
}
