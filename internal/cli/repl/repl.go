package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Executor runs one command line.
type Executor func(ctx context.Context, args []string) error

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input       io.Reader
	output      io.Writer
	prompt      string
	interactive bool
	completer   *Completer
	history     *History
	exec        Executor
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO replaces stdin and stdout. The prompt is shown only when interactive.
func WithIO(in io.Reader, out io.Writer, interactive bool) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
		r.interactive = interactive
	}
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) {
		r.history = h
	}
}

// WithCompleter sets the command list used for suggestions.
func WithCompleter(c *Completer) Option {
	return func(r *REPL) {
		r.completer = c
	}
}

// New creates a REPL reading stdin.
func New(exec Executor, opts ...Option) *REPL {
	fd := os.Stdin.Fd()
	r := &REPL{
		input:       os.Stdin,
		output:      os.Stdout,
		prompt:      "otamesh> ",
		interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
		completer:   NewCompleter(),
		history:     NewHistory(DefaultHistoryPath(), DefaultHistorySize),
		exec:        exec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until EOF, exit or cancellation of ctx.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.history.Load(); err != nil {
		fmt.Fprintf(r.output, "warning: history not loaded: %v\n", err)
	}
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: history not saved: %v\n", err)
		}
	}()

	scanner := bufio.NewScanner(r.input)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.interactive {
			fmt.Fprint(r.output, r.prompt)
		}
		if !scanner.Scan() {
			if r.interactive {
				fmt.Fprintln(r.output)
			}
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.history.Add(line)

		args, err := Split(line)
		if err != nil {
			fmt.Fprintf(r.output, "error: %v\n", err)
			continue
		}

		switch args[0] {
		case "exit", "quit":
			return nil
		case "history":
			for i, entry := range r.history.Entries() {
				fmt.Fprintf(r.output, "%4d  %s\n", i+1, entry)
			}
			continue
		}

		if !r.completer.Known(args[0]) {
			fmt.Fprintf(r.output, "unknown command %q", args[0])
			if s := r.completer.Complete(args[0][:1]); len(s) > 0 {
				fmt.Fprintf(r.output, ", try: %s", strings.Join(s, ", "))
			}
			fmt.Fprintln(r.output)
			continue
		}

		if err := r.exec(ctx, args); err != nil {
			fmt.Fprintf(r.output, "error: %v\n", err)
		}
	}
}

// ErrUnterminatedQuote is returned by Split for a dangling quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Split breaks line into words. Single quotes are literal, double quotes
// allow backslash escapes, and a backslash outside quotes escapes the next
// character.
func Split(line string) ([]string, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, c := range line {
		switch {
		case escaped:
			cur.WriteRune(c)
			escaped = false
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case quote == '"':
			switch c {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(c)
			}
		case c == '\\':
			escaped, inWord = true, true
		case c == '\'' || c == '"':
			quote, inWord = c, true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(c)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, ErrUnterminatedQuote
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
