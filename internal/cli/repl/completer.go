package repl

import (
	"sort"
	"strings"
)

var builtins = []string{"exit", "history", "quit"}

// Completer suggests commands for a prefix.
type Completer struct {
	commands []string
	roots    map[string]struct{}
}

// NewCompleter creates a completer over command paths such as
// "release list". The shell builtins are always included.
func NewCompleter(commands ...string) *Completer {
	c := &Completer{roots: make(map[string]struct{})}
	for _, cmd := range append(append([]string(nil), builtins...), commands...) {
		c.commands = append(c.commands, cmd)
		c.roots[strings.Fields(cmd)[0]] = struct{}{}
	}
	sort.Strings(c.commands)
	return c
}

// Known reports whether word is a top-level command.
func (c *Completer) Known(word string) bool {
	_, ok := c.roots[word]
	return ok
}

// Complete returns the top-level commands starting with prefix, or the full
// paths when prefix already contains a space.
func (c *Completer) Complete(prefix string) []string {
	full := strings.Contains(prefix, " ")
	seen := make(map[string]struct{})
	var suggestions []string
	for _, cmd := range c.commands {
		if !strings.HasPrefix(cmd, prefix) {
			continue
		}
		if !full {
			cmd = strings.Fields(cmd)[0]
		}
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		suggestions = append(suggestions, cmd)
	}
	return suggestions
}
