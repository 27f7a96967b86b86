package repl

import (
	"slices"
	"sort"
	"strings"
)

// builtins are handled by the loop itself.
var builtins = []string{"exit", "quit", "?"}

// Completer provides command-name completion.
type Completer struct {
	commands []string
}

// NewCompleter creates a completer for commands plus the loop builtins.
func NewCompleter(commands []string) *Completer {
	all := append(slices.Clone(commands), builtins...)
	sort.Strings(all)
	return &Completer{commands: slices.Compact(all)}
}

// Complete returns the commands starting with prefix.
func (c *Completer) Complete(prefix string) []string {
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}

// Known reports whether name is a command.
func (c *Completer) Known(name string) bool {
	_, ok := slices.BinarySearch(c.commands, name)
	return ok
}

// Commands returns every command, sorted.
func (c *Completer) Commands() []string {
	return slices.Clone(c.commands)
}
