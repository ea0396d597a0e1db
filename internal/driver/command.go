package driver

import (
	"fmt"
	"strings"
)

// Command is one protocol command: a name and its arguments.
type Command struct {
	Name string   `json:"name" yaml:"name"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// String renders the command the way it would be typed at a client prompt.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// ParseCommand splits a command line into name and arguments.
//
// Words are separated by whitespace. Double quotes group words into one
// argument and a backslash escapes the next character inside quotes.
func ParseCommand(line string) (Command, error) {
	var (
		words   []string
		cur     strings.Builder
		inWord  bool
		quoted  bool
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quoted || escaped {
		return Command{}, fmt.Errorf("unterminated quote in command %q", line)
	}
	if inWord {
		words = append(words, cur.String())
	}
	if len(words) == 0 || words[0] == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	cmd := Command{Name: words[0]}
	if len(words) > 1 {
		cmd.Args = words[1:]
	}
	return cmd, nil
}

// CommandSpec is the ordered list of commands a batch issues. Invocation i
// sends the command at i modulo the list length, so a single entry is a
// fixed command and several entries cycle.
type CommandSpec []Command

// ParseCommandSpec parses each line with ParseCommand.
func ParseCommandSpec(lines []string) (CommandSpec, error) {
	spec := make(CommandSpec, 0, len(lines))
	for i, line := range lines {
		cmd, err := ParseCommand(line)
		if err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("commands[%d]", i), Message: err.Error()}
		}
		spec = append(spec, cmd)
	}
	return spec, nil
}

// At returns the command for invocation i.
func (s CommandSpec) At(i int) Command {
	return s[i%len(s)]
}

// Validate checks that the spec is non-empty and every command has a name.
func (s CommandSpec) Validate() error {
	if len(s) == 0 {
		return &ConfigurationError{Field: "commands", Message: "at least one command is required"}
	}
	for i, c := range s {
		if strings.TrimSpace(c.Name) == "" {
			return &ConfigurationError{Field: fmt.Sprintf("commands[%d]", i), Message: "command name is empty"}
		}
	}
	return nil
}
