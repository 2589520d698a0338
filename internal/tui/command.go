package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// CaseID parses the argument as a positive case id.
func (c Command) CaseID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(c.Args, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s: want a case id, got %q", c.Name, c.Args)
	}
	return id, nil
}

// Counterparty splits ":direct <user> [title]" arguments.
func (c Command) Counterparty() (user, title string, err error) {
	user, title, _ = strings.Cut(c.Args, " ")
	if user == "" {
		return "", "", fmt.Errorf("%s: want a user id", c.Name)
	}
	return user, strings.TrimSpace(title), nil
}
