// Package command parses bot commands from issue comments.
//
// A command is a comment line in the format:
//
//	<prefix> <verb> [<arg>...]
package command

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultPrefix = "/dionisio"

type Verb string

const (
	// VerbBackport backports the pull request to the releases passed as
	// arguments.
	VerbBackport Verb = "backport"
	// VerbPatch backports the pull request to the next patch release.
	VerbPatch Verb = "patch"
	// VerbRebase recreates a backport pull request from its release
	// branch.
	VerbRebase Verb = "rebase"
	// VerbJira creates a Jira task for the pull request in the board
	// passed as argument.
	VerbJira Verb = "jira"
	// VerbQA reevaluates the pull request.
	VerbQA Verb = "qa"
)

var verbs = map[Verb]struct {
	minArgs, maxArgs int
	usage            string
}{
	VerbBackport: {minArgs: 0, maxArgs: -1, usage: "backport <release>..."},
	VerbPatch:    {usage: "patch"},
	VerbRebase:   {usage: "rebase"},
	VerbJira:     {minArgs: 1, maxArgs: 1, usage: "jira <board>"},
	VerbQA:       {usage: "qa"},
}

var (
	ErrUnknownVerb    = errors.New("unknown command")
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrMissingCommand = errors.New("command is missing")
)

// Command is a parsed command.
type Command struct {
	Verb Verb
	Args []string
}

func (c *Command) String() string {
	return strings.TrimSpace(string(c.Verb) + " " + strings.Join(c.Args, " "))
}

// Parser extracts commands from comments.
type Parser struct {
	prefix string
}

func NewParser(prefix string) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Parser{prefix: prefix}
}

// Parse returns the commands in body, one per line that starts with the
// prefix.
// If a line contains an invalid command, the commands parsed so far and an
// error are returned.
func (p *Parser) Parse(body string) ([]*Command, error) {
	var result []*Command

	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != p.prefix {
			continue
		}

		cmd, err := parseFields(fields[1:])
		if err != nil {
			return result, fmt.Errorf("%q: %w", strings.TrimSpace(line), err)
		}

		result = append(result, cmd)
	}

	return result, nil
}

func parseFields(fields []string) (*Command, error) {
	if len(fields) == 0 {
		return nil, ErrMissingCommand
	}

	verb := Verb(strings.ToLower(fields[0]))
	args := fields[1:]

	def, exists := verbs[verb]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerb, fields[0])
	}

	if len(args) < def.minArgs || (def.maxArgs >= 0 && len(args) > def.maxArgs) {
		return nil, fmt.Errorf("%w, usage: %s", ErrInvalidArgs, def.usage)
	}

	return &Command{Verb: verb, Args: args}, nil
}

// Usage returns a markdown list of the supported commands.
func (p *Parser) Usage() string {
	var sb strings.Builder

	for _, v := range []Verb{VerbBackport, VerbPatch, VerbRebase, VerbJira, VerbQA} {
		fmt.Fprintf(&sb, "- `%s %s`\n", p.prefix, verbs[v].usage)
	}

	return sb.String()
}

// IsAuthorized returns true if a comment author with the github author
// association is allowed to run commands.
func IsAuthorized(authorAssociation string) bool {
	switch strings.ToUpper(authorAssociation) {
	case "OWNER", "MEMBER", "COLLABORATOR":
		return true
	default:
		return false
	}
}
