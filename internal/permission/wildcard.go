package permission

import (
	"strings"
)

// BashCommand is a single shell invocation's name, first non-flag
// argument, and remaining arguments — enough structure for wildcard
// permission matching, deliberately short of a real shell AST.
type BashCommand struct {
	Name       string   // Command name (e.g., "rm", "git")
	Args       []string // Command arguments
	Subcommand string   // First non-flag argument (e.g., "commit" in "git commit")
}

// ParseBashCommand splits a shell command line into its top-level
// BashCommands: a quote-aware word splitter over `;`, `&&`, `||`, and
// `|` separators rather than a full shell grammar. Wildcard permission
// matching only ever needs a command's name and first argument — the
// adapter that actually runs the line hands it to a real shell, so
// this parser only has to agree with the shell about word boundaries,
// not about control flow.
func ParseBashCommand(command string) []BashCommand {
	var commands []BashCommand
	for _, segment := range splitTopLevel(command) {
		words := splitWords(segment)
		if len(words) == 0 {
			continue
		}
		cmd := BashCommand{Name: words[0], Args: words[1:]}
		for _, w := range words[1:] {
			if !strings.HasPrefix(w, "-") {
				cmd.Subcommand = w
				break
			}
		}
		commands = append(commands, cmd)
	}
	return commands
}

// splitTopLevel breaks command on ;, &&, ||, and | that fall outside of
// quotes and parens, leaving each side's own quoting intact.
func splitTopLevel(command string) []string {
	var parts []string
	var cur strings.Builder
	var quote byte
	depth := 0
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			cur.WriteRune(c)
			if byte(c) == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = byte(c)
			cur.WriteRune(c)
		case c == '(' || c == '{':
			depth++
			cur.WriteRune(c)
		case c == ')' || c == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(c)
		case depth == 0 && c == ';':
			parts = append(parts, cur.String())
			cur.Reset()
		case depth == 0 && c == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
			parts = append(parts, cur.String())
			cur.Reset()
		case depth == 0 && c == '&' && i+1 < len(runes) && runes[i+1] == '&':
			i++
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// splitWords tokenizes a single command segment, treating quoted
// regions as a single word and stripping the surrounding quotes.
func splitWords(segment string) []string {
	var words []string
	var cur strings.Builder
	var quote byte
	inWord := false
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

// MatchBashPermission resolves the configured action for cmd, trying
// the most specific pattern key first and falling back to Ask when no
// key applies.
func MatchBashPermission(cmd BashCommand, permissions map[string]PermissionAction) PermissionAction {
	for _, key := range candidateKeys(cmd) {
		if action, ok := permissions[key]; ok {
			return action
		}
	}
	return ActionAsk
}

// candidateKeys lists the pattern keys cmd can match, most specific
// first: "name subcommand *", "name *", "name", "*".
func candidateKeys(cmd BashCommand) []string {
	keys := make([]string, 0, 4)
	if cmd.Subcommand != "" {
		keys = append(keys, cmd.Name+" "+cmd.Subcommand+" *")
	}
	return append(keys, cmd.Name+" *", cmd.Name, "*")
}

// MatchPattern reports whether cmd matches one wildcard pattern. A
// pattern is space-separated fields: the first names the command (bare
// "*" alone matches anything), a trailing "*" accepts any remaining
// arguments, and the fields between are matched positionally against
// cmd.Args ("*" accepts any single argument).
func MatchPattern(pattern string, cmd BashCommand) bool {
	fields := strings.Fields(pattern)
	switch {
	case len(fields) == 0:
		return false
	case fields[0] == "*":
		return len(fields) == 1
	case fields[0] != cmd.Name:
		return false
	case len(fields) == 1:
		// A bare command name only matches an argument-less invocation.
		return len(cmd.Args) == 0
	}

	open := fields[len(fields)-1] == "*"
	positional := fields[1:]
	if open {
		positional = positional[:len(positional)-1]
		if len(positional) > len(cmd.Args) {
			return false
		}
	} else if len(positional) != len(cmd.Args) {
		return false
	}
	for i, field := range positional {
		if field != "*" && field != cmd.Args[i] {
			return false
		}
	}
	return true
}

// BuildPattern returns the wildcard pattern that would blanket-approve
// commands shaped like cmd: "git commit *" for "git commit -m msg",
// "ls *" for "ls -la".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand == "" {
		return cmd.Name + " *"
	}
	return cmd.Name + " " + cmd.Subcommand + " *"
}

// BuildPatterns returns the deduplicated patterns covering every
// command in a parsed line. cd is skipped: changing directory is not
// itself permission-gated.
func BuildPatterns(commands []BashCommand) []string {
	seen := make(map[string]bool, len(commands))
	var patterns []string
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		if pattern := BuildPattern(cmd); !seen[pattern] {
			seen[pattern] = true
			patterns = append(patterns, pattern)
		}
	}
	return patterns
}
