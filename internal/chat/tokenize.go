// Package chat is the boundary between a chat host and the dispatcher. It
// splits raw message text into an argument vector, runs the command, and
// renders the result back into chat-friendly text.
package chat

import (
	"fmt"
	"strings"
)

// Tokenize splits raw argument text into fields the way a user expects quotes
// to behave, without ever involving a shell. Single quotes preserve content
// literally, double quotes and bare text treat a backslash as escaping the
// next rune. Shell
// metacharacters have no meaning and pass through as ordinary characters.
func Tokenize(raw string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inField bool
		quote   rune // 0 when outside quotes
		escaped bool
	)

	for _, r := range raw {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == '\\':
			escaped = true
			inField = true
		case r == ' ' || r == '\t' || r == '\n':
			if inField {
				args = append(args, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteRune(r)
			inField = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash in %q", raw)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c-quote in %q", quote, raw)
	}
	if inField {
		args = append(args, cur.String())
	}
	return args, nil
}
