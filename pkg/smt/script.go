package smt

import (
	"fmt"
	"strings"
)

// Command is one solver command. String must render it as SMT-LIB text;
// the codec sends it as a single line.
type Command interface {
	String() string
}

// RawCommand is a command that is already rendered.
type RawCommand string

func (c RawCommand) String() string { return string(c) }

// Script is an ordered sequence of commands submitted as one unit of work.
type Script []Command

// NewScript builds a Script from rendered command strings.
func NewScript(lines ...string) Script {
	s := make(Script, 0, len(lines))
	for _, l := range lines {
		s = append(s, RawCommand(l))
	}
	return s
}

// Lines renders every command.
func (s Script) Lines() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.String()
	}
	return out
}

func (s Script) String() string {
	return strings.Join(s.Lines(), "\n")
}

// IsQuery reports whether the command asks for satisfiability.
func IsQuery(c Command) bool {
	t := strings.TrimSpace(c.String())
	return strings.HasPrefix(t, "(check-sat")
}

// SplitCommands splits SMT-LIB source into its top-level S-expressions.
// Comments are dropped; string literals and |quoted symbols| are kept intact.
func SplitCommands(src string) (Script, error) {
	var (
		out     Script
		cur     strings.Builder
		depth   int
		inStr   bool
		inQuote bool
		line    = 1
		start   int
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}
		switch {
		case inStr:
			cur.WriteByte(c)
			if c == '"' {
				// "" is an escaped quote inside an SMT-LIB string.
				if i+1 < len(src) && src[i+1] == '"' {
					cur.WriteByte('"')
					i++
					continue
				}
				inStr = false
			}
			continue
		case inQuote:
			cur.WriteByte(c)
			if c == '|' {
				inQuote = false
			}
			continue
		}
		switch c {
		case ';':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				line++
			}
			if depth > 0 {
				writeSpace(&cur)
			}
		case '"':
			inStr = true
			cur.WriteByte(c)
		case '|':
			inQuote = true
			cur.WriteByte(c)
		case '(':
			if depth == 0 {
				start = line
			}
			depth++
			cur.WriteByte(c)
		case ')':
			if depth == 0 {
				return nil, fmt.Errorf("line %d: unbalanced ')'", line)
			}
			depth--
			trimSpace(&cur)
			cur.WriteByte(c)
			if depth == 0 {
				out = append(out, RawCommand(cur.String()))
				cur.Reset()
			}
		case '\n', '\r', '\t', ' ':
			if depth > 0 {
				writeSpace(&cur)
			}
		default:
			if depth == 0 {
				return nil, fmt.Errorf("line %d: unexpected %q outside of a command", line, c)
			}
			cur.WriteByte(c)
		}
	}
	if inStr || inQuote || depth > 0 {
		return nil, fmt.Errorf("line %d: unterminated command", start)
	}
	return out, nil
}

// writeSpace folds runs of whitespace outside literals into one space.
func writeSpace(b *strings.Builder) {
	s := b.String()
	if len(s) == 0 || s[len(s)-1] == ' ' || s[len(s)-1] == '(' {
		return
	}
	b.WriteByte(' ')
}

func trimSpace(b *strings.Builder) {
	s := b.String()
	if len(s) > 0 && s[len(s)-1] == ' ' {
		b.Reset()
		b.WriteString(s[:len(s)-1])
	}
}
