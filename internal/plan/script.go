// SPDX-License-Identifier: MPL-2.0

package plan

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const scriptHeader = "set -eu\n"

// script accumulates a POSIX sh program. The first quoting failure sticks
// and is reported by render.
type script struct {
	lines []string
	err   error
}

// words quotes each argument and joins them into a single command.
func (s *script) words(args ...string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			if s.err == nil {
				s.err = fmt.Errorf("quote %q: %w", a, err)
			}
			q = "''"
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}

// run appends a simple command.
func (s *script) run(args ...string) {
	s.lines = append(s.lines, s.words(args...))
}

// line appends pre-assembled shell text. Callers must build it from words.
func (s *script) line(text string) {
	s.lines = append(s.lines, text)
}

// render returns the program and checks that it parses as POSIX sh.
func (s *script) render() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	src := scriptHeader + "\n" + strings.Join(s.lines, "\n") + "\n"

	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(strings.NewReader(src), "script"); err != nil {
		return "", fmt.Errorf("generated script does not parse: %w", err)
	}
	return src, nil
}
