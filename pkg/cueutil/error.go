// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned when input exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

type (
	// Violation is a single schema problem at a field path.
	Violation struct {
		// Path is the field in JSON-path form, e.g. "user.extra_groups[1]".
		// Empty for problems not tied to a field, such as syntax errors.
		Path    string
		Message string
	}

	// SchemaError collects every violation CUE reported for one file.
	SchemaError struct {
		File       string
		Violations []Violation
	}
)

// Error renders "<file>: <path>: <message>" for a single violation and an
// indented list otherwise.
func (e *SchemaError) Error() string {
	if len(e.Violations) == 1 {
		return e.File + ": " + e.Violations[0].String()
	}
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = v.String()
	}
	return fmt.Sprintf("%s: %d schema violations:\n  %s", e.File, len(e.Violations), strings.Join(lines, "\n  "))
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// FormatError converts err into a *SchemaError naming file. Errors that do
// not come from CUE are wrapped with the file name and returned unchanged
// otherwise. A nil err yields nil.
func FormatError(err error, file string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", file, err)
	}

	se := &SchemaError{File: file, Violations: make([]Violation, 0, len(list))}
	for _, e := range list {
		path := joinPath(cueerrors.Path(e))
		msg := e.Error()
		if path != "" {
			// CUE tends to repeat the path at the front of the message.
			if rest, ok := strings.CutPrefix(msg, path); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		se.Violations = append(se.Violations, Violation{Path: path, Message: msg})
	}
	return se
}

// joinPath renders CUE path selectors, e.g. ["properties", "0"] becomes
// "properties[0]".
func joinPath(selectors []string) string {
	var b strings.Builder
	for i, sel := range selectors {
		if _, err := strconv.Atoi(sel); err == nil && i > 0 {
			b.WriteString("[" + sel + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(sel)
	}
	return b.String()
}

// CheckFileSize reports ErrFileTooLarge when data exceeds maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if size := int64(len(data)); size > maxSize {
		return fmt.Errorf("%s: %d bytes exceeds maximum of %d: %w", filename, size, maxSize, ErrFileTooLarge)
	}
	return nil
}
