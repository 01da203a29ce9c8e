// Package config parses the host's INI-like settings format (§6 "Host
// configuration") into a model.Model tree.
//
// Grammar:
//
//	[a.b.c]            section header; descends into a nested Model
//	key = value        numeric-parseable values become Float, else String
//	`multi
//	line`               backtick-delimited string; newlines inside are literal
//	# comment           starts a line comment (also ends a value)
//
// No INI library in the example pack implements backtick multi-line blocks
// feeding a recursive Model, so this is a small hand-written scanner
// (justified in DESIGN.md).
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dirtvm/dirt/model"
)

// ErrUnterminatedBacktick is returned when a multi-line value's closing
// backtick is missing at EOF.
var ErrUnterminatedBacktick = errors.New("config: unterminated backtick string")

// Load reads INI-like text from r into a new Model.
func Load(r io.Reader) (*model.Model, error) {
	root := model.New()
	section := root

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pending *strings.Builder // non-nil while inside a backtick block

	var pendingKey string

	var pendingSection *model.Model

	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := sc.Text()

		if pending != nil {
			if i := strings.IndexByte(line, '`'); i >= 0 {
				pending.WriteByte('\n')
				pending.WriteString(line[:i])
				pendingSection.SetValue(pendingKey, pending.String())
				pending = nil

				continue
			}

			pending.WriteByte('\n')
			pending.WriteString(line)

			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			end := strings.IndexByte(trimmed, ']')
			if end < 0 {
				return nil, fmt.Errorf("config: line %d: unterminated section header", lineNo)
			}

			section = root.Sub(trimmed[1:end])

			continue
		}

		eq := strings.IndexByte(trimmed, '=')
		if eq < 0 {
			continue // malformed line: ignore, matching §7's "recover locally" policy
		}

		key := strings.TrimSpace(trimmed[:eq])
		rawVal := strings.TrimSpace(trimmed[eq+1:])

		// A backtick-delimited value is taken verbatim: '#' is literal
		// inside the quotes, so comment-stripping only applies on the
		// non-backtick path (§6 "# starts a line comment ... Backtick-
		// delimited multi-line strings").
		var val string
		if strings.HasPrefix(rawVal, "`") {
			val = rawVal
		} else {
			val = strings.TrimSpace(stripComment(rawVal))
		}

		if strings.HasPrefix(val, "`") {
			body := val[1:]
			if i := strings.IndexByte(body, '`'); i >= 0 {
				section.SetValue(key, body[:i])

				continue
			}

			b := &strings.Builder{}
			b.WriteString(body)
			pending = b
			pendingKey = key
			pendingSection = section

			continue
		}

		section.SetValue(key, val)
	}

	if pending != nil {
		return nil, ErrUnterminatedBacktick
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return root, nil
}

// stripComment truncates s at the first '#', which starts a line comment
// and ends a value (§6). Quotes do not protect a '#'.
func stripComment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}

	return s
}
