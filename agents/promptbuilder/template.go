/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// expand replaces each placeholder in tmpl with the result of resolve. The
// output of resolve is never rescanned.
func expand(tmpl string, resolve func(name string) (string, error)) (string, error) {
	var sb strings.Builder
	for {
		before, rest, found := strings.Cut(tmpl, openDelim)
		sb.WriteString(before)
		if !found {
			return sb.String(), nil
		}

		inner, after, found := strings.Cut(rest, closeDelim)
		if !found {
			return "", errors.New("unclosed placeholder: missing '}}'")
		}
		name := strings.TrimSpace(inner)
		if !validName(name) {
			return "", fmt.Errorf("invalid placeholder name %q", name)
		}

		val, err := resolve(name)
		if err != nil {
			return "", err
		}
		sb.WriteString(val)
		tmpl = after
	}
}

// validName accepts a letter followed by letters, digits or underscores.
func validName(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '_'):
		default:
			return false
		}
	}
	return s != ""
}
