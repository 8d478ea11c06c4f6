/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// DefaultMaxLOC is the diff-size hint used when a document omits max_loc.
const DefaultMaxLOC = 400

// Document is the on-disk form of a policy.
type Document struct {
	Forbidden []string `json:"forbidden" yaml:"forbidden"`
	Allowed   []string `json:"allowed_globs,omitempty" yaml:"allowed_globs,omitempty"`
	MaxLOC    int      `json:"max_loc,omitempty" yaml:"max_loc,omitempty"`
}

// Policy is an immutable allow/deny rule set. The zero value allows everything.
type Policy struct {
	forbidden []string
	allowed   []string
	maxLOC    int
}

// Error reports a write rejected by the policy.
type Error struct {
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("path '%s' forbidden by safeops", e.Path)
}

// New validates the document's patterns and returns the corresponding Policy.
func New(doc Document) (*Policy, error) {
	p := &Policy{maxLOC: doc.MaxLOC}
	if doc.MaxLOC < 0 {
		return nil, fmt.Errorf("max_loc must not be negative, got %d", doc.MaxLOC)
	}

	var err error
	if p.forbidden, err = cleanPatterns(doc.Forbidden); err != nil {
		return nil, fmt.Errorf("forbidden: %w", err)
	}
	if p.allowed, err = cleanPatterns(doc.Allowed); err != nil {
		return nil, fmt.Errorf("allowed_globs: %w", err)
	}
	return p, nil
}

// Load reads a policy document. Files ending in .json are decoded as JSON,
// everything else as YAML.
func Load(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	var doc Document
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", file, err)
	}

	return New(doc)
}

func cleanPatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, pat := range patterns {
		pat = strings.TrimPrefix(strings.TrimLeft(filepath.ToSlash(pat), "/"), "./")
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid pattern %q", pat)
		}
		out = append(out, pat)
	}
	return out, nil
}

// Document returns a copy of the rules in their on-disk form. The max_loc
// field reports the effective hint.
func (p *Policy) Document() Document {
	return Document{
		Forbidden: slices.Clone(p.forbidden),
		Allowed:   slices.Clone(p.allowed),
		MaxLOC:    p.MaxLOC(),
	}
}

// TopLevelOnly returns the forbidden patterns that cannot match below the
// repository root because they have no "/" and do not start with "**".
// "*.env" forbids .env but not config/.env; "**/*.env" forbids both.
func (p *Policy) TopLevelOnly() []string {
	var out []string
	for _, pat := range p.forbidden {
		if !strings.Contains(pat, "/") && !strings.HasPrefix(pat, "**") {
			out = append(out, pat)
		}
	}
	return out
}

// MaxLOC returns the advisory diff-size hint.
func (p *Policy) MaxLOC() int {
	if p.maxLOC == 0 {
		return DefaultMaxLOC
	}
	return p.maxLOC
}

// IsAllowed reports whether path may be written under this policy.
func (p *Policy) IsAllowed(rel string) bool {
	return IsAllowed(rel, p)
}

// IsAllowed evaluates a path against a policy. Paths that escape the
// repository root are never allowed. A nil policy allows everything else.
func IsAllowed(rel string, p *Policy) bool {
	clean, ok := Normalize(rel)
	if !ok {
		return false
	}
	if p == nil {
		return true
	}
	if matchesAny(p.forbidden, clean) {
		return false
	}
	if len(p.allowed) == 0 {
		return true
	}
	return matchesAny(p.allowed, clean)
}

// Normalize converts a path to the repository-relative, forward-slash form
// used for matching. It reports false for the root itself and for paths that
// climb out of the repository.
func Normalize(rel string) (string, bool) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = strings.TrimLeft(rel, "/")
	clean := path.Clean(rel)
	switch {
	case clean == "." || clean == "":
		return "", false
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", false
	}
	return clean, true
}

// matchesAny reports whether any pattern matches the path or one of its
// parent directories.
func matchesAny(patterns []string, clean string) bool {
	candidates := ancestors(clean)
	for _, pat := range patterns {
		for _, c := range candidates {
			// Patterns were validated in New, so Match cannot fail.
			if ok, _ := doublestar.Match(pat, c); ok {
				return true
			}
		}
	}
	return false
}

// ancestors returns the path followed by each of its parent directories,
// "a/b/c" -> ["a/b/c", "a/b", "a"].
func ancestors(clean string) []string {
	out := []string{clean}
	for {
		i := strings.LastIndexByte(clean, '/')
		if i < 0 {
			return out
		}
		clean = clean[:i]
		out = append(out, clean)
	}
}
