/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"chainguard.dev/safeops/policy"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/chainguard-dev/clog"
)

const (
	// DefaultGlob is used when a read names no pattern.
	DefaultGlob = "**/*.{ts,tsx,md}"
	// MaxFileSize is the size in bytes at which a file is left out of reads.
	MaxFileSize = 180_000
	// MaxFiles caps the number of files a single read returns.
	MaxFiles = 200
)

// File is one file returned by ReadGlob.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ReadResult is the outcome of ReadGlob.
type ReadResult struct {
	Files []File
	// Truncated is set when more than MaxFiles files matched.
	Truncated bool
	// Skipped counts matches left out for size, policy or read errors.
	Skipped int
}

// ReadGlob returns the contents of files matching pattern, in path order.
// Files the policy forbids, files of MaxFileSize bytes or more, anything
// reached through a symlink and anything under .git are left out. A file that
// cannot be read is skipped rather than failing the call.
func (w *Workspace) ReadGlob(ctx context.Context, pattern string) (*ReadResult, error) {
	pattern = strings.TrimPrefix(strings.TrimLeft(filepath.ToSlash(pattern), "/"), "./")
	if pattern == "" {
		pattern = DefaultGlob
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob %q", pattern)
	}

	var matches []string
	if err := doublestar.GlobWalk(os.DirFS(w.root), pattern, func(p string, d fs.DirEntry) error {
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || inGitDir(p) {
			return nil
		}
		matches = append(matches, p)
		return nil
	}, doublestar.WithNoFollow()); err != nil {
		return nil, fmt.Errorf("matching %q: %w", pattern, err)
	}
	slices.Sort(matches)

	root, err := os.OpenRoot(w.root)
	if err != nil {
		return nil, fmt.Errorf("opening checkout: %w", err)
	}
	defer root.Close()

	log := clog.FromContext(ctx)
	res := &ReadResult{Files: []File{}}
	for _, p := range matches {
		if len(res.Files) == MaxFiles {
			res.Truncated = true
			break
		}
		if !w.policy.IsAllowed(p) {
			res.Skipped++
			continue
		}
		if err := w.checkNoSymlinks(p); err != nil {
			log.Warnf("Skipping %s: %v", p, err)
			res.Skipped++
			continue
		}
		name := filepath.FromSlash(p)
		info, err := root.Stat(name)
		if err != nil || !info.Mode().IsRegular() || info.Size() >= MaxFileSize {
			res.Skipped++
			continue
		}
		data, err := root.ReadFile(name)
		if err != nil {
			log.Warnf("Skipping unreadable file %s: %v", p, err)
			res.Skipped++
			continue
		}
		res.Files = append(res.Files, File{
			Path:    p,
			Content: strings.ToValidUTF8(string(data), ""),
		})
	}

	log.With("pattern", pattern).
		With("files", len(res.Files)).
		With("skipped", res.Skipped).
		With("truncated", res.Truncated).
		Info("Read repository files")
	return res, nil
}

// Write replaces the whole content of a repository file, creating parent
// directories as needed. The policy is consulted on every call. Paths that
// pass through a symlink are refused, so the path checked against the policy
// is the path written, and the write itself is confined to the checkout.
func (w *Workspace) Write(ctx context.Context, path, content string) error {
	rel, ok := policy.Normalize(path)
	if !ok {
		return fmt.Errorf("path %q escapes the repository", path)
	}
	if inGitDir(rel) {
		return fmt.Errorf("path %q is inside .git", path)
	}
	if !w.policy.IsAllowed(rel) {
		return &policy.Error{Path: path}
	}

	if err := w.checkNoSymlinks(rel); err != nil {
		return err
	}

	root, err := os.OpenRoot(w.root)
	if err != nil {
		return fmt.Errorf("opening checkout: %w", err)
	}
	defer root.Close()

	name := filepath.FromSlash(rel)
	mode := os.FileMode(0o644)
	if info, err := root.Lstat(name); err == nil {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("path %q is not a regular file", path)
		}
		mode = info.Mode().Perm()
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", rel, err)
		}
	}
	if err := root.WriteFile(name, []byte(content), mode); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}

	w.state = Modified
	clog.FromContext(ctx).With("path", rel).With("bytes", len(content)).Info("Wrote file")
	return nil
}

// checkNoSymlinks fails if any existing component of rel is a symlink.
// Components that do not exist yet are fine; Write creates them as
// directories.
func (w *Workspace) checkNoSymlinks(rel string) error {
	cur := w.root
	for part := range strings.SplitSeq(rel, "/") {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", rel, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			r, _ := filepath.Rel(w.root, cur)
			return fmt.Errorf("path %q goes through symlink %s", rel, filepath.ToSlash(r))
		}
	}
	return nil
}

func inGitDir(rel string) bool {
	return rel == ".git" || strings.HasPrefix(rel, ".git/")
}
