// Package fileset expands CLI input arguments (files, directories, glob
// patterns) into a deterministic list of regular files to back up.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ryanuber/go-glob"
)

// Expand implements C9: given a list of input strings, returns a sorted,
// de-duplicated list of regular-file paths. Each input is evaluated
// independently: a regular file is included as-is; a directory is treated
// as the pattern "<dir>/**/*" (every regular file anywhere beneath it); any
// other string is treated as a recursive glob pattern matched against the
// filesystem.
func Expand(inputs []string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, input := range inputs {
		info, err := os.Stat(input)
		switch {
		case err == nil && info.Mode().IsRegular():
			seen[input] = struct{}{}
		case err == nil && info.IsDir():
			if err := walkDir(input, seen); err != nil {
				return nil, err
			}
		default:
			matches, err := globMatch(input)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				seen[m] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func walkDir(dir string, into map[string]struct{}) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("fileset: walk %s: %w", path, err)
		}
		if d.Type().IsRegular() {
			into[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fileset: expand directory %s: %w", dir, err)
	}
	return nil
}

// globMatch walks from the pattern's non-wildcard root directory, matching
// every regular file whose path satisfies pattern via ryanuber/go-glob. This
// supports recursive glob patterns (e.g. "**/*.log") that filepath.Glob
// itself cannot express; a "**/" segment also matches zero directories, so
// "logs/**/*.log" includes "logs/app.log".
func globMatch(pattern string) ([]string, error) {
	root := globRoot(pattern)

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("fileset: walk %s: %w", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if glob.Glob(pattern, path) || glob.Glob(strings.ReplaceAll(pattern, "**"+string(filepath.Separator), ""), path) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fileset: expand pattern %s: %w", pattern, err)
	}
	return matches, nil
}

// globRoot returns the longest path prefix of pattern that contains no
// glob metacharacter, used as the starting point for the filesystem walk so
// a pattern like "data/logs/**/*.log" doesn't require scanning from "/".
func globRoot(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	var rootParts []string
	for _, part := range parts {
		if containsMeta(part) {
			break
		}
		rootParts = append(rootParts, part)
	}
	if len(rootParts) == 0 {
		return "."
	}
	root := filepath.Join(rootParts...)
	if strings.HasPrefix(pattern, "/") {
		root = "/" + root
	}
	return root
}

func containsMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}':
			return true
		}
	}
	return false
}
