// Package repo reads branch and commit information of the tree the council
// analyzes, for the report header.
package repo

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info describes the repository containing a directory.
type Info struct {
	Root   string
	Branch string
	Commit string
	Dirty  bool
}

// String renders Info as "branch@commit", with a dirty marker.
func (i Info) String() string {
	ref := i.Branch
	if ref == "" {
		ref = "detached"
	}
	s := ref
	if i.Commit != "" {
		s += "@" + i.Commit
	}
	if i.Dirty {
		s += " (uncommitted changes)"
	}
	return s
}

// Inspect opens the repository containing dir, walking up to find .git.
func Inspect(dir string) (Info, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Info{}, err
	}
	r, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Info{}, fmt.Errorf("repo: open %s: %w", abs, err)
	}
	info := Info{Root: abs}
	if wt, err := r.Worktree(); err == nil {
		info.Root = wt.Filesystem.Root()
		if status, err := wt.Status(); err == nil {
			info.Dirty = !status.IsClean()
		}
	}
	head, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// fresh repository without commits
			return info, nil
		}
		return info, fmt.Errorf("repo: read HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	info.Commit = head.Hash().String()[:7]
	return info, nil
}

// Describe returns Inspect(dir).String(), or "" when dir is not inside a
// repository.
func Describe(dir string) string {
	info, err := Inspect(dir)
	if err != nil {
		return ""
	}
	return info.String()
}
