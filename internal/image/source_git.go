/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// fixedMtimeEpoch is the timestamp every fetched file's mtime is normalized
// to, so that identical source content always produces identical build
// context layers (spec.md §4.1 step 3: "normalize all file mtimes to a
// fixed epoch to make layer caching deterministic").
var fixedMtimeEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// FetchGitSource clones gitURL at ref into workDir. When ref looks like a
// commit SHA (7 to 40 hex characters), it performs a full clone of the default branch and then
// checks the commit out directly (mirroring the teacher's helm_deploy.go
// clone-then-checkout split); otherwise it performs a single-branch shallow
// clone of ref as a branch reference. Returns the resolved commit SHA.
func FetchGitSource(gitURL, ref, workDir string) (commitSHA string, err error) {
	opts := &git.CloneOptions{URL: gitURL}

	looksLikeCommit := isLikelyCommitSHA(ref)
	if ref != "" && !looksLikeCommit {
		opts.SingleBranch = true
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	if !looksLikeCommit {
		opts.Depth = 1
	}

	repo, err := git.PlainClone(workDir, false, opts)
	if err != nil {
		return "", fmt.Errorf("image: clone %s: %w", gitURL, err)
	}

	if looksLikeCommit {
		w, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("image: open worktree: %w", err)
		}
		if err := w.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); err != nil {
			return "", fmt.Errorf("image: checkout commit %s: %w", ref, err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("image: resolve HEAD: %w", err)
	}

	if err := normalizeMtimes(workDir); err != nil {
		return "", fmt.Errorf("image: normalize mtimes: %w", err)
	}
	if err := appendGitIgnoreEntries(workDir); err != nil {
		return "", fmt.Errorf("image: append dockerignore entries: %w", err)
	}

	return head.Hash().String(), nil
}

// ResolveGitRef resolves ref to a concrete commit SHA via a lightweight
// remote reference listing (a `git ls-remote`-equivalent) rather than a
// clone, so callers needing a real commit hash before deciding whether to
// fetch (e.g. the registry-probe tag in builder.go, spec.md §4.1 step 1) are
// not stuck truncating the raw ref string. If ref already looks like a
// commit SHA, it is returned unchanged — there is nothing to resolve.
func ResolveGitRef(gitURL, ref string) (string, error) {
	if ref == "" || isLikelyCommitSHA(ref) {
		return ref, nil
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{gitURL},
	})

	refs, err := remote.List(&git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("image: list remote refs for %s: %w", gitURL, err)
	}

	wantBranch := plumbing.NewBranchReferenceName(ref)
	wantTag := plumbing.NewTagReferenceName(ref)
	for _, r := range refs {
		if r.Name() == wantBranch || r.Name() == wantTag {
			return r.Hash().String(), nil
		}
	}

	return "", fmt.Errorf("image: ref %q not found on remote %s", ref, gitURL)
}

func isLikelyCommitSHA(ref string) bool {
	if len(ref) < 7 || len(ref) > 40 {
		return false
	}
	for _, r := range ref {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// normalizeMtimes walks workDir and resets every regular file's mtime to the
// fixed epoch, except .git, which go-git manages and which is excluded from
// the build context anyway.
func normalizeMtimes(workDir string) error {
	return filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(workDir, path); relErr == nil && isUnderGitDir(rel) {
			return nil
		}
		return os.Chtimes(path, fixedMtimeEpoch, fixedMtimeEpoch)
	})
}

func isUnderGitDir(relPath string) bool {
	return relPath == ".git" || strings.HasPrefix(relPath, ".git"+string(filepath.Separator))
}

// appendGitIgnoreEntries appends .git and .gitmodules to the fetched
// source's .dockerignore, creating the file if absent, so the OCI build
// never ships version-control metadata into the image layer.
func appendGitIgnoreEntries(workDir string) error {
	path := filepath.Join(workDir, ".dockerignore")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString("\n.git\n.gitmodules\n")
	return err
}
