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

// Package image implements the Image Builder module (spec.md §4.1): the
// deterministic tag computation, source fetch (git/object-store), base-stack
// template resolution, and the external OCI build/push invocation.
package image

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/iiasa/wkube-core/internal/model"
)

// NormalizeSource renders a source URL into the path-safe token used inside
// an image tag (spec.md §2, Image Artifact): strip scheme, strip a leading
// "www.", strip a trailing ".git" or ".zip", then collapse path separators.
func NormalizeSource(raw string) string {
	s := raw

	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, ".zip")
	s = strings.Trim(s, "/")
	s = strings.ReplaceAll(s, "/", "-")

	return s
}

// shortHash renders the first 7 hex characters of the sha1 digest of input,
// the deterministic short-hash scheme used throughout the tag format.
func shortHash(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])[:7]
}

// DockerfileHash computes dockerfile_hash7: a deterministic 7-char digest of
// either the Dockerfile path string or the base-stack identifier, whichever
// the build selects.
func DockerfileHash(build model.Build) string {
	if build.Dockerfile != "" {
		return shortHash(build.Dockerfile)
	}
	return shortHash(string(build.BaseStack))
}

// CommitHashFromGit renders commit_hash7 from a resolved Git commit SHA.
func CommitHashFromGit(commitSHA string) string {
	if len(commitSHA) >= 7 {
		return commitSHA[:7]
	}
	return commitSHA
}

// CommitHashFromRef renders commit_hash for an object-store source, which
// has no commit — the literal ref stands in for it.
func CommitHashFromRef(ref string) string {
	return ref
}

// ComputeTag assembles the bit-exact image tag format from spec.md §6:
// <registry>/<prefix><normalized_source>-<dockerfile_hash7>:<commit_hash7>
func ComputeTag(registry, registryPrefix, normalizedSource, dockerfileHash, commitHash string) model.ImageArtifact {
	return model.ImageArtifact{
		Registry:          registry,
		RegistryPrefix:    registryPrefix,
		NormalizedSource:  normalizedSource,
		DockerfileHash:    dockerfileHash,
		CommitHash:        commitHash,
	}
}
