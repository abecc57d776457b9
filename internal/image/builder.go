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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/iiasa/wkube-core/internal/model"
)

// staleWorkdirAge is how old a sibling build working directory must be
// before the sweep in BuildRoot removes it (spec.md §4.1 step 6).
const staleWorkdirAge = 24 * time.Hour

// RegistryCreds carries the credentials used to log in to and probe the
// target image registry.
type RegistryCreds struct {
	Server   string
	User     string
	Password string
}

// BuildRequest is the public contract of the Image Builder
// (spec.md §4.1: "build(source, ref, secrets, dockerfile?, base_stack?, force) -> image_tag").
type BuildRequest struct {
	Registry       string
	RegistryPrefix string
	Source         model.Source
	Build          model.Build
	Force          bool

	Creds       RegistryCreds
	ObjectStore ObjectStoreConfig

	// BuildRoot is the directory fresh per-build working directories are
	// created under, and whose siblings get swept for staleness.
	BuildRoot string
}

// Builder executes the Image Builder algorithm via external OCI tooling.
type Builder struct {
	log logr.Logger
}

// NewBuilder constructs a Builder that logs external invocations to log.
func NewBuilder(log logr.Logger) *Builder {
	return &Builder{log: log}
}

// Build runs the full algorithm described in spec.md §4.1 and returns the
// resolved image tag.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (model.ImageArtifact, error) {
	if req.Build.Dockerfile == "" && req.Build.BaseStack == model.BaseStackNone {
		return model.ImageArtifact{}, &model.BadSpecError{Reason: "neither dockerfile nor base_stack supplied"}
	}
	if req.Build.Dockerfile != "" && req.Build.BaseStack != model.BaseStackNone {
		return model.ImageArtifact{}, &model.BadSpecError{Reason: "exactly one of dockerfile or base_stack must be supplied"}
	}

	normalizedSource, ref := sourceAndRef(req.Source)
	dockerfileHash := DockerfileHash(req.Build)

	// Step 1: resolve ref to a real commit hash before the registry probe
	// (a lightweight remote listing for Git sources, no clone needed yet),
	// so the provisional tag used for the probe in step 2 matches the tag a
	// real build would push, even for a branch/tag ref rather than a bare
	// commit SHA.
	provisionalCommit, err := provisionalCommitHash(req.Source, ref)
	if err != nil {
		return model.ImageArtifact{}, &model.SourceFetchError{Source: sourceDescriptor(req.Source), Err: err}
	}
	provisional := ComputeTag(req.Registry, req.RegistryPrefix, normalizedSource, dockerfileHash, provisionalCommit)

	if !req.Force {
		if b.probeRegistry(ctx, req.Creds, provisional.Tag()) {
			b.log.Info("image already present, skipping build", "tag", provisional.Tag())
			return provisional, nil
		}
	}

	workDir := filepath.Join(req.BuildRoot, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return model.ImageArtifact{}, fmt.Errorf("image: create working directory: %w", err)
	}
	defer b.cleanup(workDir, req.BuildRoot)

	commitHash, err := b.fetchSource(ctx, req, workDir)
	if err != nil {
		return model.ImageArtifact{}, &model.SourceFetchError{Source: sourceDescriptor(req.Source), Err: err}
	}

	artifact := ComputeTag(req.Registry, req.RegistryPrefix, normalizedSource, dockerfileHash, commitHash)

	dockerfilePath, err := b.resolveDockerfile(req.Build, workDir)
	if err != nil {
		return model.ImageArtifact{}, err
	}

	cacheTag := req.Registry + "/" + req.RegistryPrefix + normalizedSource + ":cache"

	if err := b.login(ctx, req.Creds); err != nil {
		return model.ImageArtifact{}, err
	}
	if err := b.runBuild(ctx, artifact.Tag(), dockerfilePath, workDir, cacheTag); err != nil {
		return model.ImageArtifact{}, err
	}
	if err := b.login(ctx, req.Creds); err != nil {
		return model.ImageArtifact{}, err
	}
	if err := b.runPush(ctx, artifact.Tag()); err != nil {
		return model.ImageArtifact{}, err
	}

	b.pruneLocalImage(ctx, artifact.Tag())

	return artifact, nil
}

func sourceAndRef(src model.Source) (normalizedSource, ref string) {
	if src.Kind == model.SourceGit {
		return NormalizeSource(src.GitURL), src.Ref
	}
	return NormalizeSource(src.ObjectStoreURL), src.Ref
}

// provisionalCommitHash resolves ref to the commit hash used for the
// registry-probe tag (spec.md §4.1 step 1). Git sources resolve ref against
// the remote via ResolveGitRef before truncating; object-store sources have
// no commit, so the literal ref stands in unchanged.
func provisionalCommitHash(src model.Source, ref string) (string, error) {
	if src.Kind != model.SourceGit {
		return CommitHashFromRef(ref), nil
	}
	sha, err := ResolveGitRef(src.GitURL, ref)
	if err != nil {
		return "", err
	}
	return CommitHashFromGit(sha), nil
}

func sourceDescriptor(src model.Source) string {
	if src.Kind == model.SourceGit {
		return src.GitURL
	}
	return src.ObjectStoreURL
}

func (b *Builder) fetchSource(ctx context.Context, req BuildRequest, workDir string) (string, error) {
	switch req.Source.Kind {
	case model.SourceGit:
		sha, err := FetchGitSource(req.Source.GitURL, req.Source.Ref, workDir)
		if err != nil {
			return "", err
		}
		return CommitHashFromGit(sha), nil
	case model.SourceObject:
		if err := FetchObjectStoreSource(ctx, req.ObjectStore, req.Source.ObjectStoreURL, workDir); err != nil {
			return "", err
		}
		return CommitHashFromRef(req.Source.Ref), nil
	default:
		return "", fmt.Errorf("unknown source kind %q", req.Source.Kind)
	}
}

func (b *Builder) resolveDockerfile(build model.Build, workDir string) (string, error) {
	if build.Dockerfile != "" {
		path := filepath.Join(workDir, build.Dockerfile)
		if _, err := os.Stat(path); err != nil {
			return "", &model.BadSpecError{Reason: fmt.Sprintf("dockerfile %q not found under working directory", build.Dockerfile)}
		}
		return path, nil
	}

	content, err := ResolveBaseStackDockerfile(build.BaseStack)
	if err != nil {
		return "", &model.BadSpecError{Reason: err.Error()}
	}
	path := filepath.Join(workDir, "Dockerfile")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("image: write base-stack dockerfile: %w", err)
	}
	return path, nil
}

// probeRegistry runs a non-destructive inspect against tag. A nil error
// (exit 0) means the tag already exists.
func (b *Builder) probeRegistry(ctx context.Context, creds RegistryCreds, tag string) bool {
	_, _, err := runCapture(ctx, "skopeo", "inspect", "--creds", creds.User+":"+creds.Password, "docker://"+tag)
	present := err == nil
	b.log.V(1).Info("registry probe", "tag", tag, "present", present)
	return present
}

func (b *Builder) login(ctx context.Context, creds RegistryCreds) error {
	out, _, err := runCapture(ctx, "buildah", "login", "-u", creds.User, "-p", creds.Password, creds.Server)
	b.log.Info("registry login", "server", creds.Server, "output", out)
	if err != nil {
		return fmt.Errorf("image: registry login: %w", err)
	}
	return nil
}

func (b *Builder) runBuild(ctx context.Context, tag, dockerfilePath, contextDir, cacheTag string) error {
	out, _, err := runCapture(ctx, "buildah", "bud",
		"--layers",
		"--cache-from", cacheTag,
		"--cache-to", cacheTag,
		"--isolation", "chroot",
		"-t", tag,
		"-f", dockerfilePath,
		contextDir,
	)
	b.log.Info("build invocation", "tag", tag, "output", out)
	if err != nil {
		return &model.BuildFailedError{Tag: tag, Output: out, Err: err}
	}
	return nil
}

func (b *Builder) runPush(ctx context.Context, tag string) error {
	out, _, err := runCapture(ctx, "buildah", "push", tag)
	b.log.Info("push invocation", "tag", tag, "output", out)
	if err != nil {
		return &model.PushFailedError{Tag: tag, Output: out, Err: err}
	}
	return nil
}

func (b *Builder) pruneLocalImage(ctx context.Context, tag string) {
	out, _, err := runCapture(ctx, "buildah", "rmi", tag)
	if err != nil {
		b.log.V(1).Info("local image removal failed, continuing", "tag", tag, "output", out)
	}
	out, _, err = runCapture(ctx, "buildah", "rmi", "--prune")
	if err != nil {
		b.log.V(1).Info("dangling image prune failed, continuing", "output", out)
	}
}

// cleanup removes workDir unconditionally, then sweeps sibling working
// directories under buildRoot older than staleWorkdirAge.
func (b *Builder) cleanup(workDir, buildRoot string) {
	if err := os.RemoveAll(workDir); err != nil {
		b.log.Error(err, "failed to remove build working directory", "dir", workDir)
	}

	entries, err := os.ReadDir(buildRoot)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleWorkdirAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale := filepath.Join(buildRoot, entry.Name())
			if err := os.RemoveAll(stale); err != nil {
				b.log.Error(err, "failed to sweep stale build directory", "dir", stale)
			}
		}
	}
}

// runCapture executes name with args, returning stdout and stderr
// separately, each trimmed.
func runCapture(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return strings.TrimSpace(outBuf.String()), strings.TrimSpace(errBuf.String()), err
}

