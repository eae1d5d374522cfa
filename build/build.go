// Package build turns revisions of the planner repository into runnable
// executables and caches them per revision.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// CacheDir is the directory under the data dir holding built revisions.
const CacheDir = "revision-cache"

// Artifact is a finished build of one revision.
type Artifact struct {
	Revision   string
	Dir        string
	Executable string
}

// Builder produces artifacts. Build is idempotent: a revision that was
// already built is returned from the cache without rebuilding.
type Builder interface {
	Build(ctx context.Context, rev string) (Artifact, error)
	Locate(rev string) (Artifact, error)
}

// ErrNotBuilt is returned by Locate for revisions without an artifact.
var ErrNotBuilt = errors.New("revision not built")

// Failure is a failed build. Log holds the toolchain output.
type Failure struct {
	Revision string
	Log      string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("build %s: %v", f.Revision, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FlagSets are the named CMake flag sets selectable by build name.
var FlagSets = map[string][]string{
	"release": {"-DCMAKE_BUILD_TYPE=Release"},
	"debug":   {"-DCMAKE_BUILD_TYPE=Debug"},
	// USE_GLIBCXX_DEBUG is incompatible with USE_LP.
	"glibcxx_debug": {"-DCMAKE_BUILD_TYPE=Debug", "-DUSE_LP=NO", "-DUSE_GLIBCXX_DEBUG=YES"},
	"minimal":       {"-DCMAKE_BUILD_TYPE=Release", "-DDISABLE_PLUGINS_BY_DEFAULT=YES"},
	"prototype": {
		"-DCMAKE_BUILD_TYPE=Release",
		"-DDISABLE_PLUGINS_BY_DEFAULT=YES",
		"-DPLUGIN_BLIND_SEARCH_HEURISTIC_ENABLED=YES",
		"-DPLUGIN_PLUGIN_ASTAR_ENABLED=YES",
	},
}

// Flags returns the flag set called name followed by extra.
func Flags(name string, extra []string) ([]string, error) {
	base, ok := FlagSets[name]
	if !ok && len(extra) == 0 {
		return nil, fmt.Errorf("unknown build %q", name)
	}

	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)

	return append(out, extra...), nil
}

// Runner runs a toolchain command in dir, writing its combined output to
// log.
type Runner interface {
	Run(ctx context.Context, dir string, log io.Writer, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, log io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = log
	cmd.Stderr = log

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// CMakeConfig describes a CMake build of a git repository.
type CMakeConfig struct {
	Repository string
	// CacheRoot is normally <data_dir>/revision-cache.
	CacheRoot  string
	Name       string
	Flags      []string
	Executable string
	Jobs       int
}

// CMake clones, configures and builds revisions with git and CMake.
type CMake struct {
	cfg    CMakeConfig
	run    Runner
	logger *slog.Logger
}

// NewCMake returns a CMake builder.
func NewCMake(cfg CMakeConfig, run Runner, logger *slog.Logger) *CMake {
	if cfg.Jobs <= 0 {
		cfg.Jobs = 1
	}

	return &CMake{cfg: cfg, run: run, logger: logger.With(slog.String("build", cfg.Name))}
}

func (c *CMake) revisionDir(rev string) string {
	return filepath.Join(c.cfg.CacheRoot, rev)
}

func (c *CMake) buildDir(root string) string {
	return filepath.Join(root, "builds", c.cfg.Name)
}

func (c *CMake) artifact(rev, root string) Artifact {
	return Artifact{
		Revision:   rev,
		Dir:        root,
		Executable: filepath.Join(c.buildDir(root), c.cfg.Executable),
	}
}

// Locate returns the cached artifact for rev.
func (c *CMake) Locate(rev string) (Artifact, error) {
	a := c.artifact(rev, c.revisionDir(rev))

	info, err := os.Stat(a.Executable)
	if err != nil || info.IsDir() {
		return Artifact{}, fmt.Errorf("%s: %w", rev, ErrNotBuilt)
	}

	return a, nil
}

// Build implements Builder.
func (c *CMake) Build(ctx context.Context, rev string) (Artifact, error) {
	if a, err := c.Locate(rev); err == nil {
		c.logger.DebugContext(ctx, "using cached build", slog.String("revision", rev))

		return a, nil
	}

	flags, err := Flags(c.cfg.Name, c.cfg.Flags)
	if err != nil {
		return Artifact{}, err
	}

	if err := os.MkdirAll(c.cfg.CacheRoot, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create revision cache: %w", err)
	}

	c.logger.InfoContext(ctx, "building revision", slog.String("revision", rev))

	final := c.revisionDir(rev)

	// A checkout left by a build with other flags only needs a new
	// build directory.
	if _, err := os.Stat(filepath.Join(final, ".git")); err == nil {
		var log bytes.Buffer
		if err := c.compile(ctx, final, flags, &log); err != nil {
			_ = os.RemoveAll(c.buildDir(final))

			return Artifact{}, &Failure{Revision: rev, Log: log.String(), Err: err}
		}

		a, err := c.Locate(rev)
		if err != nil {
			return Artifact{}, &Failure{Revision: rev, Log: log.String(), Err: err}
		}

		return a, nil
	}

	tmp, err := os.MkdirTemp(c.cfg.CacheRoot, rev+".tmp-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create build dir: %w", err)
	}

	var log bytes.Buffer

	err = c.checkout(ctx, tmp, rev, &log)
	if err == nil {
		err = c.compile(ctx, tmp, flags, &log)
	}

	if err == nil {
		_, err = os.Stat(c.artifact(rev, tmp).Executable)
	}

	if err != nil {
		_ = os.RemoveAll(tmp)

		return Artifact{}, &Failure{Revision: rev, Log: log.String(), Err: err}
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)

		return Artifact{}, fmt.Errorf("finish build %s: %w", rev, err)
	}

	c.logger.InfoContext(ctx, "revision built",
		slog.String("revision", rev),
		slog.String("executable", c.artifact(rev, final).Executable),
	)

	return c.Locate(rev)
}

func (c *CMake) checkout(ctx context.Context, dir, rev string, log io.Writer) error {
	if err := c.run.Run(ctx, c.cfg.CacheRoot, log, "git", "clone", "--quiet", c.cfg.Repository, dir); err != nil {
		return err
	}

	return c.run.Run(ctx, dir, log, "git", "checkout", "--quiet", rev)
}

func (c *CMake) compile(ctx context.Context, dir string, flags []string, log io.Writer) error {
	buildDir := filepath.Join("builds", c.cfg.Name)

	args := append([]string{"-S", ".", "-B", buildDir}, flags...)
	if err := c.run.Run(ctx, dir, log, "cmake", args...); err != nil {
		return err
	}

	return c.run.Run(ctx, dir, log, "cmake", "--build", buildDir, "-j", strconv.Itoa(c.cfg.Jobs))
}
