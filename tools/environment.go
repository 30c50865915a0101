package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// ErrNotText is returned when a file is not valid UTF-8 text.
var ErrNotText = errors.New("file is not plain text")

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// DirEntry represents a filesystem directory entry.
type DirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FileInfo describes a single path.
type FileInfo struct {
	Path       string
	Name       string
	IsDir      bool
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	Readable   bool
	Writable   bool
	Executable bool
}

// Environment abstracts where tool operations run.
type Environment interface {
	WorkingDirectory() string
	Resolve(path string) string

	ReadFile(path string) (string, error)
	WriteFile(path, content string) (created bool, err error)
	Delete(path string) (isDir bool, err error)
	Stat(path string) (FileInfo, error)
	ListDirectory(path string) ([]DirEntry, error)
	Glob(pattern, path string) ([]DirEntry, error)

	ExecCommand(ctx context.Context, command string, timeout time.Duration, workingDir string) (*ExecResult, error)
	ExecArgs(ctx context.Context, argv []string, timeout time.Duration, workingDir string) (*ExecResult, error)
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// kept out of child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns os.Environ without credentials.
func filterEnvironment() []string {
	var filtered []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalEnvironment runs tools on the local machine, resolving relative
// paths against a working directory.
type LocalEnvironment struct {
	workingDir string
}

// NewLocalEnvironment creates a local environment rooted at workingDir,
// or the process working directory when empty.
func NewLocalEnvironment(workingDir string) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(workingDir); err == nil {
		workingDir = abs
	}
	return &LocalEnvironment{workingDir: workingDir}
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

// Resolve expands a leading ~ and makes path absolute.
func (e *LocalEnvironment) Resolve(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.workingDir, path)
	}
	return filepath.Clean(path)
}

func (e *LocalEnvironment) ReadFile(path string) (string, error) {
	resolved := e.Resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrNotText
	}
	return string(data), nil
}

func (e *LocalEnvironment) WriteFile(path, content string) (bool, error) {
	resolved := e.Resolve(path)
	_, statErr := os.Stat(resolved)
	created := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return false, err
	}
	return created, nil
}

func (e *LocalEnvironment) Delete(path string) (bool, error) {
	resolved := e.Resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return true, os.RemoveAll(resolved)
	}
	return false, os.Remove(resolved)
}

func (e *LocalEnvironment) Stat(path string) (FileInfo, error) {
	resolved := e.Resolve(path)
	info, err := os.Stat(resolved)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:       resolved,
		Name:       info.Name(),
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		Mode:       info.Mode(),
		ModTime:    info.ModTime(),
		Readable:   accessible(resolved, info, 0o4),
		Writable:   accessible(resolved, info, 0o2),
		Executable: accessible(resolved, info, 0o1),
	}, nil
}

func (e *LocalEnvironment) ListDirectory(path string) ([]DirEntry, error) {
	resolved := e.Resolve(path)
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}

	result := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := DirEntry{
			Name:  entry.Name(),
			Path:  filepath.Join(resolved, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil && !entry.IsDir() {
			de.Size = info.Size()
		}
		result = append(result, de)
	}
	return result, nil
}

// Glob returns the regular files under path whose slash-separated relative
// path matches pattern. "**" crosses directory boundaries; "*" does not.
func (e *LocalEnvironment) Glob(pattern, path string) ([]DirEntry, error) {
	root := e.Resolve(path)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	// A leading "**/" also matches files directly under root.
	var top glob.Glob
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if top, err = glob.Compile(rest, '/'); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	var matches []DirEntry
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !g.Match(rel) && (top == nil || !top.Match(rel)) {
			return nil
		}
		de := DirEntry{Name: d.Name(), Path: p}
		if fi, err := d.Info(); err == nil {
			de.Size = fi.Size()
		}
		matches = append(matches, de)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches, nil
}

// ExecCommand runs command through the platform shell.
func (e *LocalEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration, workingDir string) (*ExecResult, error) {
	return e.exec(ctx, append(shellCommand(), command), timeout, workingDir)
}

// ExecArgs runs argv directly without a shell.
func (e *LocalEnvironment) ExecArgs(ctx context.Context, argv []string, timeout time.Duration, workingDir string) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return e.exec(ctx, argv, timeout, workingDir)
}

func (e *LocalEnvironment) exec(ctx context.Context, argv []string, timeout time.Duration, workingDir string) (*ExecResult, error) {
	dir := e.workingDir
	if workingDir != "" {
		dir = e.Resolve(workingDir)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = filterEnvironment()
	configureProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, err
}

func shellCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd.exe", "/c"}
	}
	return []string{"/bin/sh", "-c"}
}
