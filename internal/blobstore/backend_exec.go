package blobstore

import (
	"context"
	"fmt"
	"os/exec"
)

// ExecBackend delegates every operation to an external executable, invoked
// as `<path> <remote_name> <local_path> <verb>`, per spec §4.5's fallback
// rule for a destination string with no matching known scheme. This lets a
// deployment plug in storage backends blobvault has no native driver for
// (tape, an internal object store, a second-hop rsync) without a code
// change.
type ExecBackend struct {
	path string
}

// NewExecBackend returns a backend that shells out to the executable at
// path.
func NewExecBackend(path string) *ExecBackend {
	return &ExecBackend{path: path}
}

func (b *ExecBackend) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.path, args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("blobstore: exec: %s %v: %w (stderr: %s)", b.path, args, err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("blobstore: exec: %s %v: %w", b.path, args, err)
	}
	return out, nil
}

func (b *ExecBackend) Exists(ctx context.Context, remotePath string) (bool, error) {
	cmd := exec.CommandContext(ctx, b.path, remotePath, "", "exists")
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		// Convention: exit code 1 means "does not exist"; anything else is
		// a genuine backend error.
		if exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, fmt.Errorf("blobstore: exec: exists %s: %w", remotePath, err)
}

func (b *ExecBackend) Upload(ctx context.Context, localPath, remotePath string) error {
	_, err := b.run(ctx, remotePath, localPath, "upload")
	return err
}

func (b *ExecBackend) Download(ctx context.Context, remotePath, localPath string) error {
	_, err := b.run(ctx, remotePath, localPath, "download")
	return err
}

func (b *ExecBackend) Remove(ctx context.Context, remotePath string) error {
	_, err := b.run(ctx, remotePath, "", "remove")
	return err
}

func (b *ExecBackend) List(ctx context.Context, prefix string, recursive bool, globPattern string) ([]string, error) {
	args := []string{prefix, ""}
	if recursive {
		args = append(args, "--recursive")
	}
	if globPattern != "" {
		args = append(args, "--glob", globPattern)
	}
	args = append(args, "list")
	out, err := b.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(data[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
