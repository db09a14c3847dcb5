package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jorge-barreto/patchr/internal/config"
)

// ClaudeCLI completes prompts by running `claude -p` as a subprocess.
type ClaudeCLI struct {
	Binary string // defaults to "claude"
	Model  string
	Dir    string // working directory, may be empty
}

func (c *ClaudeCLI) binary() string {
	if c.Binary == "" {
		return "claude"
	}
	return c.Binary
}

func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (string, error) {
	args := []string{"-p", req.Prompt}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code, err := exitCode(cmd.Run())
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.binary(), err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if code != 0 {
		return "", fmt.Errorf("%s exited with code %d: %s", c.binary(), code, tail(stderr.String(), 500))
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", errors.New(c.binary() + " produced no output")
	}
	return out, nil
}

// exitCode extracts an exit code from a command error.
// Returns (code, nil) for ExitError, (0, err) for other errors, (0, nil) for nil.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

// Preflight checks that the binary a provider needs is on PATH.
func Preflight(provider string) error {
	if provider != config.ProviderClaudeCLI {
		return nil
	}
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("required binary not found in PATH: claude")
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
