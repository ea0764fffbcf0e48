package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/logging"
)

// Result holds command execution output
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CommandRunner runs an external program to completion.
// A non-nil error is returned for non-zero exits; Result is still populated.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// Runner executes external commands with context support
type Runner struct {
	PythonPath string
	ScriptsDir string
	Log        logrus.FieldLogger
}

var _ CommandRunner = (*Runner)(nil)

// NewRunner creates a new command runner
func NewRunner(pythonPath, scriptsDir string, log logrus.FieldLogger) *Runner {
	if pythonPath == "" {
		// Try to find Python in virtual environment first
		venvPython := filepath.Join(scriptsDir, ".venv", "bin", "python")
		if _, err := os.Stat(venvPython); err == nil {
			pythonPath = venvPython
		} else {
			pythonPath = "python3"
		}
	}
	return &Runner{
		PythonPath: pythonPath,
		ScriptsDir: scriptsDir,
		Log:        logging.OrDiscard(log),
	}
}

// Run executes name with args and captures output
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return r.execute(ctx, name, args...)
}

// execute runs a command and captures output
func (r *Runner) execute(ctx context.Context, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Log.WithField("cmd", name).Debugf("exec %s %s", name, strings.Join(args, " "))
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	r.Log.WithFields(logrus.Fields{
		"cmd":      name,
		"exit":     result.ExitCode,
		"duration": result.Duration.Round(time.Millisecond),
	}).Debug("exec finished")

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s", apperrors.ErrToolNotInstalled, name)
		}
		return result, fmt.Errorf("command %s failed: %w", name, err)
	}

	return result, nil
}

// CheckTool verifies a binary can be found on PATH
func CheckTool(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrToolNotInstalled, bin)
	}
	return nil
}

// CheckPythonDependency verifies a Python package is installed
func (r *Runner) CheckPythonDependency(ctx context.Context, packageName string) error {
	result, err := r.execute(ctx, r.PythonPath, "-c", fmt.Sprintf("import %s", packageName))
	if err != nil {
		return fmt.Errorf("%s not installed: %s", packageName, result.Stderr)
	}
	return nil
}
