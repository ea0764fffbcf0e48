package errors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for expected failure modes
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptedFile     = errors.New("file corrupted or unreadable")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrToolNotInstalled  = errors.New("required tool not installed")
	ErrInstrumentMissing = errors.New("instrument bank not found")
)

// Stage errors. Every fatal pipeline failure matches exactly one of these.
var (
	ErrTranscode       = errors.New("transcode failed")
	ErrPitchExtraction = errors.New("pitch extraction failed")
	ErrSegmentation    = errors.New("segmentation failed")
	ErrSynthesis       = errors.New("synthesis failed")
	ErrCleanup         = errors.New("cleanup failed")
)

// ProcessError represents a failure in an external process
type ProcessError struct {
	Tool     string // "ffmpeg", "fluidsynth", "python"
	Stage    string // "transcode", "extract", "render"
	ExitCode int
	Stderr   string
	Kind     error // one of the stage sentinels
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed at %s (exit %d): %s", e.Tool, e.Stage, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed at %s (exit %d)", e.Tool, e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the stage sentinel this error belongs to.
func (e *ProcessError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewProcessError creates a ProcessError with a stack trace attached.
func NewProcessError(kind error, tool, stage string, exitCode int, stderr string, cause error) error {
	return pkgerrors.WithStack(&ProcessError{
		Tool:     tool,
		Stage:    stage,
		ExitCode: exitCode,
		Stderr:   stderr,
		Kind:     kind,
		Cause:    cause,
	})
}

// Wrap tags err with a stage sentinel and records a stack trace.
// The returned error matches both kind and err with errors.Is.
func Wrap(kind error, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err == nil {
		return pkgerrors.WithStack(fmt.Errorf("%w: %s", kind, msg))
	}
	return pkgerrors.WithStack(fmt.Errorf("%w: %s: %w", kind, msg, err))
}

// Newf builds a stage error without an underlying cause.
func Newf(kind error, format string, args ...any) error {
	return Wrap(kind, nil, format, args...)
}

// Kind returns the stage sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrTranscode, ErrPitchExtraction, ErrSegmentation, ErrSynthesis, ErrCleanup, ErrInstrumentMissing} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
