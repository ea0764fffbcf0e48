package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Workspace manages temporary files for a single conversion run.
// Every run gets its own directory, so concurrent runs never share files.
type Workspace struct {
	Dir       string
	CreatedAt time.Time
}

// Create creates a new isolated workspace under base (the system temp
// directory when base is empty).
func Create(base string) (*Workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "track-loop-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{
		Dir:       dir,
		CreatedAt: time.Now(),
	}, nil
}

// Path helpers for workspace files
func (w *Workspace) TempWAV() string   { return filepath.Join(w.Dir, "temp.wav") }
func (w *Workspace) TempMIDI() string  { return filepath.Join(w.Dir, "temp.mid") }
func (w *Workspace) TrackJSON() string { return filepath.Join(w.Dir, "track.json") }
func (w *Workspace) Rendered() string  { return filepath.Join(w.Dir, "rendered.wav") }

// Path returns name inside the workspace
func (w *Workspace) Path(name string) string { return filepath.Join(w.Dir, name) }

// Cleanup removes the workspace directory and all contents
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.Dir)
}

// Publish moves a finished artifact out of the workspace to dst, creating
// dst's directory if needed. Falls back to copy+remove across filesystems.
func (w *Workspace) Publish(src, dst string) error {
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}

	tmp := dst + ".partial"
	if err := copyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move %s: %w", filepath.Base(src), err)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write destination: %w", err)
	}
	return out.Close()
}
