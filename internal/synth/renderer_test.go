package synth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
)

type fakeRunner struct {
	name string
	args []string
	run  func(args []string) (*exec.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (*exec.Result, error) {
	f.name, f.args = name, args
	return f.run(args)
}

// writesOutput creates the -F destination like fluidsynth does.
func writesOutput(args []string) (*exec.Result, error) {
	for i, a := range args {
		if a == "-F" {
			return &exec.Result{Stderr: "fluidsynth: rendering"}, os.WriteFile(args[i+1], []byte("RIFF"), 0o644)
		}
	}
	return nil, errors.New("no -F")
}

func soundFont(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "keys.sf2")
	require.NoError(t, os.WriteFile(path, []byte("sfbk"), 0o644))
	return path
}

func TestRenderArgs(t *testing.T) {
	sf := soundFont(t)
	runner := &fakeRunner{run: writesOutput}
	r := NewRenderer(runner, "", sf, 0, nil)

	dst := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, r.Render(context.Background(), "in.mid", dst))

	assert.Equal(t, "fluidsynth", runner.name)
	assert.Equal(t, []string{"-ni", "-g", "1", "-F", dst, sf, "in.mid"}, runner.args)
	assert.FileExists(t, dst)
}

func TestRenderProcessFailure(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (*exec.Result, error) {
		return &exec.Result{ExitCode: 1, Stderr: "invalid soundfont"}, errors.New("exit status 1")
	}}
	r := NewRenderer(runner, "fluidsynth", soundFont(t), 1, nil)

	err := r.Render(context.Background(), "in.mid", filepath.Join(t.TempDir(), "out.wav"))
	assert.ErrorIs(t, err, apperrors.ErrSynthesis)

	var pe *apperrors.ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "invalid soundfont", pe.Stderr)
}

func TestRenderMissingOutput(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (*exec.Result, error) {
		return &exec.Result{}, nil
	}}
	r := NewRenderer(runner, "fluidsynth", soundFont(t), 1, nil)

	err := r.Render(context.Background(), "in.mid", filepath.Join(t.TempDir(), "out.wav"))
	assert.ErrorIs(t, err, apperrors.ErrSynthesis)
}

func TestRenderMissingInstrument(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (*exec.Result, error) {
		t.Fatal("renderer must not run without a soundfont")
		return nil, nil
	}}
	r := NewRenderer(runner, "fluidsynth", filepath.Join(t.TempDir(), "none.sf2"), 1, nil)

	err := r.Render(context.Background(), "in.mid", "out.wav")
	assert.ErrorIs(t, err, apperrors.ErrInstrumentMissing)

	r.SoundFont = t.TempDir()
	assert.ErrorIs(t, r.CheckInstrument(), apperrors.ErrInstrumentMissing)
}
