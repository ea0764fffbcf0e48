package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edoardograci/track-loop-main/internal/audio"
	"github.com/edoardograci/track-loop-main/internal/config"
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/midi"
	"github.com/edoardograci/track-loop-main/internal/pitch"
)

// writeWAV writes mono 16-bit PCM.
func writeWAV(t *testing.T, path string, sampleRate int, samples []float64) {
	t.Helper()
	require.NoError(t, writeWAVFile(path, sampleRate, samples))
}

func writeWAVFile(path string, sampleRate int, samples []float64) error {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(s * 32000)
	}

	var buf bytes.Buffer
	dataLen := uint32(len(pcm) * 2)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataLen)
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	binary.Write(&buf, binary.LittleEndian, pcm)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func tone(sampleRate int, silence, length, freq float64) []float64 {
	n0, n1 := int(silence*float64(sampleRate)), int(length*float64(sampleRate))
	out := make([]float64, n0+n1)
	for i := 0; i < n1; i++ {
		out[n0+i] = 0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// fakeTools stands in for ffmpeg and fluidsynth.
type fakeTools struct {
	calls      []string
	wav        []float64
	failFFmpeg bool
	failSynth  bool
}

func (f *fakeTools) Run(_ context.Context, name string, args ...string) (*exec.Result, error) {
	f.calls = append(f.calls, name)
	switch name {
	case "ffmpeg":
		if f.failFFmpeg {
			return &exec.Result{ExitCode: 1, Stderr: "Invalid data found when processing input"}, errors.New("exit status 1")
		}
		return &exec.Result{}, writeWAVFile(args[len(args)-1], 8000, f.wav)
	case "fluidsynth":
		if f.failSynth {
			return &exec.Result{ExitCode: 1, Stderr: "fluidsynth: error"}, errors.New("exit status 1")
		}
		for i, a := range args {
			if a == "-F" {
				return &exec.Result{}, os.WriteFile(args[i+1], []byte("RIFF....WAVE"), 0o644)
			}
		}
	}
	return &exec.Result{}, errors.New("unexpected tool " + name)
}

// stubSource returns a two-note track regardless of the clip.
type stubSource struct {
	calls int
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Extract(_ context.Context, clip *audio.Clip) (*pitch.Track, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var freqs, probs []float64
	var voiced []bool
	for i := 0; i < 300; i++ {
		f := 440.0
		if i >= 100 {
			f = 493.88
		}
		freqs = append(freqs, f)
		voiced = append(voiced, true)
		probs = append(probs, 0.9)
	}
	return pitch.NewTrack("stub", 100, 1, freqs, voiced, probs, []float64{0, 1})
}

type fixture struct {
	dir       string
	work      string
	soundFont string
	tools     *fakeTools
	source    *stubSource
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		dir:    t.TempDir(),
		work:   t.TempDir(),
		tools:  &fakeTools{wav: tone(8000, 0.1, 0.5, 440)},
		source: &stubSource{},
	}
	f.soundFont = filepath.Join(f.dir, "keys.sf2")
	require.NoError(t, os.WriteFile(f.soundFont, []byte("sfbk"), 0o644))
	f.orch = NewOrchestrator(Options{
		Runner:    f.tools,
		SoundFont: f.soundFont,
		Source:    f.source,
	})
	return f
}

func (f *fixture) config(in, out string) Config {
	cfg := DefaultConfig()
	cfg.InputPath = in
	cfg.OutputPath = out
	cfg.WorkDir = f.work
	return cfg
}

func (f *fixture) wavInput(t *testing.T) string {
	path := filepath.Join(f.dir, "voice.wav")
	writeWAV(t, path, 8000, tone(8000, 0.1, 0.5, 440))
	return path
}

func (f *fixture) webmInput(t *testing.T) string {
	path := filepath.Join(f.dir, "voice.webm")
	require.NoError(t, os.WriteFile(path, []byte{0x1A, 0x45, 0xDF, 0xA3, 0, 0, 0, 0}, 0o644))
	return path
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func TestExecuteWritesMIDI(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "out", "voice.mid")

	res, err := f.orch.Execute(context.Background(), f.config(f.wavInput(t), out))
	require.NoError(t, err)

	assert.False(t, res.Rendered)
	assert.Equal(t, audio.FormatWAV, res.Format)
	assert.Equal(t, "stub", res.Source)
	assert.Equal(t, 2, res.Notes)
	assert.Empty(t, f.tools.calls, "wav input needs no external tools")

	seq, err := midi.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, seq.Notes, 2)
	assert.Equal(t, 69, seq.Notes[0].Pitch)
	assert.Equal(t, 71, seq.Notes[1].Pitch)
	assert.Equal(t, 120.0, seq.Tempo)

	assertNoTempFiles(t, f.work)
}

func TestExecuteTranscodesAndRenders(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "output", "voice.wav")
	midiOut := filepath.Join(f.dir, "output", "voice.mid")

	cfg := f.config(f.webmInput(t), out)
	cfg.MIDIOutputPath = midiOut
	res, err := f.orch.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, res.Rendered)
	assert.Equal(t, audio.FormatWebM, res.Format)
	assert.Equal(t, []string{"ffmpeg", "fluidsynth"}, f.tools.calls)
	assert.FileExists(t, out)
	assert.FileExists(t, midiOut)
	assertNoTempFiles(t, f.work)
}

func TestExecuteFailuresCleanUp(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  error
	}{
		{"transcode", func(f *fixture) { f.tools.failFFmpeg = true }, apperrors.ErrTranscode},
		{"extract", func(f *fixture) {
			f.source.err = apperrors.Newf(apperrors.ErrPitchExtraction, "tracker crashed")
		}, apperrors.ErrPitchExtraction},
		{"render", func(f *fixture) { f.tools.failSynth = true }, apperrors.ErrSynthesis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			out := filepath.Join(f.dir, "output", "voice.wav")

			_, err := f.orch.Execute(context.Background(), f.config(f.webmInput(t), out))
			assert.ErrorIs(t, err, tt.want)
			assert.NoFileExists(t, out)
			assertNoTempFiles(t, f.work)
		})
	}
}

func TestExecuteMissingSoundFont(t *testing.T) {
	f := newFixture(t)
	f.orch = NewOrchestrator(Options{
		Runner:    f.tools,
		SoundFont: filepath.Join(f.dir, "missing.sf2"),
		Source:    f.source,
	})

	_, err := f.orch.Execute(context.Background(), f.config(f.wavInput(t), filepath.Join(f.dir, "o.wav")))
	assert.ErrorIs(t, err, apperrors.ErrInstrumentMissing)
	assert.Zero(t, f.source.calls, "no work before the instrument check")
	assertNoTempFiles(t, f.work)
	assert.ErrorIs(t, f.orch.Renderer().CheckInstrument(), apperrors.ErrInstrumentMissing)
}

func TestRendererUsesOptions(t *testing.T) {
	f := newFixture(t)
	r := f.orch.Renderer()

	assert.NoError(t, r.CheckInstrument())
	assert.Contains(t, r.Args("in.mid", "out.wav"), "out.wav")
}

func TestExecuteInvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Execute(context.Background(), f.config(filepath.Join(f.dir, "none.wav"), filepath.Join(f.dir, "o.mid")))
	assert.ErrorIs(t, err, apperrors.ErrFileNotFound)

	junk := filepath.Join(f.dir, "notes.txt")
	require.NoError(t, os.WriteFile(junk, []byte("hello world"), 0o644))
	_, err = f.orch.Execute(context.Background(), f.config(junk, filepath.Join(f.dir, "o.mid")))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	assertNoTempFiles(t, f.work)
}

func TestExecuteUsesTrackCache(t *testing.T) {
	f := newFixture(t)
	in := f.wavInput(t)

	cfg := f.config(in, filepath.Join(f.dir, "a.mid"))
	cfg.UseCache = true
	cfg.CacheDir = t.TempDir()

	_, err := f.orch.Execute(context.Background(), cfg)
	require.NoError(t, err)
	cfg.OutputPath = filepath.Join(f.dir, "b.mid")
	_, err = f.orch.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, f.source.calls)
}

func TestExecuteBuiltinEngine(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a3.wav")
	writeWAV(t, in, 8000, tone(8000, 0.3, 1.2, 220))

	orch := NewOrchestrator(Options{Runner: &fakeTools{}})
	cfg := DefaultConfig()
	cfg.Engine = pitch.EngineBuiltin
	cfg.InputPath = in
	cfg.OutputPath = filepath.Join(dir, "a3.mid")
	cfg.WorkDir = t.TempDir()

	res, err := orch.Execute(context.Background(), cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Sequence.Notes)
	for _, n := range res.Sequence.Notes {
		assert.Equal(t, 57, n.Pitch)
	}
}

func TestExecuteCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := NewOrchestrator(Options{Runner: f.tools, SoundFont: f.soundFont})
	cfg := f.config(f.wavInput(t), filepath.Join(f.dir, "o.mid"))
	cfg.Engine = pitch.EngineBuiltin

	_, err := orch.Execute(ctx, cfg)
	assert.ErrorIs(t, err, context.Canceled)
	assertNoTempFiles(t, f.work)
}

func TestWantsRender(t *testing.T) {
	assert.False(t, WantsRender("out/song.mid"))
	assert.False(t, WantsRender("out/song.MIDI"))
	assert.True(t, WantsRender("out/song.wav"))
	assert.True(t, WantsRender("out/song"))
}

func TestConfigFromSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := config.Load("", nil)
	require.NoError(t, err)
	s.Segmentation.Boundary = "legacy"
	s.MIDI.Channel = 3

	cfg := ConfigFromSettings(s)
	assert.Equal(t, midi.BoundaryLegacy, cfg.Boundary)
	assert.Equal(t, uint8(3), cfg.Channel)
	assert.Equal(t, uint16(960), cfg.TicksPerQuarter)
	assert.Equal(t, 256, cfg.Params.HopLength)

	opts := OptionsFromSettings(s)
	assert.Equal(t, "ffmpeg", opts.FFmpeg)
	assert.Equal(t, 44100, opts.SampleRate)
}
