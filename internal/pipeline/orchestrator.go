package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edoardograci/track-loop-main/internal/audio"
	"github.com/edoardograci/track-loop-main/internal/cache"
	"github.com/edoardograci/track-loop-main/internal/config"
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/midi"
	"github.com/edoardograci/track-loop-main/internal/pitch"
	"github.com/edoardograci/track-loop-main/internal/progress"
	"github.com/edoardograci/track-loop-main/internal/synth"
	"github.com/edoardograci/track-loop-main/internal/workspace"
)

// Config holds pipeline configuration
type Config struct {
	InputPath      string
	OutputPath     string
	MIDIOutputPath string // Optional copy of the intermediate MIDI file
	WorkDir        string // Base for the run's workspace (system temp when empty)
	MaxFileSize    int64

	Engine string
	Params pitch.Params
	Kernel int

	Boundary  midi.BoundaryMode
	Policy    midi.PitchPolicy
	TimeScale float64
	Velocity  int
	Tempo     float64

	TicksPerQuarter uint16
	Channel         uint8

	UseCache bool
	CacheDir string

	TranscodeTimeout time.Duration
	ExtractTimeout   time.Duration
	RenderTimeout    time.Duration
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		MaxFileSize:      audio.MaxFileSize,
		Engine:           pitch.EngineScript,
		Params:           pitch.DefaultParams(),
		Kernel:           pitch.DefaultKernel,
		Boundary:         midi.BoundaryAligned,
		Policy:           midi.PolicyDiscard,
		TimeScale:        midi.DefaultTimeScale,
		Velocity:         midi.DefaultVelocity,
		Tempo:            midi.DefaultTempo,
		TicksPerQuarter:  midi.DefaultTicksPerQuarter,
		TranscodeTimeout: 2 * time.Minute,
		ExtractTimeout:   10 * time.Minute,
		RenderTimeout:    5 * time.Minute,
	}
}

// ConfigFromSettings maps loaded settings onto a pipeline Config. Input
// and output paths are left for the caller.
func ConfigFromSettings(s *config.Settings) Config {
	cfg := DefaultConfig()
	cfg.MaxFileSize = s.Audio.MaxSize
	cfg.Engine = s.Tracker.Engine
	cfg.Params = s.PitchParams()
	cfg.Kernel = s.Segmentation.Kernel
	cfg.Boundary = midi.BoundaryMode(s.Segmentation.Boundary)
	cfg.Policy = midi.PitchPolicy(s.Segmentation.PitchPolicy)
	cfg.TimeScale = s.Segmentation.TimeScale
	cfg.Velocity = s.Segmentation.Velocity
	cfg.Tempo = s.MIDI.Tempo
	cfg.TicksPerQuarter = uint16(s.MIDI.TicksPerQuarter)
	cfg.Channel = uint8(s.MIDI.Channel)
	cfg.UseCache = s.Cache.Enabled
	cfg.CacheDir = s.Cache.Dir
	cfg.TranscodeTimeout = s.Timeouts.Transcode
	cfg.ExtractTimeout = s.Timeouts.Extract
	cfg.RenderTimeout = s.Timeouts.Render
	return cfg
}

// Result contains all pipeline outputs
type Result struct {
	OutputPath string
	MIDIPath   string // Set when a MIDI copy was requested
	Format     audio.Format
	Source     string
	Duration   float64 // Input length in seconds
	Frames     int
	Onsets     int
	Notes      int
	Rendered   bool
	Sequence   *midi.Sequence
	Elapsed    time.Duration
}

// Options configure the collaborators of an Orchestrator
type Options struct {
	Runner     exec.CommandRunner // Defaults to an exec.Runner
	FFmpeg     string
	FluidSynth string
	Python     string
	ScriptsDir string
	SoundFont  string
	Gain       float64
	SampleRate int

	Progress io.Writer
	Verbose  bool
	Log      logrus.FieldLogger

	// Source replaces the configured pitch engine when set.
	Source pitch.Source
}

// OptionsFromSettings maps loaded settings onto Orchestrator options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		FFmpeg:     s.Tools.FFmpeg,
		FluidSynth: s.Tools.FluidSynth,
		Python:     s.Tools.Python,
		ScriptsDir: s.Tools.ScriptsDir,
		SoundFont:  s.Synth.SoundFont,
		Gain:       s.Synth.Gain,
		SampleRate: s.Audio.SampleRate,
	}
}

// Orchestrator coordinates the full processing pipeline
type Orchestrator struct {
	runner     exec.CommandRunner
	python     string
	scriptsDir string
	transcoder *audio.Transcoder
	renderer   *synth.Renderer
	source     pitch.Source
	progress   *progress.Reporter
	log        logrus.FieldLogger
}

// NewOrchestrator creates a new pipeline orchestrator
func NewOrchestrator(opts Options) *Orchestrator {
	log := logging.OrDiscard(opts.Log)

	runner := opts.Runner
	python := opts.Python
	if runner == nil {
		r := exec.NewRunner(opts.Python, opts.ScriptsDir, log)
		runner, python = r, r.PythonPath
	}
	if python == "" {
		python = "python3"
	}

	return &Orchestrator{
		runner:     runner,
		python:     python,
		scriptsDir: opts.ScriptsDir,
		transcoder: audio.NewTranscoder(runner, opts.FFmpeg, opts.SampleRate, log),
		renderer:   synth.NewRenderer(runner, opts.FluidSynth, opts.SoundFont, opts.Gain, log),
		source:     opts.Source,
		progress:   progress.NewReporter(opts.Progress, opts.Verbose),
		log:        log,
	}
}

// Renderer exposes the synthesizer, e.g. for preflight checks
func (o *Orchestrator) Renderer() *synth.Renderer { return o.renderer }

// WantsRender reports whether output names an audio file rather than MIDI
func WantsRender(output string) bool {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".mid", ".midi":
		return false
	}
	return true
}

// Execute runs the full pipeline. Temporary files never outlive the call
// and nothing is written to cfg.OutputPath unless the run succeeds.
func (o *Orchestrator) Execute(ctx context.Context, cfg Config) (*Result, error) {
	start := time.Now()
	log := o.log.WithFields(logrus.Fields{
		logging.FieldInput:  cfg.InputPath,
		logging.FieldOutput: cfg.OutputPath,
	})
	log.Info("starting conversion process")

	render := WantsRender(cfg.OutputPath)
	if render {
		// Fail before doing any work when the instrument is missing
		if err := o.renderer.CheckInstrument(); err != nil {
			return nil, err
		}
	}

	// Create workspace
	ws, err := workspace.Create(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			log.WithError(apperrors.Wrap(apperrors.ErrCleanup, err, "remove %s", ws.Dir)).
				Error("error removing temporary files")
		}
	}()

	result := &Result{OutputPath: cfg.OutputPath}

	// Stage 1: Validate input
	o.progress.StartStage(progress.StageValidate)
	format, err := audio.ValidateInput(cfg.InputPath, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	result.Format = format
	o.progress.StageComplete("Valid %s file", format)

	// Stage 2: Decode, through ffmpeg unless the input is already PCM WAV
	clip, err := o.decode(ctx, cfg, ws, format)
	if err != nil {
		return nil, err
	}
	result.Duration = clip.Duration()
	log.Debugf("loaded audio: %d samples, sr=%d", len(clip.Samples), clip.SampleRate)

	// Stage 3: Pitch and onsets
	o.progress.StartStage(progress.StageExtract)
	src, err := o.pitchSource(cfg, ws)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "configure pitch source")
	}
	extractCtx, cancel := withTimeout(ctx, cfg.ExtractTimeout)
	track, err := src.Extract(extractCtx, clip)
	cancel()
	if err != nil {
		return nil, err
	}
	if err := track.Validate(); err != nil {
		return nil, err
	}
	result.Source = src.Name()
	result.Frames = len(track.Frames)
	result.Onsets = len(track.Onsets)
	o.progress.StageComplete("Detected %d onsets over %d frames (%s)", len(track.Onsets), len(track.Frames), src.Name())

	// Stage 4: Smooth and segment
	o.progress.StartStage(progress.StageSegment)
	seg := &midi.Segmenter{
		Boundary: cfg.Boundary,
		Policy:   cfg.Policy,
		Timing:   midi.Timing{Scale: cfg.TimeScale},
		Velocity: cfg.Velocity,
		Tempo:    cfg.Tempo,
		Log:      log.WithField(logging.FieldStage, "segment"),
	}
	seq, err := seg.Segment(pitch.SmoothTrack(track, cfg.Kernel))
	if err != nil {
		return nil, err
	}
	result.Sequence = seq
	result.Notes = len(seq.Notes)
	o.progress.StageComplete("%d notes", len(seq.Notes))

	// Stage 5: MIDI file
	o.progress.StartStage(progress.StageWrite)
	opts := midi.WriteOptions{TicksPerQuarter: cfg.TicksPerQuarter, Channel: cfg.Channel}
	if err := midi.WriteFile(ws.TempMIDI(), seq, opts); err != nil {
		return nil, err
	}
	if cfg.MIDIOutputPath != "" {
		export := ws.Path("export.mid")
		if err := midi.WriteFile(export, seq, opts); err != nil {
			return nil, err
		}
		if err := ws.Publish(export, cfg.MIDIOutputPath); err != nil {
			return nil, fmt.Errorf("save midi: %w", err)
		}
		result.MIDIPath = cfg.MIDIOutputPath
		o.progress.StageComplete("MIDI saved to %s", cfg.MIDIOutputPath)
	}

	if !render {
		o.progress.Skip(progress.StageRender, "midi output")
		if err := ws.Publish(ws.TempMIDI(), cfg.OutputPath); err != nil {
			return nil, fmt.Errorf("save midi: %w", err)
		}
	} else {
		// Stage 6: Render
		o.progress.StartStage(progress.StageRender)
		renderCtx, cancel := withTimeout(ctx, cfg.RenderTimeout)
		err := o.renderer.Render(renderCtx, ws.TempMIDI(), ws.Rendered())
		cancel()
		if err != nil {
			return nil, err
		}
		if err := ws.Publish(ws.Rendered(), cfg.OutputPath); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSynthesis, err, "publish rendered audio")
		}
		if _, err := os.Stat(cfg.OutputPath); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSynthesis, err, "output file not found at %s", cfg.OutputPath)
		}
		result.Rendered = true
	}

	result.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"notes":   result.Notes,
		"elapsed": result.Elapsed.Round(time.Millisecond),
	}).Info("conversion complete")
	o.progress.Done(cfg.OutputPath)
	return result, nil
}

// decode loads the input as a Clip. WAV files are read directly and only
// go through ffmpeg if the decoder rejects their encoding.
func (o *Orchestrator) decode(ctx context.Context, cfg Config, ws *workspace.Workspace, format audio.Format) (*audio.Clip, error) {
	if !format.NeedsTranscode() {
		clip, err := audio.LoadWAV(cfg.InputPath)
		if err == nil {
			o.progress.Skip(progress.StageTranscode, "already wav")
			return clip, nil
		}
		if !errors.Is(err, apperrors.ErrCorruptedFile) {
			return nil, err
		}
		o.log.WithError(err).Warn("direct WAV decode failed, transcoding")
	}

	o.progress.StartStage(progress.StageTranscode)
	transcodeCtx, cancel := withTimeout(ctx, cfg.TranscodeTimeout)
	err := o.transcoder.Transcode(transcodeCtx, cfg.InputPath, ws.TempWAV())
	cancel()
	if err != nil {
		return nil, err
	}

	clip, err := audio.LoadWAV(ws.TempWAV())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTranscode, err, "decode transcoded audio")
	}
	o.progress.StageComplete("Extracted %.1fs of audio at %d Hz", clip.Duration(), clip.SampleRate)
	return clip, nil
}

// pitchSource returns the configured Source, wrapped by the track cache
// when enabled.
func (o *Orchestrator) pitchSource(cfg Config, ws *workspace.Workspace) (pitch.Source, error) {
	src := o.source
	if src == nil {
		var err error
		src, err = pitch.NewSource(pitch.Options{
			Engine:     cfg.Engine,
			Params:     cfg.Params,
			Python:     o.python,
			ScriptsDir: o.scriptsDir,
			Output:     ws.TrackJSON(),
		}, o.runner, o.log)
		if err != nil {
			return nil, err
		}
	}
	if !cfg.UseCache {
		return src, nil
	}

	trackCache, err := cache.New(cfg.CacheDir, o.scriptsDir)
	if err != nil {
		o.progress.Warning("Cache init failed: %v", err)
		return src, nil
	}
	return &cache.Source{
		Inner:  src,
		Cache:  trackCache,
		Params: cfg.Params,
		Log:    o.log,
	}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
