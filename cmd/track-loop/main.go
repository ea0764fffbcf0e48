package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edoardograci/track-loop-main/internal/config"
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/pipeline"
)

var (
	version = "0.1.0"
)

// Flag values
var (
	configPath  string
	midiOutput  string
	verbose     bool
	serverPort  int
	logLevel    string
	logFormat   string
	engine      string
	soundFont   string
	boundary    string
	pitchPolicy string
	tempo       float64
	useCache    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "track-loop <input> <output>",
	Short: "Turn a sung melody into MIDI and render it with a sampled instrument",
	Long: `track-loop transcribes a monophonic vocal recording into a MIDI melody
and renders it back to audio through a SoundFont instrument.

Pipeline: audio → pitch track → notes → MIDI → rendered WAV

An output ending in .mid or .midi skips rendering and writes the MIDI file.

Examples:
  track-loop take.webm melody.wav
  track-loop take.wav melody.mid --pitch-policy clamp
  track-loop take.wav melody.wav --midi-out melody.mid --engine builtin`,
	Version:       version,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: ./track-loop.yaml or ~/.config/track-loop/track-loop.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	f := rootCmd.Flags()
	f.StringVar(&midiOutput, "midi-out", "", "Also save the intermediate MIDI file")
	f.StringVar(&engine, "engine", "script", "Pitch engine (script or builtin)")
	f.StringVar(&soundFont, "soundfont", "", "SoundFont used for rendering")
	f.StringVar(&boundary, "boundary", "aligned", "Note boundaries (aligned or legacy)")
	f.StringVar(&pitchPolicy, "pitch-policy", "discard", "Out-of-range pitches (discard or clamp)")
	f.Float64Var(&tempo, "tempo", 120, "Tempo written to the MIDI file")
	f.BoolVar(&useCache, "cache", false, "Cache pitch tracks between runs")

	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "Port to listen on")

	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd)
	rootCmd.AddCommand(serveCmd, inspectCmd, configCmd, checkCmd, cacheCmd)
}

// loadSettings reads the effective settings and builds the logger
func loadSettings(cmd *cobra.Command) (*config.Settings, *logrus.Logger, error) {
	settings, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	settings.Tools.ScriptsDir = findScriptsDir(settings.Tools.ScriptsDir)

	log, err := logging.New(settings.Log.Level, settings.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	if settings.File != "" {
		log.WithField("file", settings.File).Debug("loaded config")
	}
	return settings, log, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	settings, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	cfg := pipeline.ConfigFromSettings(settings)
	cfg.InputPath = args[0]
	cfg.OutputPath = args[1]
	cfg.MIDIOutputPath = midiOutput

	opts := pipeline.OptionsFromSettings(settings)
	opts.Progress = os.Stdout
	opts.Verbose = verbose
	opts.Log = log

	fmt.Printf("track-loop v%s\n", version)
	fmt.Printf("Input:  %s\n", cfg.InputPath)
	fmt.Printf("Output: %s\n\n", cfg.OutputPath)

	result, err := pipeline.NewOrchestrator(opts).Execute(cmd.Context(), cfg)
	if err != nil {
		logFailure(log, err)
		if cmd.Context().Err() != nil {
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaned up")
		}
		return err
	}

	if verbose {
		fmt.Printf("\n%d frames, %d onsets, %d notes (%s, %.1fs) in %s\n",
			result.Frames, result.Onsets, result.Notes, result.Source, result.Duration, result.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// logFailure records a fatal error with its kind and stack trace
func logFailure(log logrus.FieldLogger, err error) {
	entry := log.WithError(err)
	if kind := apperrors.Kind(err); kind != nil {
		entry = entry.WithField("kind", kind.Error())
	}
	entry.Errorf("conversion failed: %+v", err)
}

// findScriptsDir locates the Python scripts directory
func findScriptsDir(configured string) string {
	if dirExists(configured) {
		return configured
	}

	// Check relative to executable
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Join(filepath.Dir(exe), "scripts", "python")
		if dirExists(dir) {
			return dir
		}
	}

	for _, c := range []string{"../scripts/python", "../../scripts/python"} {
		if dirExists(c) {
			return c
		}
	}
	return configured
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
