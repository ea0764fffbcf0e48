package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/edoardograci/track-loop-main/internal/cache"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/midi"
	"github.com/edoardograci/track-loop-main/internal/pipeline"
	"github.com/edoardograci/track-loop-main/internal/pitch"
	"github.com/edoardograci/track-loop-main/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload server",
	Long: `Start an HTTP server that accepts recordings and converts them in
the background.

Endpoints:
  POST /upload               multipart form, field "audio"
  GET  /status/{id}          job status
  GET  /download/{id}        rendered WAV
  GET  /download/{id}/midi   MIDI file

Example:
  track-loop serve --port 3000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mid>",
	Short: "List the notes of a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that external tools and the instrument are available",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the pitch track cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cache location and size",
	Args:  cobra.NoArgs,
	RunE:  runCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached pitch track",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	opts := pipeline.OptionsFromSettings(settings)
	opts.Log = log

	srv := server.New(server.Config{
		Port:           settings.Server.Port,
		JobTTL:         settings.Server.JobTTL,
		MaxUpload:      settings.Server.MaxUpload,
		AllowedOrigins: settings.Server.AllowedOrigins,
		OutputDir:      settings.Server.OutputDir,
		Pipeline:       pipeline.ConfigFromSettings(settings),
	}, func(w io.Writer) server.Executor {
		o := opts
		o.Progress = w
		return pipeline.NewOrchestrator(o)
	}, log)

	fmt.Printf("\n  track-loop server running at: http://localhost:%d\n\n", settings.Server.Port)
	return srv.Run(cmd.Context())
}

func runInspect(cmd *cobra.Command, args []string) error {
	seq, err := midi.ReadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tempo: %.1f BPM\n", seq.Tempo)
	fmt.Fprintf(out, "Notes: %d (%.2f beats)\n\n", len(seq.Notes), seq.Duration())
	for i, n := range seq.Notes {
		fmt.Fprintf(out, "%4d  %s\n", i+1, n)
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	data, err := settings.YAML()
	if err != nil {
		return err
	}
	if settings.File != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", settings.File)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, log, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "  ✗ %-12s %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "  ✓ %s\n", name)
	}

	runner := exec.NewRunner(settings.Tools.Python, settings.Tools.ScriptsDir, log)
	report("ffmpeg", exec.CheckTool(settings.Tools.FFmpeg))
	report("fluidsynth", exec.CheckTool(settings.Tools.FluidSynth))
	opts := pipeline.OptionsFromSettings(settings)
	opts.Runner = runner
	opts.Log = log
	report("soundfont", pipeline.NewOrchestrator(opts).Renderer().CheckInstrument())
	if settings.Tracker.Engine != pitch.EngineBuiltin {
		report("librosa", runner.CheckPythonDependency(cmd.Context(), "librosa"))
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func openCache(cmd *cobra.Command) (*cache.TrackCache, error) {
	settings, _, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return cache.New(settings.Cache.Dir, settings.Tools.ScriptsDir)
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	size, entries, err := c.Size()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cache:   %s\n", c.Dir())
	fmt.Fprintf(out, "Version: %s\n", c.Version())
	fmt.Fprintf(out, "Entries: %d (%.1f MB)\n", entries, float64(size)/(1<<20))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	if err := c.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.Dir())
	return nil
}
