// Package config loads track-loop settings from defaults, an optional YAML
// file, a .env file, TRACKLOOP_* environment variables and command flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/edoardograci/track-loop-main/internal/midi"
	"github.com/edoardograci/track-loop-main/internal/pitch"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRACKLOOP_SYNTH_SOUNDFONT.
const EnvPrefix = "TRACKLOOP"

type Tools struct {
	FFmpeg     string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	FluidSynth string `mapstructure:"fluidsynth" yaml:"fluidsynth"`
	Python     string `mapstructure:"python" yaml:"python"`
	ScriptsDir string `mapstructure:"scripts_dir" yaml:"scripts_dir"`
}

type Audio struct {
	SampleRate int   `mapstructure:"sample_rate" yaml:"sample_rate"`
	MaxSize    int64 `mapstructure:"max_size" yaml:"max_size"`
}

type Tracker struct {
	Engine      string  `mapstructure:"engine" yaml:"engine"`
	HopLength   int     `mapstructure:"hop_length" yaml:"hop_length"`
	FrameLength int     `mapstructure:"frame_length" yaml:"frame_length"`
	WinLength   int     `mapstructure:"win_length" yaml:"win_length"`
	FMin        float64 `mapstructure:"fmin" yaml:"fmin"`
	FMax        float64 `mapstructure:"fmax" yaml:"fmax"`
}

type Segmentation struct {
	Kernel      int     `mapstructure:"kernel" yaml:"kernel"`
	TimeScale   float64 `mapstructure:"time_scale" yaml:"time_scale"`
	Velocity    int     `mapstructure:"velocity" yaml:"velocity"`
	PitchPolicy string  `mapstructure:"pitch_policy" yaml:"pitch_policy"`
	Boundary    string  `mapstructure:"boundary" yaml:"boundary"`
}

type MIDI struct {
	Tempo           float64 `mapstructure:"tempo" yaml:"tempo"`
	TicksPerQuarter int     `mapstructure:"ticks_per_quarter" yaml:"ticks_per_quarter"`
	Channel         int     `mapstructure:"channel" yaml:"channel"`
}

type Synth struct {
	SoundFont string  `mapstructure:"soundfont" yaml:"soundfont"`
	Gain      float64 `mapstructure:"gain" yaml:"gain"`
}

type Cache struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type Server struct {
	Port           int           `mapstructure:"port" yaml:"port"`
	JobTTL         time.Duration `mapstructure:"job_ttl" yaml:"job_ttl"`
	MaxUpload      int64         `mapstructure:"max_upload" yaml:"max_upload"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	OutputDir      string        `mapstructure:"output_dir" yaml:"output_dir"`
}

type Timeouts struct {
	Transcode time.Duration `mapstructure:"transcode" yaml:"transcode"`
	Extract   time.Duration `mapstructure:"extract" yaml:"extract"`
	Render    time.Duration `mapstructure:"render" yaml:"render"`
}

// Settings is the complete effective configuration.
type Settings struct {
	Tools        Tools        `mapstructure:"tools" yaml:"tools"`
	Audio        Audio        `mapstructure:"audio" yaml:"audio"`
	Tracker      Tracker      `mapstructure:"tracker" yaml:"tracker"`
	Segmentation Segmentation `mapstructure:"segmentation" yaml:"segmentation"`
	MIDI         MIDI         `mapstructure:"midi" yaml:"midi"`
	Synth        Synth        `mapstructure:"synth" yaml:"synth"`
	Cache        Cache        `mapstructure:"cache" yaml:"cache"`
	Log          Log          `mapstructure:"log" yaml:"log"`
	Server       Server       `mapstructure:"server" yaml:"server"`
	Timeouts     Timeouts     `mapstructure:"timeouts" yaml:"timeouts"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"engine":       "tracker.engine",
	"soundfont":    "synth.soundfont",
	"boundary":     "segmentation.boundary",
	"pitch-policy": "segmentation.pitch_policy",
	"tempo":        "midi.tempo",
	"cache":        "cache.enabled",
	"port":         "server.port",
}

func setDefaults(v *viper.Viper) {
	params := pitch.DefaultParams()

	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.fluidsynth", "fluidsynth")
	v.SetDefault("tools.python", "")
	v.SetDefault("tools.scripts_dir", filepath.Join("scripts", "python"))

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.max_size", int64(100<<20))

	v.SetDefault("tracker.engine", pitch.EngineScript)
	v.SetDefault("tracker.hop_length", params.HopLength)
	v.SetDefault("tracker.frame_length", params.FrameLength)
	v.SetDefault("tracker.win_length", params.WinLength)
	v.SetDefault("tracker.fmin", params.FMin)
	v.SetDefault("tracker.fmax", params.FMax)

	v.SetDefault("segmentation.kernel", pitch.DefaultKernel)
	v.SetDefault("segmentation.time_scale", midi.DefaultTimeScale)
	v.SetDefault("segmentation.velocity", midi.DefaultVelocity)
	v.SetDefault("segmentation.pitch_policy", string(midi.PolicyDiscard))
	v.SetDefault("segmentation.boundary", string(midi.BoundaryAligned))

	v.SetDefault("midi.tempo", midi.DefaultTempo)
	v.SetDefault("midi.ticks_per_quarter", midi.DefaultTicksPerQuarter)
	v.SetDefault("midi.channel", 0)

	v.SetDefault("synth.soundfont", "soundFont/Essential Keys-sfzBanks-v9.6.sf2")
	v.SetDefault("synth.gain", 1.0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.job_ttl", 10*time.Minute)
	v.SetDefault("server.max_upload", int64(100<<20))
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.output_dir", "")

	v.SetDefault("timeouts.transcode", 2*time.Minute)
	v.SetDefault("timeouts.extract", 10*time.Minute)
	v.SetDefault("timeouts.render", 5*time.Minute)
}

// Load builds the effective settings. path may name a config file
// explicitly; otherwise track-loop.yaml is searched for in the working
// directory and $HOME/.config/track-loop. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("track-loop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "track-loop"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.File = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (s *Settings) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch s.Tracker.Engine {
	case pitch.EngineScript, pitch.EngineBuiltin:
	default:
		add("tracker.engine: unknown engine %q", s.Tracker.Engine)
	}
	if s.Tracker.HopLength <= 0 || s.Tracker.FrameLength <= 0 {
		add("tracker: hop_length and frame_length must be positive")
	}
	if s.Tracker.FMin <= 0 || s.Tracker.FMax <= s.Tracker.FMin {
		add("tracker: invalid pitch range %.2f-%.2f", s.Tracker.FMin, s.Tracker.FMax)
	}
	if s.Segmentation.Kernel < 1 || s.Segmentation.Kernel%2 == 0 {
		add("segmentation.kernel: must be a positive odd number, got %d", s.Segmentation.Kernel)
	}
	if s.Segmentation.TimeScale <= 0 {
		add("segmentation.time_scale: must be positive")
	}
	if s.Segmentation.Velocity < 1 || s.Segmentation.Velocity > 127 {
		add("segmentation.velocity: must be 1-127, got %d", s.Segmentation.Velocity)
	}
	if _, err := midi.ParsePitchPolicy(s.Segmentation.PitchPolicy); err != nil {
		add("segmentation.pitch_policy: %v", err)
	}
	if _, err := midi.ParseBoundaryMode(s.Segmentation.Boundary); err != nil {
		add("segmentation.boundary: %v", err)
	}
	if s.MIDI.Tempo <= 0 {
		add("midi.tempo: must be positive")
	}
	if s.MIDI.TicksPerQuarter <= 0 || s.MIDI.TicksPerQuarter > 0x7fff {
		add("midi.ticks_per_quarter: out of range (%d)", s.MIDI.TicksPerQuarter)
	}
	if s.MIDI.Channel < 0 || s.MIDI.Channel > 15 {
		add("midi.channel: must be 0-15, got %d", s.MIDI.Channel)
	}
	if _, err := logrus.ParseLevel(s.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		add("log.format: must be text or json, got %q", s.Log.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// YAML renders the settings as a config file.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// PitchParams returns the tracker settings as pitch.Params.
func (s *Settings) PitchParams() pitch.Params {
	return pitch.Params{
		FrameLength: s.Tracker.FrameLength,
		WinLength:   s.Tracker.WinLength,
		HopLength:   s.Tracker.HopLength,
		FMin:        s.Tracker.FMin,
		FMax:        s.Tracker.FMax,
	}
}
