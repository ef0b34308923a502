package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Dialects lists the speaker dialect codes accepted in the settings file.
var Dialects = []string{"AG", "BE", "BS", "GR", "LU", "SG", "VS", "ZH"}

// SupportedSampleRates are the capture rates the voice activity detector accepts.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// SupportedFrameMs are the VAD frame durations in milliseconds.
var SupportedFrameMs = []int{10, 20, 30}

// Settings is the user-facing key/value record persisted in the [settings] section.
type Settings struct {
	OutputFolder   string `mapstructure:"output_folder" yaml:"output_folder"`
	SelectedDevice string `mapstructure:"selected_device" yaml:"selected_device"`
	SpeakerID      string `mapstructure:"speaker_id" yaml:"speaker_id"`
	SpeakerDialect string `mapstructure:"speaker_dialect" yaml:"speaker_dialect"`
	InputFile      string `mapstructure:"input_file" yaml:"input_file"`
}

// AudioConfig holds the engine tunables persisted in the [audio] section.
type AudioConfig struct {
	SampleRate         int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels           int     `mapstructure:"channels" yaml:"channels"`
	FramesPerBuffer    int     `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer"`
	TrimAggressiveness int     `mapstructure:"trim_aggressiveness" yaml:"trim_aggressiveness"`
	TrimFrameMs        int     `mapstructure:"trim_frame_ms" yaml:"trim_frame_ms"`
	TrimPaddingS       float64 `mapstructure:"trim_padding_s" yaml:"trim_padding_s"`
	VAD                string  `mapstructure:"vad" yaml:"vad"` // "webrtc" (default), "energy"
	WaveformPoints     int     `mapstructure:"waveform_points" yaml:"waveform_points"`
}

type Config struct {
	Settings Settings    `mapstructure:"settings" yaml:"settings"`
	Audio    AudioConfig `mapstructure:"audio" yaml:"audio"`
}

var defaultConfig = Config{
	Settings: Settings{
		OutputFolder:   filepath.Join(os.Getenv("HOME"), "Audio", "Helvox"),
		SpeakerID:      "unknown",
		SpeakerDialect: "AG",
	},
	Audio: AudioConfig{
		SampleRate:         48000,
		Channels:           1,
		FramesPerBuffer:    1024,
		TrimAggressiveness: 2,
		TrimFrameMs:        30,
		TrimPaddingS:       0.1,
		VAD:                "webrtc",
		WaveformPoints:     100,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// DefaultPath returns the settings file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/helvox/settings.ini")
}

// Load reads the settings file. A missing file is not an error: the defaults
// are returned so a first run can save them later.
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	v := newViper(configFile)

	if _, err := os.Stat(configFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("error accessing config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	if filepath.Ext(configFile) == "" {
		v.SetConfigType("ini")
	}

	v.SetEnvPrefix("HELVOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range flatten(&defaultConfig) {
		v.SetDefault(key, value)
	}
	return v
}

// Save writes the configuration to configFile, creating the parent directory.
func (c *Config) Save(configFile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if filepath.Ext(configFile) == "" {
		v.SetConfigType("ini")
	}
	for key, value := range flatten(c) {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// Set updates a single key given in "section.key" or bare settings-key form.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !strings.Contains(key, ".") {
		key = "settings." + key
	}

	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		return n, nil
	}

	var err error
	switch key {
	case "settings.output_folder":
		c.Settings.OutputFolder = value
	case "settings.selected_device":
		c.Settings.SelectedDevice = value
	case "settings.speaker_id":
		c.Settings.SpeakerID = value
	case "settings.speaker_dialect":
		c.Settings.SpeakerDialect = value
	case "settings.input_file":
		c.Settings.InputFile = value
	case "audio.sample_rate":
		c.Audio.SampleRate, err = atoi()
	case "audio.channels":
		c.Audio.Channels, err = atoi()
	case "audio.frames_per_buffer":
		c.Audio.FramesPerBuffer, err = atoi()
	case "audio.trim_aggressiveness":
		c.Audio.TrimAggressiveness, err = atoi()
	case "audio.trim_frame_ms":
		c.Audio.TrimFrameMs, err = atoi()
	case "audio.trim_padding_s":
		c.Audio.TrimPaddingS, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("%s expects a number, got %q", key, value)
		}
	case "audio.vad":
		c.Audio.VAD = value
	case "audio.waveform_points":
		c.Audio.WaveformPoints, err = atoi()
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	if err != nil {
		return err
	}

	c.normalize()
	return c.Validate()
}

func (c *Config) normalize() {
	c.Settings.OutputFolder = expandPath(strings.TrimSpace(c.Settings.OutputFolder))
	c.Settings.InputFile = expandPath(strings.TrimSpace(c.Settings.InputFile))
	c.Settings.SpeakerID = strings.TrimSpace(c.Settings.SpeakerID)
	c.Settings.SpeakerDialect = strings.ToUpper(strings.TrimSpace(c.Settings.SpeakerDialect))
	c.Audio.VAD = strings.ToLower(strings.TrimSpace(c.Audio.VAD))
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	if err := ValidateSpeakerID(c.Settings.SpeakerID); err != nil {
		problems = append(problems, err.Error())
	}
	if !slices.Contains(Dialects, c.Settings.SpeakerDialect) {
		problems = append(problems, fmt.Sprintf("speaker_dialect %q must be one of %v", c.Settings.SpeakerDialect, Dialects))
	}
	if !slices.Contains(SupportedSampleRates, c.Audio.SampleRate) {
		problems = append(problems, fmt.Sprintf("sample_rate %d must be one of %v", c.Audio.SampleRate, SupportedSampleRates))
	}
	if c.Audio.Channels != 1 {
		problems = append(problems, fmt.Sprintf("channels %d not supported, only mono capture is available", c.Audio.Channels))
	}
	if c.Audio.FramesPerBuffer < 0 {
		problems = append(problems, "frames_per_buffer cannot be negative")
	}
	if c.Audio.TrimAggressiveness < 0 || c.Audio.TrimAggressiveness > 3 {
		problems = append(problems, fmt.Sprintf("trim_aggressiveness %d must be between 0 and 3", c.Audio.TrimAggressiveness))
	}
	if !slices.Contains(SupportedFrameMs, c.Audio.TrimFrameMs) {
		problems = append(problems, fmt.Sprintf("trim_frame_ms %d must be one of %v", c.Audio.TrimFrameMs, SupportedFrameMs))
	}
	if c.Audio.TrimPaddingS < 0 {
		problems = append(problems, "trim_padding_s cannot be negative")
	}
	if c.Audio.VAD != "webrtc" && c.Audio.VAD != "energy" {
		problems = append(problems, fmt.Sprintf("vad %q must be 'webrtc' or 'energy'", c.Audio.VAD))
	}
	if c.Audio.WaveformPoints < 2 {
		problems = append(problems, "waveform_points must be at least 2")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateSpeakerID checks that id can be used as a single path segment.
func ValidateSpeakerID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("speaker_id is required")
	case id == "." || id == "..":
		return fmt.Errorf("speaker_id %q is not a valid directory name", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("speaker_id %q must not contain path separators", id)
	}
	return nil
}

// SpeakerDir is <output_folder>/<speaker_id>.
func (s Settings) SpeakerDir() string {
	return filepath.Join(s.OutputFolder, s.SpeakerID)
}

// OutputFile is the completed-takes dataset for the speaker.
func (s Settings) OutputFile() string {
	return filepath.Join(s.SpeakerDir(), "output.json")
}

// SkipLogFile is the append-only log of skipped ids for the speaker.
func (s Settings) SkipLogFile() string {
	return filepath.Join(s.SpeakerDir(), "skipped.txt")
}

// AudioDir holds one audio file per completed take.
func (s Settings) AudioDir() string {
	return filepath.Join(s.SpeakerDir(), "audio")
}

func flatten(c *Config) map[string]any {
	return map[string]any{
		"settings.output_folder":    c.Settings.OutputFolder,
		"settings.selected_device":  c.Settings.SelectedDevice,
		"settings.speaker_id":       c.Settings.SpeakerID,
		"settings.speaker_dialect":  c.Settings.SpeakerDialect,
		"settings.input_file":       c.Settings.InputFile,
		"audio.sample_rate":         c.Audio.SampleRate,
		"audio.channels":            c.Audio.Channels,
		"audio.frames_per_buffer":   c.Audio.FramesPerBuffer,
		"audio.trim_aggressiveness": c.Audio.TrimAggressiveness,
		"audio.trim_frame_ms":       c.Audio.TrimFrameMs,
		"audio.trim_padding_s":      c.Audio.TrimPaddingS,
		"audio.vad":                 c.Audio.VAD,
		"audio.waveform_points":     c.Audio.WaveformPoints,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
