package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Firmware FirmwareConfig `yaml:"firmware"`
	FPGA     FPGAConfig     `yaml:"fpga"`
	Scripts  ScriptsConfig  `yaml:"scripts"`
	Audio    AudioConfig    `yaml:"audio"`
	AI       AIConfig       `yaml:"ai"`
	ChatLog  string         `yaml:"chat_log"`
	LogLevel string         `yaml:"log_level"`
	LogFile  string         `yaml:"log_file"`
}

// DeviceConfig selects the Monocle and tunes the BLE link.
type DeviceConfig struct {
	Address            string        `yaml:"address"` // empty: first device advertising Name
	Name               string        `yaml:"name"`
	BootloaderName     string        `yaml:"bootloader_name"`
	MinPayload         int           `yaml:"min_payload"`
	ShellEntryDelay    time.Duration `yaml:"shell_entry_delay"`
	ChunkPacing        time.Duration `yaml:"chunk_pacing"`
	InterWriteDelay    time.Duration `yaml:"inter_write_delay"`
	ReconnectMaxSecs   int           `yaml:"reconnect_max_seconds"`
	ScanTimeoutSeconds int           `yaml:"scan_timeout_seconds"`
}

// FirmwareConfig describes the MicroPython firmware the device must run.
type FirmwareConfig struct {
	RequiredVersion string   `yaml:"required_version"`
	Package         string   `yaml:"package"`     // DFU .zip
	PackageURL      string   `yaml:"package_url"` // where fetch downloads Package from
	FlashCommand    string   `yaml:"flash_command"`
	FlashArgs       []string `yaml:"flash_args"`
}

// FPGAConfig describes the FPGA bitstream the device must run.
type FPGAConfig struct {
	RequiredVersion string `yaml:"required_version"`
	Image           string `yaml:"image"`     // raw bitstream
	ImageURL        string `yaml:"image_url"` // where fetch downloads Image from
}

// ScriptsConfig describes the application deployed to the device.
type ScriptsConfig struct {
	Dir        string   `yaml:"dir"`
	Basenames  []string `yaml:"basenames"`
	EntryPoint string   `yaml:"entry_point"`
	Variable   string   `yaml:"version_variable"`
}

// AudioConfig describes microphone captures from the device.
type AudioConfig struct {
	SampleRate int  `yaml:"sample_rate"`
	BigEndian  bool `yaml:"big_endian"`
	Playback   bool `yaml:"playback"` // play each capture on the host speaker
}

// AIConfig selects and tunes the upstream services.
type AIConfig struct {
	Mode           string  `yaml:"mode"` // "assistant" or "translator"
	OpenAIURL      string  `yaml:"openai_url"`
	ChatModel      string  `yaml:"chat_model"`
	WhisperModel   string  `yaml:"whisper_model"`
	StabilityURL   string  `yaml:"stability_url"`
	ImageEngine    string  `yaml:"image_engine"`
	ImageStrength  float64 `yaml:"image_strength"`
	ImageGuidance  int     `yaml:"image_guidance"`
	OpenAIKey      string  `yaml:"openai_api_key"`
	StabilityKey   string  `yaml:"stability_api_key"`
	HistoryLength  int     `yaml:"history_length"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// secrets are read from the environment and win over the file.
type secrets struct {
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	StabilityKey string `env:"STABILITY_API_KEY"`
	LogLevel     string `env:"MONOLINK_LOG_LEVEL"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "monolink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	share := filepath.Join(home, ".local", "share", "monolink")

	return &Config{
		Device: DeviceConfig{
			Name:               "monocle",
			BootloaderName:     "DfuTarg",
			MinPayload:         100,
			ShellEntryDelay:    100 * time.Millisecond,
			ChunkPacing:        20 * time.Millisecond,
			InterWriteDelay:    5 * time.Millisecond,
			ReconnectMaxSecs:   30,
			ScanTimeoutSeconds: 10,
		},
		Firmware: FirmwareConfig{
			RequiredVersion: "v23.248.0754",
			Package:         filepath.Join(share, "firmware", "monocle-micropython-v23.248.0754.zip"),
			PackageURL:      "https://github.com/brilliantlabsAR/monocle-micropython/releases/download/v23.248.0754/monocle-micropython-v23.248.0754.zip",
			FlashCommand:    "nrfutil",
		},
		FPGA: FPGAConfig{
			RequiredVersion: "v23.230.0808",
			Image:           filepath.Join(share, "firmware", "monocle-fpga-v23.230.0808.bin"),
			ImageURL:        "https://github.com/brilliantlabsAR/monocle-fpga/releases/download/v23.230.0808/monocle-fpga-v23.230.0808.bin",
		},
		Scripts: ScriptsConfig{
			Dir:        filepath.Join(share, "scripts"),
			Basenames:  []string{"states", "graphics", "audio", "photo", "main"},
			EntryPoint: "main.py",
			Variable:   "APP_VERSION",
		},
		Audio: AudioConfig{
			SampleRate: 8000,
		},
		AI: AIConfig{
			Mode:           "assistant",
			OpenAIURL:      "https://api.openai.com/v1",
			ChatModel:      "gpt-4o-mini",
			WhisperModel:   "whisper-1",
			StabilityURL:   "https://api.stability.ai/v1",
			ImageEngine:    "stable-diffusion-xl-1024-v1-0",
			ImageStrength:  0.4,
			ImageGuidance:  7,
			HistoryLength:  20,
			TimeoutSeconds: 60,
		},
		ChatLog:  filepath.Join(share, "chat.sqlite"),
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults, API keys and the log level may be overridden from the
// environment, and a leading ~ in paths is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to defaults, still
// overlaid with the environment, when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) applyEnv() error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if s.OpenAIKey != "" {
		c.AI.OpenAIKey = s.OpenAIKey
	}
	if s.StabilityKey != "" {
		c.AI.StabilityKey = s.StabilityKey
	}
	if s.LogLevel != "" {
		c.LogLevel = s.LogLevel
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Firmware.Package = expandTilde(c.Firmware.Package)
	c.FPGA.Image = expandTilde(c.FPGA.Image)
	c.Scripts.Dir = expandTilde(c.Scripts.Dir)
	c.ChatLog = expandTilde(c.ChatLog)
	c.LogFile = expandTilde(c.LogFile)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address == "" && c.Device.Name == "" {
		return fmt.Errorf("device.address or device.name must be set")
	}
	if c.Device.BootloaderName == "" {
		return fmt.Errorf("device.bootloader_name must not be empty")
	}
	if c.Device.MinPayload <= 0 {
		return fmt.Errorf("device.min_payload must be > 0")
	}
	if c.Device.ShellEntryDelay < 0 || c.Device.ChunkPacing < 0 || c.Device.InterWriteDelay < 0 {
		return fmt.Errorf("device delays must not be negative")
	}

	if c.Firmware.RequiredVersion == "" {
		return fmt.Errorf("firmware.required_version must not be empty")
	}
	if c.FPGA.RequiredVersion == "" {
		return fmt.Errorf("fpga.required_version must not be empty")
	}

	if c.Scripts.Dir == "" {
		return fmt.Errorf("scripts.dir must not be empty")
	}
	if len(c.Scripts.Basenames) == 0 {
		return fmt.Errorf("scripts.basenames must not be empty")
	}
	entry := strings.TrimSuffix(c.Scripts.EntryPoint, ".py")
	found := false
	for _, b := range c.Scripts.Basenames {
		if b == entry {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("scripts.entry_point %q is not among scripts.basenames", c.Scripts.EntryPoint)
	}
	if c.Scripts.Variable == "" {
		return fmt.Errorf("scripts.version_variable must not be empty")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	switch c.AI.Mode {
	case "assistant", "translator":
	default:
		return fmt.Errorf("ai.mode must be \"assistant\" or \"translator\", got %q", c.AI.Mode)
	}
	if c.AI.ImageStrength < 0 || c.AI.ImageStrength > 1 {
		return fmt.Errorf("ai.image_strength must be within [0, 1], got %v", c.AI.ImageStrength)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel converts a log_level string into a slog.Level, defaulting
// to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes a commented default config to DefaultConfigPath. It
// returns the written path, or "" when a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# monolink configuration\n# API keys may instead be set with OPENAI_API_KEY and STABILITY_API_KEY.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
