// Package config holds the typed per-instance configuration model (C9):
// the document shape described in the external interfaces, its defaults,
// and its validation rules. Validation reports the first failing field
// with a human-readable message, matching the fail-fast style the rest of
// the config document's consumers expect.
package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/screencastd/screencastd/internal/errors"
)

// Source type discriminants (the tagged union over capture sources).
const (
	SourceScreen        = "screen"
	SourceWindow        = "window"
	SourceWindowBG      = "window_bg"
	SourceWindowRegion   = "window_region"
	SourceNetworkStream = "network_stream"
)

var validSourceTypes = map[string]bool{
	SourceScreen:        true,
	SourceWindow:        true,
	SourceWindowBG:      true,
	SourceWindowRegion:   true,
	SourceNetworkStream: true,
}

var validVideoCodecs = map[string]bool{"libx264": true, "libx265": true, "h264_nvenc": true, "copy": true}
var validAudioCodecs = map[string]bool{"aac": true, "libopus": true, "copy": true, "none": true}
var validPresets = map[string]bool{"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true, "medium": true, "slow": true, "": true}
var validTunes = map[string]bool{"zerolatency": true, "film": true, "animation": true, "": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var bitrateRe = regexp.MustCompile(`^\d+[KkMm]$`)

// ServerConfig is the routing half of an instance's configuration.
type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Path string `koanf:"path"`
}

// FFmpegConfig names the encoder and its output parameters.
type FFmpegConfig struct {
	FFmpegPath string `koanf:"ffmpeg_path"`
	VideoCodec string `koanf:"video_codec"`
	AudioCodec string `koanf:"audio_codec"`
	Bitrate    string `koanf:"bitrate"`
	Framerate  int    `koanf:"framerate"`
	Preset     string `koanf:"preset"`
	Tune       string `koanf:"tune"`
}

// SourceConfig is the tagged union over capture sources (§4.10).
type SourceConfig struct {
	Type string `koanf:"type"`

	// screen / window_region
	OffsetX int `koanf:"offset_x"`
	OffsetY int `koanf:"offset_y"`
	Width   int `koanf:"width"`
	Height  int `koanf:"height"`

	// window / window_bg
	WindowTitle string `koanf:"window_title"`
	MatchMode   string `koanf:"match_mode"` // "exact" | "substring" | "regex"

	// network_stream
	URL          string `koanf:"url"`
	Transport    string `koanf:"transport"` // rtsp: tcp/udp
	Reconnect    bool   `koanf:"reconnect"`
	TimeoutMicro int    `koanf:"timeout_microseconds"`
	ProbeSize    int    `koanf:"probe_size"`
	AnalyzeDur   int    `koanf:"analyze_duration"`
	LowDelay     bool   `koanf:"low_delay"`
	VideoStream  string `koanf:"video_stream"` // required stream-selection map entry
	AudioStream  string `koanf:"audio_stream"` // optional
}

// ProcessConfig governs the instance's crash/shutdown policy.
type ProcessConfig struct {
	CrashThreshold  int `koanf:"crash_threshold"`
	CrashWindow     int `koanf:"crash_window"`
	ShutdownTimeout int `koanf:"shutdown_timeout"`
}

// LoggingConfig is per-instance logging override.
type LoggingConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// InstanceConfig is the full typed document for one instance, keyed by its
// file name (the instance name).
type InstanceConfig struct {
	Name        string        `koanf:"-"`
	Server      ServerConfig  `koanf:"server"`
	FFmpeg      FFmpegConfig  `koanf:"ffmpeg"`
	Source      SourceConfig  `koanf:"source"`
	Process     ProcessConfig `koanf:"process"`
	Logging     LoggingConfig `koanf:"logging"`
	Description string        `koanf:"description"`
}

// ApplyDefaults materializes default values for fields the document left
// unset. Defaults are applied before validation, per §4.9.
func (c *InstanceConfig) ApplyDefaults(projectRoot string) {
	if c.Server.Path == "" {
		c.Server.Path = "/"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.FFmpeg.FFmpegPath == "" {
		c.FFmpeg.FFmpegPath = "ffmpeg"
	} else if !filepath.IsAbs(c.FFmpeg.FFmpegPath) {
		c.FFmpeg.FFmpegPath = filepath.Join(projectRoot, c.FFmpeg.FFmpegPath)
	}
	if c.FFmpeg.VideoCodec == "" {
		c.FFmpeg.VideoCodec = "libx264"
	}
	if c.FFmpeg.AudioCodec == "" {
		c.FFmpeg.AudioCodec = "aac"
	}
	if c.FFmpeg.Bitrate == "" {
		c.FFmpeg.Bitrate = "2500K"
	}
	if c.FFmpeg.Framerate == 0 {
		c.FFmpeg.Framerate = 30
	}
	if c.FFmpeg.Preset == "" {
		c.FFmpeg.Preset = "veryfast"
	}
	if c.Process.CrashThreshold == 0 {
		c.Process.CrashThreshold = 3
	}
	if c.Process.CrashWindow == 0 {
		c.Process.CrashWindow = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File != "" && !filepath.IsAbs(c.Logging.File) {
		c.Logging.File = filepath.Join(projectRoot, c.Logging.File)
	}
}

// Validate reports the first failing field with a human-readable message,
// wrapped in a ConfigValidationError.
func (c *InstanceConfig) Validate() error {
	if c.Server.Port != 0 && (c.Server.Port < 1024 || c.Server.Port > 65535) {
		return errors.NewConfigValidationError("server.port",
			fmt.Errorf("must be 0 (auto-allocate) or between 1024 and 65535, got %d", c.Server.Port))
	}
	if err := validatePath(c.Server.Path); err != nil {
		return errors.NewConfigValidationError("server.path", err)
	}
	if c.FFmpeg.FFmpegPath == "" {
		return errors.NewConfigValidationError("ffmpeg.ffmpeg_path", fmt.Errorf("must not be empty"))
	}
	if !validVideoCodecs[c.FFmpeg.VideoCodec] {
		return errors.NewConfigValidationError("ffmpeg.video_codec",
			fmt.Errorf("unrecognized video codec %q", c.FFmpeg.VideoCodec))
	}
	if !validAudioCodecs[c.FFmpeg.AudioCodec] {
		return errors.NewConfigValidationError("ffmpeg.audio_codec",
			fmt.Errorf("unrecognized audio codec %q", c.FFmpeg.AudioCodec))
	}
	if !bitrateRe.MatchString(c.FFmpeg.Bitrate) {
		return errors.NewConfigValidationError("ffmpeg.bitrate",
			fmt.Errorf("must match ^\\d+[KkMm]$, got %q", c.FFmpeg.Bitrate))
	}
	if c.FFmpeg.Framerate < 1 || c.FFmpeg.Framerate > 120 {
		return errors.NewConfigValidationError("ffmpeg.framerate",
			fmt.Errorf("must be between 1 and 120, got %d", c.FFmpeg.Framerate))
	}
	if !validPresets[c.FFmpeg.Preset] {
		return errors.NewConfigValidationError("ffmpeg.preset", fmt.Errorf("unrecognized preset %q", c.FFmpeg.Preset))
	}
	if !validTunes[c.FFmpeg.Tune] {
		return errors.NewConfigValidationError("ffmpeg.tune", fmt.Errorf("unrecognized tune %q", c.FFmpeg.Tune))
	}
	if err := c.Source.validate(); err != nil {
		return err
	}
	if c.Process.CrashThreshold < 1 {
		return errors.NewConfigValidationError("process.crash_threshold", fmt.Errorf("must be >= 1"))
	}
	if c.Process.CrashWindow < 1 {
		return errors.NewConfigValidationError("process.crash_window", fmt.Errorf("must be >= 1 second"))
	}
	if c.Process.ShutdownTimeout < 0 {
		return errors.NewConfigValidationError("process.shutdown_timeout", fmt.Errorf("must be >= 0"))
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.NewConfigValidationError("logging.level", fmt.Errorf("unrecognized log level %q", c.Logging.Level))
	}
	return nil
}

func (s *SourceConfig) validate() error {
	if !validSourceTypes[s.Type] {
		return errors.NewConfigValidationError("source.type", fmt.Errorf("unrecognized source type %q", s.Type))
	}
	switch s.Type {
	case SourceWindow, SourceWindowBG:
		if s.WindowTitle == "" {
			return errors.NewConfigValidationError("source.window_title", fmt.Errorf("required for source type %q", s.Type))
		}
		switch s.MatchMode {
		case "", "exact", "substring", "regex":
		default:
			return errors.NewConfigValidationError("source.match_mode", fmt.Errorf("must be one of exact, substring, regex"))
		}
	case SourceNetworkStream:
		if s.URL == "" {
			return errors.NewConfigValidationError("source.url", fmt.Errorf("required for network_stream source"))
		}
		if s.VideoStream == "" {
			return errors.NewConfigValidationError("source.video_stream", fmt.Errorf("required: network_stream needs an explicit video stream selector"))
		}
	}
	return nil
}

// validatePath enforces §4.7's route path rules: starts with '/', no
// whitespace, no "..", no backslashes.
func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("must start with '/', got %q", p)
	}
	if strings.ContainsAny(p, " \t\r\n") {
		return fmt.Errorf("must not contain whitespace, got %q", p)
	}
	if strings.Contains(p, "..") {
		return fmt.Errorf("must not contain '..', got %q", p)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("must not contain backslashes, got %q", p)
	}
	return nil
}
