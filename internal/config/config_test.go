package config

import "testing"

func validConfig() InstanceConfig {
	c := InstanceConfig{
		Name:   "desk-capture",
		Server: ServerConfig{Port: 8765, Path: "/"},
		FFmpeg: FFmpegConfig{
			FFmpegPath: "ffmpeg",
			VideoCodec: "libx264",
			AudioCodec: "aac",
			Bitrate:    "2500K",
			Framerate:  30,
			Preset:     "veryfast",
		},
		Source:  SourceConfig{Type: SourceScreen},
		Process: ProcessConfig{CrashThreshold: 3, CrashWindow: 60, ShutdownTimeout: 5},
		Logging: LoggingConfig{Level: "info"},
	}
	return c
}

func TestApplyDefaultsThenValidate(t *testing.T) {
	c := InstanceConfig{
		Server: ServerConfig{Port: 8765},
		Source: SourceConfig{Type: SourceScreen},
	}
	c.ApplyDefaults("/project")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected defaults to produce a valid config, got %v", err)
	}
	if c.Server.Path != "/" {
		t.Fatalf("expected default path '/', got %q", c.Server.Path)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.Server.Port = 80
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for port below 1024")
	}
}

func TestValidateAllowsZeroPortForAutoAllocation(t *testing.T) {
	c := validConfig()
	c.Server.Port = 0
	if err := c.Validate(); err != nil {
		t.Fatalf("expected port 0 (auto-allocate) to be valid, got %v", err)
	}
}

func TestValidateRejectsBadBitratePattern(t *testing.T) {
	c := validConfig()
	c.FFmpeg.Bitrate = "fast"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for malformed bitrate")
	}
}

func TestValidateRejectsPathWithDotDot(t *testing.T) {
	c := validConfig()
	c.Server.Path = "/../etc"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for path containing '..'")
	}
}

func TestValidateWindowSourceRequiresTitle(t *testing.T) {
	c := validConfig()
	c.Source = SourceConfig{Type: SourceWindow}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for window source with no title")
	}
}

func TestValidateNetworkStreamRequiresURLAndVideoStream(t *testing.T) {
	c := validConfig()
	c.Source = SourceConfig{Type: SourceNetworkStream}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for network_stream source with no URL")
	}

	c.Source.URL = "rtsp://example/stream"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for network_stream source with no video_stream selector")
	}

	c.Source.VideoStream = "0"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected a fully specified network_stream source to validate, got %v", err)
	}
}

func TestValidateRejectsCrashThresholdBelowOne(t *testing.T) {
	c := validConfig()
	c.Process.CrashThreshold = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for crash_threshold < 1")
	}
}
