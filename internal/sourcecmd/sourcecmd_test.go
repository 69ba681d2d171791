package sourcecmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/windowlocator"
)

func baseConfig() *config.InstanceConfig {
	return &config.InstanceConfig{
		FFmpeg: config.FFmpegConfig{
			VideoCodec: "libx264",
			AudioCodec: "aac",
			Bitrate:    "2500K",
			Framerate:  30,
			Preset:     "veryfast",
		},
	}
}

func TestScreenArgsIncludesFramerateAndOutputArgs(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: config.SourceScreen}

	args, err := BuildArgs(cfg, nil)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-framerate 30") {
		t.Fatalf("expected framerate in args: %v", args)
	}
	if !strings.Contains(joined, "-g 30") {
		t.Fatalf("expected keyframe interval equal to framerate: %v", args)
	}
	if !strings.Contains(joined, "pipe:1") {
		t.Fatalf("expected output piped to stdout: %v", args)
	}
}

func TestScreenArgsWithRegionIncludesVideoSize(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: config.SourceScreen, Width: 1280, Height: 720}

	args, err := BuildArgs(cfg, nil)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if !strings.Contains(strings.Join(args, " "), "1280x720") {
		t.Fatalf("expected region size in args: %v", args)
	}
}

type fakeLocator struct {
	info windowlocator.Info
	err  error
}

func (f fakeLocator) Locate(title string, mode windowlocator.MatchMode) (windowlocator.Info, error) {
	return f.info, f.err
}

func TestWindowArgsFailsWithoutLocator(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: config.SourceWindow, WindowTitle: "Zoom Meeting"}

	if _, err := BuildArgs(cfg, nil); err == nil {
		t.Fatalf("expected StartupError when no locator is configured")
	}
}

func TestWindowArgsFailsWhenNoWindowMatches(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: config.SourceWindow, WindowTitle: "Nonexistent"}

	loc := fakeLocator{err: errors.New("no window matched")}
	if _, err := BuildArgs(cfg, loc); err == nil {
		t.Fatalf("expected StartupError when the locator finds no match")
	}
}

func TestWindowArgsSucceedsWhenLocatorResolves(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: config.SourceWindow, WindowTitle: "Zoom Meeting"}

	loc := fakeLocator{info: windowlocator.Info{Title: "Zoom Meeting", Visible: true}}
	args, err := BuildArgs(cfg, loc)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if !strings.Contains(strings.Join(args, " "), "Zoom Meeting") {
		t.Fatalf("expected resolved window title in args: %v", args)
	}
}

func TestNetworkStreamArgsOrdersOptionsBeforeInput(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{
		Type:        config.SourceNetworkStream,
		URL:         "rtsp://example/stream",
		Transport:   "tcp",
		Reconnect:   true,
		VideoStream: "0:v:0",
		AudioStream: "0:a:0",
	}

	args, err := BuildArgs(cfg, nil)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	iIdx, transportIdx, mapIdx := -1, -1, -1
	for i, a := range args {
		switch a {
		case "-i":
			if iIdx == -1 {
				iIdx = i
			}
		case "-rtsp_transport":
			transportIdx = i
		case "-map":
			if mapIdx == -1 {
				mapIdx = i
			}
		}
	}
	if transportIdx == -1 || iIdx == -1 || transportIdx > iIdx {
		t.Fatalf("expected protocol options before -i: %v", args)
	}
	if mapIdx == -1 || mapIdx < iIdx {
		t.Fatalf("expected stream-selection map after -i: %v", args)
	}
}

func TestUnrecognizedSourceTypeFails(t *testing.T) {
	cfg := baseConfig()
	cfg.Source = config.SourceConfig{Type: "bogus"}
	if _, err := BuildArgs(cfg, nil); err == nil {
		t.Fatalf("expected error for unrecognized source type")
	}
}
