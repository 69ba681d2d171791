// Package sourcecmd assembles the encoder's argument vector from an
// instance's configuration (C10): distinct input arguments per source
// variant, sharing the output arguments described in §4.10.
package sourcecmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/errors"
	"github.com/screencastd/screencastd/internal/logger"
	"github.com/screencastd/screencastd/internal/windowlocator"
)

// BuildArgs returns the full ffmpeg argument vector for cfg: the
// source-specific input arguments followed by the shared output
// arguments. locator is consulted only for window/window_bg sources and
// may be nil for the other source types.
func BuildArgs(cfg *config.InstanceConfig, locator windowlocator.Locator) ([]string, error) {
	input, err := inputArgs(cfg, locator)
	if err != nil {
		return nil, err
	}
	return append(input, outputArgs(cfg)...), nil
}

func inputArgs(cfg *config.InstanceConfig, locator windowlocator.Locator) ([]string, error) {
	src := cfg.Source
	switch src.Type {
	case config.SourceScreen, config.SourceWindowRegion:
		return screenArgs(cfg), nil

	case config.SourceWindow, config.SourceWindowBG:
		return windowArgs(cfg, locator)

	case config.SourceNetworkStream:
		return networkArgs(cfg), nil

	default:
		return nil, errors.NewConfigValidationError("source.type", fmt.Errorf("unrecognized source type %q", src.Type))
	}
}

// screenArgs builds the desktop-grabber input form, with an optional
// offset/size for region capture.
func screenArgs(cfg *config.InstanceConfig) []string {
	src := cfg.Source
	args := []string{
		"-f", grabberFormat(),
		"-framerate", strconv.Itoa(cfg.FFmpeg.Framerate),
	}
	if src.Width > 0 && src.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", src.Width, src.Height))
	}
	args = append(args, "-i", screenGrabberTarget(src))
	return args
}

// windowArgs resolves the configured title through locator, verifies the
// window's visibility and minimized state (warning only, per §4.10), and
// builds the grabber's window-by-title input form. Fails with
// StartupError when no window matches.
func windowArgs(cfg *config.InstanceConfig, locator windowlocator.Locator) ([]string, error) {
	if locator == nil {
		return nil, errors.NewStartupError("window_lookup", fmt.Errorf("no window locator configured"))
	}

	mode := windowlocator.MatchSubstring
	switch cfg.Source.MatchMode {
	case "exact":
		mode = windowlocator.MatchExact
	case "regex":
		mode = windowlocator.MatchRegex
	}

	win, err := locator.Locate(cfg.Source.WindowTitle, mode)
	if err != nil {
		return nil, errors.NewStartupError("window_lookup", err)
	}
	// Visibility/minimized state is a warning, not a hard failure: the
	// window may still produce capturable frames once raised.
	if !win.Visible || win.Minimized {
		logger.Logger().Warn("window_not_visible",
			slog.String("title", win.Title),
			slog.Bool("visible", win.Visible),
			slog.Bool("minimized", win.Minimized))
	}

	args := []string{
		"-f", grabberFormat(),
		"-framerate", strconv.Itoa(cfg.FFmpeg.Framerate),
		"-i", windowGrabberTarget(win),
	}
	return args, nil
}

// networkArgs emits protocol-specific options ahead of the -i URL
// argument, followed by the explicit stream-selection map §4.10 requires.
func networkArgs(cfg *config.InstanceConfig) []string {
	src := cfg.Source
	var args []string

	if src.Transport != "" {
		args = append(args, "-rtsp_transport", src.Transport)
	}
	if src.Reconnect {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1")
	}
	if src.TimeoutMicro > 0 {
		args = append(args, "-timeout", strconv.Itoa(src.TimeoutMicro))
	}
	if src.ProbeSize > 0 {
		args = append(args, "-probesize", strconv.Itoa(src.ProbeSize))
	}
	if src.AnalyzeDur > 0 {
		args = append(args, "-analyzeduration", strconv.Itoa(src.AnalyzeDur))
	}
	if src.LowDelay {
		args = append(args, "-fflags", "nobuffer", "-flags", "low_delay")
	}

	args = append(args, "-i", src.URL)

	if src.VideoStream != "" {
		args = append(args, "-map", src.VideoStream)
	}
	if src.AudioStream != "" {
		args = append(args, "-map", src.AudioStream)
	}
	return args
}

// outputArgs is shared across all source variants: the streamable
// container of §4.3, codec parameters from config, one keyframe per
// second (a deliberate departure from a hardcoded interval — see the
// keyframe-interval redesign note), yuv420p, piped to stdout.
func outputArgs(cfg *config.InstanceConfig) []string {
	f := cfg.FFmpeg
	args := []string{
		"-c:v", f.VideoCodec,
		"-b:v", f.Bitrate,
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(f.Framerate),
	}
	if f.Preset != "" {
		args = append(args, "-preset", f.Preset)
	}
	if f.Tune != "" {
		args = append(args, "-tune", f.Tune)
	}
	if f.AudioCodec != "" && f.AudioCodec != "none" {
		args = append(args, "-c:a", f.AudioCodec)
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-f", "flv", "pipe:1")
	return args
}

// grabberFormat names the platform desktop-grabber input format. This is
// itself a configuration concern the host environment supplies; x11grab
// is the common default for headless Linux encoders.
func grabberFormat() string { return "x11grab" }

func screenGrabberTarget(src config.SourceConfig) string {
	if src.OffsetX != 0 || src.OffsetY != 0 {
		return fmt.Sprintf(":0.0+%d,%d", src.OffsetX, src.OffsetY)
	}
	return ":0.0"
}

func windowGrabberTarget(win windowlocator.Info) string {
	return fmt.Sprintf("title=%s", win.Title)
}
