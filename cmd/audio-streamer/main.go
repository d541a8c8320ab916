package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	audiostream "github.com/e7canasta/orion-care-sensor/modules/audio-stream"
	"github.com/e7canasta/orion-care-sensor/modules/audio-stream/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/audio-stream/internal/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/audio-stream/internal/native"
)

// Version information
const version = "v0.1.0"

// Exit codes
const (
	exitOK         = 0
	exitUsage      = 1
	exitFailure    = -1
	exitDualBranch = -2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	code := exitOK
	cmd := newRootCmd(&code, stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return code
}

func newRootCmd(code *int, stdout, stderr io.Writer) *cobra.Command {
	var (
		cfgFile   string
		dumpGraph bool
	)

	cmd := &cobra.Command{
		Use:           "audio-streamer",
		Short:         "Capture audio and stream it as RTP, optionally recording locally",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			*code = run(cmd.Context(), file, dumpGraph, stdout, stderr)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// -h prints usage and exits 1
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		fmt.Fprint(stderr, c.UsageString())
		*code = exitUsage
	})

	f := cmd.Flags()
	f.BoolP("help", "h", false, "Print usage and exit")
	f.BoolP("test", "t", false, "Use a synthetic test source instead of a capture device")
	f.StringP("device", "s", "", "Capture device identifier (default: platform microphone)")
	f.StringP("file", "f", "", "Decode audio from an MP3 file instead of capturing")
	f.IntP("num-buffers", "n", -1, "Stop the test source after N buffers (-1 = unlimited)")
	f.StringP("address", "a", audiostream.DefaultHost, "Destination address")
	f.IntP("port", "p", audiostream.DefaultPort, "Destination port")
	f.Int64P("record", "r", audiostream.DefaultSegmentBytes, "Record locally while streaming; rotate segments at this size in bytes")
	f.Int("max-segments", audiostream.DefaultMaxSegments, "Number of recording segments kept on disk")
	f.String("codec", "", "Streaming codec: opus, vorbis, pcm (default depends on runtime)")
	f.String("record-codec", "", "Recording codec: vorbis, opus, pcm (default depends on runtime)")
	f.String("runtime", config.RuntimeGStreamer, "Pipeline runtime: gstreamer, native")
	f.Duration("drain-timeout", audiostream.DefaultDrainTimeout, "Time allowed for end-of-stream to flush on stop")
	f.Bool("debug", false, "Enable debug logging")
	f.StringVar(&cfgFile, "config", "", "Config file (default ./audio-streamer.yaml if present)")
	f.BoolVar(&dumpGraph, "dump-graph", false, "Print the pipeline graph as YAML and exit")

	return cmd
}

// run builds and plays the pipeline. Returns the exit code.
func run(ctx context.Context, file *config.File, dumpGraph bool, stdout, stderr io.Writer) int {
	setupLogging(file.Debug, stderr)

	cfg, err := file.Pipeline()
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return exitFailure
	}

	if dumpGraph {
		g, err := audiostream.BuildGraph(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCode(err, cfg.Record.Enabled)
		}
		out, err := g.Describe()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		stdout.Write(out)
		return exitOK
	}

	rt, err := newRuntime(file.Runtime)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	ctrl := audiostream.NewController(rt)
	slog.Info("audio-streamer: starting",
		"version", version,
		"run_id", ctrl.RunID(),
		"runtime", rt.Name(),
		"source", cfg.Capture.Source.String(),
		"destination", cfg.Stream.Transport.Addr(),
		"record", cfg.Record.Enabled,
	)

	if err := ctrl.Build(cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err, cfg.Record.Enabled)
	}
	if err := ctrl.Activate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		ctrl.Deactivate()
		return exitCode(err, cfg.Record.Enabled)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Run(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		var rtErr *audiostream.RuntimeError
		if errors.As(err, &rtErr) && rtErr.Debug != "" {
			fmt.Fprintf(stderr, "Debugging information: %s\n", rtErr.Debug)
		}
		return exitCode(err, cfg.Record.Enabled)
	}
	return exitOK
}

// exitCode maps pipeline errors to process exit codes.
//
// Link failures of the dual-branch topology exit with -2; every other
// creation, link, activation or runtime failure exits with -1. Failing only
// to release stages after a clean run is not fatal.
func exitCode(err error, dualBranch bool) int {
	if err == nil {
		return exitOK
	}

	var linkErr *audiostream.LinkError
	if errors.As(err, &linkErr) && dualBranch {
		return exitDualBranch
	}

	var deactErr *audiostream.DeactivationError
	if errors.As(err, &deactErr) && !isFatal(err) {
		return exitOK
	}
	return exitFailure
}

func isFatal(err error) bool {
	var (
		creation   *audiostream.StageCreationError
		link       *audiostream.LinkError
		activation *audiostream.ActivationError
		runtime    *audiostream.RuntimeError
	)
	return errors.As(err, &creation) ||
		errors.As(err, &link) ||
		errors.As(err, &activation) ||
		errors.As(err, &runtime)
}

func newRuntime(name string) (audiostream.Runtime, error) {
	switch name {
	case config.RuntimeNative:
		return native.New(), nil
	case config.RuntimeGStreamer:
		rt, err := gstreamer.New()
		if err != nil {
			return nil, err
		}
		return rt, nil
	}
	return nil, fmt.Errorf("unknown runtime %q", name)
}

func setupLogging(debug bool, w io.Writer) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
