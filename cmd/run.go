package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/turnstile/internal/capture"
	"github.com/andresmejia3/turnstile/internal/config"
	"github.com/andresmejia3/turnstile/internal/engine"
	"github.com/andresmejia3/turnstile/internal/gallery"
	"github.com/andresmejia3/turnstile/internal/render"
	"github.com/andresmejia3/turnstile/internal/sink"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/andresmejia3/turnstile/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// freezePoll bounds how long the loop sleeps while a confirmation is on screen,
// so cancellation and rendering stay responsive.
const freezePoll = 100 * time.Millisecond

var runOpts struct {
	Input     string
	NoSpoof   bool
	Output    string
	Snapshots string
	Duration  time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera and record attendance",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyRunFlags(Cfg)
		if err := validateRunFlags(Cfg); err != nil {
			utils.ShowError("Invalid run configuration", err, nil)
			return err
		}
		return runAttendance(cmd.Context(), Cfg)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Input, "input", "i", "", "Camera device, video file or stream URL (overrides camera.input)")
	runCmd.Flags().BoolVar(&runOpts.NoSpoof, "no-anti-spoof", false, "Disable the anti-spoof check")
	runCmd.Flags().StringVarP(&runOpts.Output, "output", "o", "", "Write the annotated stream to this video file")
	runCmd.Flags().StringVar(&runOpts.Snapshots, "snapshots", "", "Save a JPEG of every confirmation to this directory")
	runCmd.Flags().DurationVarP(&runOpts.Duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(runCmd)
}

func applyRunFlags(cfg *config.Config) {
	if runOpts.Input != "" {
		cfg.Camera.Input = runOpts.Input
	}
	if runOpts.NoSpoof {
		cfg.Engine.AntiSpoofEnabled = false
	}
	if runOpts.Output != "" {
		cfg.Render.Output = runOpts.Output
	}
	if runOpts.Snapshots != "" {
		cfg.Render.Snapshots = runOpts.Snapshots
	}
}

func validateRunFlags(cfg *config.Config) error {
	if isLocalFile(cfg.Camera.Input) {
		info, err := os.Stat(cfg.Camera.Input)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("camera input %q does not exist", cfg.Camera.Input)
			}
			return fmt.Errorf("unable to access camera input: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("camera input %q is a directory", cfg.Camera.Input)
		}
	}
	if _, err := os.Stat(cfg.Worker.Script); err != nil {
		return fmt.Errorf("worker script: %w", err)
	}
	if cfg.Render.Output != "" && (cfg.Camera.Width == 0 || cfg.Camera.Height == 0) {
		return errors.New("annotated output needs camera.width and camera.height")
	}
	if runOpts.Duration < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", runOpts.Duration)
	}
	return nil
}

// isLocalFile reports whether input names a path rather than a URL.
func isLocalFile(input string) bool {
	return !strings.Contains(input, "://")
}

// runAttendance wires camera, worker, engine, sinks and renderers and drives the tick loop.
func runAttendance(ctx context.Context, cfg *config.Config) error {
	if runOpts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runOpts.Duration)
		defer cancel()
	}

	// 1. Reference embeddings
	known, err := DB.LoadKnownIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to load known identities", err, nil)
		return err
	}
	if len(known) == 0 {
		err := errors.New("no known identities, run `turnstile enroll` first")
		utils.ShowError("Nothing to match against", err, nil)
		return err
	}
	gallery.CheckFreshness(Log, cfg.Gallery.Dir, time.Now(), cfg.Gallery.StaleAfter)

	// 2. Inference worker
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(ctx, 0, cfg.Worker.Script, cfg.Worker.Args...)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	// 3. Sinks
	sinks, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to open attendance sinks", err, nil)
		return err
	}
	defer closeSinks()

	// 4. Renderers
	renderers, err := buildRenderers(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to open render outputs", err, nil)
		return err
	}
	defer renderers.Close()

	// 5. Camera
	src, err := capture.Start(ctx, utils.CaptureArgs{
		Input:    cfg.Camera.Input,
		Format:   cfg.Camera.Format,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
		Realtime: cfg.Camera.Realtime,
	}, w, Log, capture.Options{LatestOnly: cfg.Camera.LatestOnly})
	if err != nil {
		utils.ShowError("Failed to open camera", err, nil)
		return err
	}
	defer src.Close()

	eng, err := engine.New(cfg.Engine, known, src,
		engine.WithLogger(Log),
		engine.WithScorer(w),
		engine.WithSink(sinks),
	)
	if err != nil {
		utils.ShowError("Failed to start attendance engine", err, nil)
		return err
	}

	if cfg.Gallery.Watch {
		watcher, err := gallery.Watch(ctx, cfg.Gallery.Dir, 2*time.Second, Log, func(changed []string) {
			Log.WithField("files", len(changed)).Warn("Reference faces changed; run `turnstile enroll` and restart to use them")
		})
		if err != nil {
			Log.WithError(err).Warn("Not watching the reference directory")
		} else {
			defer watcher.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "📷 Session %s: %d reference embeddings, %d sinks, watching %s\n",
		eng.SessionID()[:8], len(known), sinks.Len(), cfg.Camera.Input)

	// 6. Tick loop
	for {
		inst, err := eng.Tick(ctx, time.Now())
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			w.Close()
			utils.ShowError("Frame processing failed", err, w.Cmd)
			return err
		}

		if err := renderers.Render(inst); err != nil {
			Log.WithError(err).Warn("render failed")
		}

		if inst.Mode == engine.ConfirmationFreeze && cfg.Engine.FreezeBlocksDetection {
			if !sleepCtx(ctx, min(inst.FreezeRemaining, freezePoll)) {
				break
			}
		}
	}

	read, dropped := src.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Session ended. Frames read: %d, dropped while busy: %d\n", read, dropped)
	return nil
}

// buildSinks fans events out to PostgreSQL and the optional CSV and MQTT sinks.
func buildSinks(ctx context.Context, cfg *config.Config) (*sink.Multi, func(), error) {
	multi := sink.NewMulti(Log, sink.Named{Name: "postgres", Sink: DB})
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Sinks.CSVDir != "" {
		csv, err := sink.NewCSV(cfg.Sinks.CSVDir, time.Local)
		if err != nil {
			return nil, closeAll, err
		}
		multi.Add("csv", csv)
		closers = append(closers, func() {
			if err := csv.Close(); err != nil {
				Log.WithError(err).Warn("failed to close CSV sink")
			}
		})
	}

	if cfg.Sinks.MQTT.Broker != "" {
		m := sink.NewMQTT(cfg.Sinks.MQTT, Log)
		if err := m.Connect(ctx); err != nil {
			// The broker is optional; attendance still lands in PostgreSQL.
			Log.WithError(err).Warn("MQTT broker unavailable, continuing without it")
		} else {
			multi.Add("mqtt", m)
			closers = append(closers, func() {
				st := m.Stats()
				Log.WithFields(logrus.Fields{"published": st.Published, "errors": st.Errors}).Info("MQTT sink closed")
				m.Disconnect()
			})
		}
	}

	return multi, closeAll, nil
}

func buildRenderers(ctx context.Context, cfg *config.Config) (*render.Multi, error) {
	renderers := render.NewMulti(Log)
	if cfg.Render.Output != "" {
		v, err := render.NewVideoWriter(ctx, cfg.Render.Output, cfg.Camera.Width, cfg.Camera.Height, cfg.Render.FPS)
		if err != nil {
			return nil, err
		}
		renderers.Add(v)
	}
	if cfg.Render.Snapshots != "" {
		s, err := render.NewSnapshotWriter(cfg.Render.Snapshots)
		if err != nil {
			renderers.Close()
			return nil, err
		}
		renderers.Add(s)
	}
	return renderers, nil
}

// sleepCtx waits for d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
