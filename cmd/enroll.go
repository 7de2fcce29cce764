package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/turnstile/internal/capture"
	"github.com/andresmejia3/turnstile/internal/gallery"
	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/andresmejia3/turnstile/internal/vision"
	"github.com/andresmejia3/turnstile/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var enrollOpts struct {
	Dir     string
	Replace bool
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Compute reference embeddings from a directory of known faces",
	Long: `Reads <dir>/<identity>/<image> files, extracts the first face of every image
through the AI worker and stores its embedding under the identity's name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		dir := enrollOpts.Dir
		if dir == "" {
			dir = Cfg.Gallery.Dir
		}
		return runEnroll(cmd.Context(), dir, enrollOpts.Replace)
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollOpts.Dir, "dir", "", "Reference face directory (overrides gallery.dir)")
	enrollCmd.Flags().BoolVar(&enrollOpts.Replace, "replace", false, "Drop existing embeddings of every enrolled identity first")
	rootCmd.AddCommand(enrollCmd)
}

// enrollStats summarizes a run.
type enrollStats struct {
	Enrolled int
	NoFace   int
	Unusable int
	People   map[string]int
}

// identityWriter is the part of the store enroll writes through.
type identityWriter interface {
	AddIdentity(ctx context.Context, label, source string, embedding []float64) (int64, error)
	DeleteIdentity(ctx context.Context, label string) (int64, error)
}

func runEnroll(ctx context.Context, dir string, replace bool) error {
	images, err := gallery.Walk(dir)
	if err != nil {
		utils.ShowError("Failed to read reference directory", err, nil)
		return err
	}
	if len(images) == 0 {
		err := fmt.Errorf("no images found under %s (expected <dir>/<identity>/<image>)", dir)
		utils.ShowError("Nothing to enroll", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(ctx, 0, Cfg.Worker.Script, Cfg.Worker.Args...)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	bar := progressbar.NewOptions(len(images),
		progressbar.OptionSetDescription("🧑 Enrolling"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	stats, err := enrollImages(ctx, images, w, DB, replace, Cfg.Worker.MaxImageSize, func() { bar.Add(1) })
	if err != nil {
		var crash *workerCrash
		if errors.As(err, &crash) {
			w.Close()
			utils.ShowError("Python crashed", crash.err, w.Cmd)
			return crash.err
		}
		utils.ShowError("Failed to store embedding", err, nil)
		return err
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n🏁 Enrolled %d embeddings for %d identities (%d without a face, %d unusable).\n",
		stats.Enrolled, len(stats.People), stats.NoFace, stats.Unusable)
	return nil
}

// workerCrash marks a detection failure that is not a worker-side logic error.
type workerCrash struct{ err error }

func (c *workerCrash) Error() string { return c.err.Error() }
func (c *workerCrash) Unwrap() error { return c.err }

// enrollImages stores the first embedding of every image. With replace, an identity's
// old embeddings are removed right before its first new one is stored, so identities
// that yield nothing keep what they had.
func enrollImages(ctx context.Context, images []gallery.Image, det capture.Detector, db identityWriter, replace bool, maxSize int, progress func()) (enrollStats, error) {
	stats := enrollStats{People: make(map[string]int)}
	cleared := make(map[string]bool)

	for _, img := range images {
		if progress != nil {
			progress()
		}

		data, err := os.ReadFile(img.Path)
		if err != nil {
			Log.WithError(err).WithField("path", img.Path).Warn("skipping unreadable image")
			stats.Unusable++
			continue
		}
		jpg, err := vision.NormalizeJPEG(data, maxSize)
		if err != nil {
			Log.WithError(err).WithField("path", img.Path).Warn("skipping undecodable image")
			stats.Unusable++
			continue
		}

		res, err := det.Detect(jpg)
		if err != nil {
			if worker.IsRemote(err) {
				Log.WithError(err).WithField("path", img.Path).Warn("worker rejected image")
				stats.Unusable++
				continue
			}
			return stats, &workerCrash{err: err}
		}

		embedding := firstEmbedding(res.Faces)
		if embedding == nil {
			Log.WithField("path", img.Path).Warn("no face found")
			stats.NoFace++
			continue
		}

		if replace && !cleared[img.Identity] {
			if _, err := db.DeleteIdentity(ctx, img.Identity); err != nil {
				return stats, fmt.Errorf("failed to clear embeddings of %q: %w", img.Identity, err)
			}
			cleared[img.Identity] = true
		}
		if _, err := db.AddIdentity(ctx, img.Identity, img.Name(), embedding); err != nil {
			return stats, err
		}
		stats.Enrolled++
		stats.People[img.Identity]++
	}
	return stats, nil
}

// firstEmbedding returns the embedding of the first face that has one.
func firstEmbedding(faces []types.FaceResult) []float64 {
	for _, f := range faces {
		if len(f.Vec) > 0 {
			return f.Vec
		}
	}
	return nil
}
