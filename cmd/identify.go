package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/turnstile/internal/engine"
	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/andresmejia3/turnstile/internal/utils"
	"github.com/andresmejia3/turnstile/internal/vision"
	"github.com/andresmejia3/turnstile/internal/worker"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Match the faces of a still image against the known identities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

// faceReport is one row of identify's output.
type faceReport struct {
	Box        image.Rectangle
	Identity   string
	Matched    bool
	Confidence float64
	Accepted   bool
	Spoof      *float64 // real score, nil when anti-spoof is off
	IsSpoof    bool
}

func runIdentify(ctx context.Context, imagePath string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	jpg, err := vision.NormalizeJPEG(data, Cfg.Worker.MaxImageSize)
	if err != nil {
		utils.ShowError("Unsupported image", err, nil)
		return err
	}
	img, err := jpeg.Decode(bytes.NewReader(jpg))
	if err != nil {
		utils.ShowError("Unsupported image", err, nil)
		return err
	}

	known, err := DB.LoadKnownIdentities(ctx)
	if err != nil {
		utils.ShowError("Failed to load known identities", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(ctx, 0, Cfg.Worker.Script, Cfg.Worker.Args...)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	res, err := w.Detect(jpg)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}
	if len(res.Faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	var scorer engine.SpoofScorer
	if Cfg.Engine.AntiSpoofEnabled {
		scorer = w
	}
	reports := identifyFaces(res.Faces, img, known, Cfg.Engine, scorer)

	out := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(out, "FACE\tBOX\tIDENTITY\tCONFIDENCE\tANTI-SPOOF")
	fmt.Fprintln(out, "----\t---\t--------\t----------\t----------")
	for i, r := range reports {
		name := "Unknown"
		if r.Matched {
			name = r.Identity
		}
		if r.Accepted {
			name = "✅ " + name
		}
		spoof := "-"
		if r.Spoof != nil {
			spoof = fmt.Sprintf("%.2f", *r.Spoof)
		}
		fmt.Fprintf(out, "%d\t%v\t%s\t%.2f\t%s\n", i+1, r.Box, name, r.Confidence, spoof)
	}
	return out.Flush()
}

// identifyFaces matches every face with an embedding and runs the engine's anti-spoof
// check when scorer is set. A face is accepted when it matches with enough confidence
// and is not a spoof.
func identifyFaces(faces []types.FaceResult, img image.Image, known []types.KnownIdentity, cfg engine.Config, scorer engine.SpoofScorer) []faceReport {
	matcher := engine.NewMatcher(known, cfg.MatchTolerance)
	cfg.AntiSpoofEnabled = scorer != nil
	liveness := engine.NewLiveness(cfg, scorer, Log)

	var reports []faceReport
	for _, f := range faces {
		r := faceReport{Box: image.Rect(f.Loc[0], f.Loc[1], f.Loc[2], f.Loc[3])}
		if len(f.Vec) > 0 {
			r.Identity, r.Matched, r.Confidence = matcher.Match(f.Vec)
		}

		if scorer != nil {
			isSpoof, score := liveness.CheckSpoof(img, r.Box)
			r.Spoof = &score
			r.IsSpoof = isSpoof
		}
		r.Accepted = r.Matched && r.Confidence >= cfg.MinConfidence && !r.IsSpoof
		reports = append(reports, r)
	}
	return reports
}
