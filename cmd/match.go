package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-occluder/internal/assets"
	"github.com/kozaktomas/face-occluder/internal/config"
	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/facematch"
	"github.com/kozaktomas/face-occluder/internal/gate"
)

var matchCmd = &cobra.Command{
	Use:   "match <reference-image> <image>",
	Short: "Check whether the person in one image appears in another",
	Long: `Compare the best face of the reference image with every face of the second
image, using the same distance threshold as the feed processor.

Images can be file paths or URLs.

Examples:
  # Is the reference person in photo.jpg?
  face-occluder match assets/target.webp photo.jpg

  # Stricter threshold, JSON output
  face-occluder match target.webp photo.jpg --threshold 0.5 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Float64("threshold", constants.MatchThreshold, "Maximum Euclidean distance for a match (lower = stricter)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
	matchCmd.Flags().Int("timeout", 60, "Timeout in seconds")
}

// FaceResult is one face of the compared image.
type FaceResult struct {
	Index    int       `json:"face_index"`
	Distance float64   `json:"distance"`
	Matched  bool      `json:"matched"`
	Label    string    `json:"label"`
	Box      []float64 `json:"box"` // relative [x, y, w, h]
}

// MatchOutput is the result of the match command.
type MatchOutput struct {
	Reference string       `json:"reference"`
	Image     string       `json:"image"`
	Threshold float64      `json:"threshold"`
	Matched   bool         `json:"matched"`
	Best      *FaceResult  `json:"best,omitempty"`
	Faces     []FaceResult `json:"faces"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	threshold := mustGetFloat64(cmd, "threshold")
	jsonOutput := mustGetBool(cmd, "json")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(mustGetInt(cmd, "timeout"))*time.Second)
	defer cancel()

	client := embedding.NewClient(cfg.FaceAPI.URL, cfg.FaceAPI.Model, cfg.FaceAPI.Dim).
		WithPollInterval(cfg.Detection.ReadyPollInterval)
	fetcher := assets.NewHTTPFetcher(nil)

	refURL, err := assets.LocalURL(args[0])
	if err != nil {
		return err
	}
	imgURL, err := assets.LocalURL(args[1])
	if err != nil {
		return err
	}

	// The gate loads the models and extracts the reference exactly as a feed session does.
	g := gate.New(client, fetcher, refURL, newLogger(cmd, cfg))
	g.Start(ctx)
	reference, err := g.Wait(ctx)
	if err != nil {
		if errors.Is(err, gate.ErrNoReferenceFace) {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return err
	}

	data, err := fetcher.Fetch(ctx, imgURL)
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[1], err)
	}
	prepared, err := embedding.Prepare(data, constants.MaxImageSize)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", args[1], err)
	}
	faces, err := client.DetectAll(ctx, prepared.Data)
	if err != nil {
		return fmt.Errorf("detecting faces in %s: %w", args[1], err)
	}

	matcher := facematch.NewMatcher(reference, constants.ReferenceLabel, threshold)
	out := buildMatchOutput(matcher, faces, prepared.Width, prepared.Height)
	out.Reference = args[0]
	out.Image = args[1]

	if jsonOutput {
		return outputJSON(out)
	}
	printMatchOutput(out)
	return nil
}

func buildMatchOutput(matcher *facematch.Matcher, faces []embedding.Face, width, height int) MatchOutput {
	out := MatchOutput{Threshold: matcher.Threshold(), Faces: make([]FaceResult, 0, len(faces))}
	for _, f := range faces {
		r := matcher.Match(f.Descriptor)
		out.Faces = append(out.Faces, FaceResult{
			Index:    f.Index,
			Distance: r.Distance,
			Matched:  r.Matched,
			Label:    r.Label,
			Box:      facematch.RelativeBox(f.BBox, width, height),
		})
	}

	if best, idx, ok := matcher.AnyMatch(faces); idx >= 0 {
		out.Matched = ok
		fr := out.Faces[idx]
		fr.Distance = best.Distance
		out.Best = &fr
	}
	return out
}

func printMatchOutput(out MatchOutput) {
	if len(out.Faces) == 0 {
		fmt.Printf("No faces found in %s\n", out.Image)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tDISTANCE\tLABEL\tBOX")
	for _, f := range out.Faces {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%.2f\n", f.Index, f.Distance, f.Label, f.Box)
	}
	_ = w.Flush()

	switch {
	case out.Matched:
		fmt.Printf("\nMatch: face %d at distance %.4f (threshold %.2f)\n", out.Best.Index, out.Best.Distance, out.Threshold)
	case out.Best != nil:
		fmt.Printf("\nNo match (closest distance %.4f, threshold %.2f)\n", out.Best.Distance, out.Threshold)
	default:
		fmt.Println("\nNo match (no comparable descriptors)")
	}
}
