package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-occluder/internal/assets"
	"github.com/kozaktomas/face-occluder/internal/config"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/page"
	"github.com/kozaktomas/face-occluder/internal/processor"
	"github.com/kozaktomas/face-occluder/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scroll through a feed page and cover every photo of the reference person",
	Long: `Load a feed page, wait for the face service and the reference face, then
scroll through the page the way a reader would. Images are checked as they
become visible; lazy-loaded fragments given with --append are inserted each
time the viewport reaches the bottom of the page.

The resulting page, with matched photos hidden behind overlays, is written to
--out (stdout by default).

Examples:
  # Process a saved timeline
  face-occluder run --page timeline.html --out occluded.html

  # Simulate two lazy-load batches on a 390x844 phone screen
  face-occluder run --page timeline.html --append more1.html --append more2.html --viewport 390x844

  # Gzipped captures are decompressed automatically
  face-occluder run --page timeline.html.gz --append more.html.gz

  # Use a custom selector for the initial scan
  face-occluder run --page feed.html --selector 'article img'`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("page", "", "Feed page to process (file path or URL)")
	runCmd.Flags().String("base", "", "Base URL for relative image sources (defaults to the page location)")
	runCmd.Flags().StringSlice("append", nil, "HTML fragment files inserted as lazy-loaded content, in order")
	runCmd.Flags().String("viewport", "1280x800", "Viewport size as WIDTHxHEIGHT")
	runCmd.Flags().Int("step", 400, "Scroll step in pixels")
	runCmd.Flags().String("out", "-", "Output file for the processed page (- for stdout)")
	runCmd.Flags().String("site", "", "Site profile from sites.yaml (defaults to SITE or the page host)")
	runCmd.Flags().String("selector", "", "CSS selector for the initial image scan; overrides the site profile")
	runCmd.Flags().Int("timeout", 300, "Overall timeout in seconds")
	runCmd.Flags().Bool("no-progress", false, "Hide the progress bar")
	_ = runCmd.MarkFlagRequired("page")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger(cmd, cfg)

	step := mustGetInt(cmd, "step")
	if step <= 0 {
		return fmt.Errorf("--step must be positive, got %d", step)
	}
	width, height, err := parseViewport(mustGetString(cmd, "viewport"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(mustGetInt(cmd, "timeout"))*time.Second)
	defer cancel()

	fetcher := assets.NewHTTPFetcher(nil)

	pageURL, err := assets.LocalURL(mustGetString(cmd, "page"))
	if err != nil {
		return err
	}
	doc, err := fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("loading page: %w", err)
	}
	if doc, err = assets.Gunzip(doc); err != nil {
		return fmt.Errorf("loading page: %w", err)
	}

	base := mustGetString(cmd, "base")
	if base == "" {
		base = pageURL
	}
	pg, err := page.Parse(bytes.NewReader(doc), base)
	if err != nil {
		return err
	}
	pg.SetViewport(width, height)

	applySiteFlags(cfg, mustGetString(cmd, "site"), mustGetString(cmd, "selector"), base)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fragments, err := readFragments(mustGetStringSlice(cmd, "append"))
	if err != nil {
		return err
	}

	client := embedding.NewClient(cfg.FaceAPI.URL, cfg.FaceAPI.Model, cfg.FaceAPI.Dim).
		WithPollInterval(cfg.Detection.ReadyPollInterval)
	sess, err := session.New(cfg, session.Deps{
		Page:     pg,
		Provider: client,
		Fetcher:  fetcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Fprintf(os.Stderr, "Waiting for face service at %s...\n", cfg.FaceAPI.URL)
	if err := sess.Run(ctx); err != nil {
		return err
	}

	bar := progressbar.NewOptions(max(int(pg.DocumentHeight()), 1),
		progressbar.OptionSetDescription("Scrolling feed"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("px"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetVisibility(!mustGetBool(cmd, "no-progress")),
	)
	if err := scrollFeed(ctx, pg, fragments, step, bar); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	_ = bar.Finish()

	sess.Wait()

	if err := writePage(pg, mustGetString(cmd, "out")); err != nil {
		return err
	}

	stats := sess.Stats()
	fmt.Fprintf(os.Stderr, "\nImages: %d registered, %d checked, %d covered, %d without faces, %d failed\n",
		stats.Registered, stats.Completed,
		stats.Outcomes[processor.Matched], stats.Outcomes[processor.NoFace], stats.Outcomes[processor.Failed])
	return nil
}

// applySiteFlags picks the initial scan selector: an explicit selector, then
// an explicit site, then SITE_SELECTOR, then a profile matching the page host,
// then SITE.
func applySiteFlags(cfg *config.Config, site, selector, base string) {
	switch {
	case selector != "":
		cfg.Site.Selector = selector
	case site != "":
		cfg.Site = config.SiteConfig{Name: site}
	case cfg.Site.Selector != "" || os.Getenv("SITE") != "":
		// configured through the environment
	default:
		if u, err := url.Parse(base); err == nil {
			if name, ok := cfg.SiteForHost(u.Hostname()); ok {
				cfg.Site.Name = name
			}
		}
	}
}

// parseViewport reads "WIDTHxHEIGHT".
func parseViewport(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q, expected WIDTHxHEIGHT", s)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport %q, expected WIDTHxHEIGHT", s)
	}
	return w, h, nil
}

func readFragments(paths []string) ([]string, error) {
	fragments := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading fragment: %w", err)
		}
		if data, err = assets.Gunzip(data); err != nil {
			return nil, fmt.Errorf("reading fragment %s: %w", p, err)
		}
		fragments = append(fragments, string(data))
	}
	return fragments, nil
}

// scrollFeed moves the viewport down in steps. Each time the viewport reaches
// the bottom the next fragment is appended to body, like a feed loading more
// content. It returns once the bottom is reached with no fragments left.
func scrollFeed(ctx context.Context, pg *page.Page, fragments []string, step int, bar *progressbar.ProgressBar) error {
	viewport := float64(pg.Viewport().H)

	for y := 0.0; ; y += float64(step) {
		if err := ctx.Err(); err != nil {
			return err
		}

		pg.ScrollTo(0, y)
		if bar != nil {
			_ = bar.Set(int(min(y+viewport, pg.DocumentHeight())))
		}
		if y+viewport < pg.DocumentHeight() {
			continue
		}

		if len(fragments) == 0 {
			return nil
		}
		if _, err := pg.AppendHTML(pg.Body(), fragments[0]); err != nil {
			return err
		}
		fragments = fragments[1:]
		if bar != nil {
			bar.ChangeMax(max(int(pg.DocumentHeight()), 1))
		}
	}
}

func writePage(pg *page.Page, out string) error {
	if out == "" || out == "-" {
		return pg.Render(os.Stdout)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	if err := pg.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	return f.Close()
}
