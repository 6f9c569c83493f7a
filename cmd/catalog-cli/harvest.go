package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/spherical-ai/catalog-engine/internal/extract"
	"github.com/spherical-ai/catalog-engine/internal/harvest"
	"github.com/spherical-ai/catalog-engine/internal/pipeline"
)

// sourceFlags selects and windows a harvest source.
type sourceFlags struct {
	name     string
	urlsFile string
	csvFile  string
	offset   int
	limit    int
	batch    string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "source", "", "source id recorded on staged records (required)")
	cmd.Flags().StringVar(&f.urlsFile, "urls-file", "", "file of product page URLs, one per line (url[TAB brand[TAB name[TAB form[TAB life stage]]]])")
	cmd.Flags().StringVar(&f.csvFile, "csv", "", "catalog export to import instead of fetching pages")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "skip the first N items")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "harvest at most N items (0 = all)")
	cmd.Flags().StringVar(&f.batch, "batch", "", "staging batch id (default: generated)")
	_ = cmd.MarkFlagRequired("source")
	cmd.MarkFlagsMutuallyExclusive("urls-file", "csv")
	cmd.MarkFlagsOneRequired("urls-file", "csv")
}

func (f *sourceFlags) options() harvest.Options {
	return harvest.Options{BatchID: f.batch, Offset: f.offset, Limit: f.limit}
}

func (f *sourceFlags) build(ctx context.Context, a *app) (harvest.Source, error) {
	if f.csvFile != "" {
		path := f.csvFile
		return harvest.NewCSVSource(f.name, func() (io.ReadCloser, error) {
			return os.Open(path)
		}, extract.NewEngine(cfg.Extraction)), nil
	}
	items, err := readURLList(f.urlsFile)
	if err != nil {
		return nil, err
	}
	return a.pageSource(ctx, f.name, items)
}

// readURLList reads a URL list. Blank lines and # comments are skipped.
func readURLList(path string) ([]harvest.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer file.Close()

	var items []harvest.Item
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		for len(fields) < 5 {
			fields = append(fields, "")
		}
		item := harvest.Item{
			Key:           strings.TrimSpace(fields[0]),
			Brand:         strings.TrimSpace(fields[1]),
			Name:          strings.TrimSpace(fields[2]),
			FormHint:      strings.TrimSpace(fields[3]),
			LifeStageHint: strings.TrimSpace(fields[4]),
		}
		if seen[item.Key] {
			continue
		}
		seen[item.Key] = true
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return items, nil
}

// attachSessionBars adds one progress bar per harvest session sized to the
// session's share of the window. The returned func aborts unfinished bars.
func attachSessionBars(ctx context.Context, src harvest.Source, sessions int, opts *harvest.Options) (func(), error) {
	if outputJSON {
		return func() {}, nil
	}
	items, err := src.Items(ctx)
	if err != nil {
		return nil, err
	}
	parts := harvest.Partition(harvest.Window(items, opts.Offset, opts.Limit), sessions)
	countries := cfg.SessionCountries()

	bars := make([]*mpb.Bar, len(parts))
	for i, part := range parts {
		label := fmt.Sprintf("session %d", i+1)
		if i < len(countries) && countries[i] != "" {
			label += " (" + countries[i] + ")"
		}
		bars[i] = ui.SessionBar(label, int64(len(part)))
	}
	opts.Progress = func(session int, item harvest.Item, err error) {
		if session < len(bars) && bars[session] != nil {
			bars[session].Increment()
		}
	}
	return func() {
		for _, bar := range bars {
			if bar != nil && !bar.Completed() {
				bar.Abort(false)
			}
		}
		ui.Close()
	}, nil
}

func newHarvestCmd() *cobra.Command {
	var flags sourceFlags

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest a source into a new staging batch",
		Long: `Harvest fetches product pages through the rendering proxy (or reads a
catalog export), extracts ingredients and nutrients, and writes the results to
a staging batch. Items are split across the configured proxy sessions.
Failed pages are queued for retry-failures. Extraction problems are warnings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := flags.build(ctx, a)
			if err != nil {
				return err
			}
			runner := a.runner()
			opts := flags.options()
			done, err := attachSessionBars(ctx, src, runner.Sessions(), &opts)
			if err != nil {
				return err
			}

			summary, runErr := runner.Run(ctx, src, opts)
			done()
			if summary == nil {
				return runErr
			}
			if err := printHarvestSummary(summary); err != nil {
				return err
			}
			if harvest.IsCancelled(runErr) {
				ui.Warning("Harvest interrupted; staged records are kept")
			}
			return runErr
		},
	}

	flags.register(cmd)
	return cmd
}

func newReprocessCmd() *cobra.Command {
	var (
		source string
		day    string
		batch  string
		merge  bool
	)

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-extract stored page snapshots into a new staging batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			at := time.Now().UTC()
			if day != "" {
				parsed, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("invalid --day: %w", err)
				}
				at = parsed
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			blobs, err := a.blobStore(ctx)
			if err != nil {
				return err
			}
			reprocessor := harvest.NewReprocessor(blobs, extract.NewEngine(cfg.Extraction), a.store.Staging, logger)
			summary, err := reprocessor.Run(ctx, source, at, batch)
			if err != nil {
				return err
			}
			if !merge {
				return printHarvestSummary(summary)
			}

			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			run, err := p.Finish(ctx, summary.BatchID, nil)
			if err != nil {
				return err
			}
			run.Source = source
			run.Harvested = summary.Harvested
			return printRunSummary(run)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id whose snapshots to reprocess (required)")
	cmd.Flags().StringVar(&day, "day", "", "snapshot day as YYYY-MM-DD (default: today, UTC)")
	cmd.Flags().StringVar(&batch, "batch", "", "staging batch id (default: generated)")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge, promote, and recompute snapshots afterwards")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newRetryFailuresCmd() *cobra.Command {
	var (
		source string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "retry-failures",
		Short: "Re-harvest queued page failures and run them through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			failures, err := a.store.Failures.ListOpen(ctx, source, limit)
			if err != nil {
				return err
			}
			if len(failures) == 0 {
				if outputJSON {
					return ui.JSON(map[string]int{"queued": 0})
				}
				ui.Success("No queued failures for %s", source)
				return nil
			}

			items := make([]harvest.Item, 0, len(failures))
			for _, f := range failures {
				items = append(items, harvest.Item{Key: f.URL})
			}
			ui.Info("Retrying %d queued pages", len(items))

			src, err := a.pageSource(ctx, source, items)
			if err != nil {
				return err
			}
			return runPipeline(ctx, a, src, harvest.Options{})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id of the queued failures (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "retry at most N failures (0 = all)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newRunCmd() *cobra.Command {
	var flags sourceFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest, merge, promote, and recompute brand quality in one go",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := flags.build(ctx, a)
			if err != nil {
				return err
			}
			return runPipeline(ctx, a, src, flags.options())
		},
	}

	flags.register(cmd)
	return cmd
}

func runPipeline(ctx context.Context, a *app, src harvest.Source, opts harvest.Options) error {
	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	done, err := attachSessionBars(ctx, src, a.runner().Sessions(), &opts)
	if err != nil {
		return err
	}

	summary, runErr := p.Run(ctx, src, opts)
	done()
	if err := printRunSummary(summary); err != nil {
		return err
	}
	if summary.Cancelled {
		ui.Warning("Run interrupted after harvest; staged records were merged")
	}
	return runErr
}

func printHarvestSummary(s *harvest.Summary) error {
	if outputJSON {
		return ui.JSON(s)
	}
	ui.Section("harvest")
	ui.Counters(
		Counter{"Batch", s.BatchID},
		Counter{"Source", s.Source},
		Counter{"Sessions", s.Sessions},
		Counter{"Items", s.Items},
		Counter{"Harvested", s.Harvested},
		Counter{"Failed (queued)", s.Failed},
		Counter{"Extraction failures", s.ExtractionFailures},
		Counter{"Duration", FormatDuration(s.Duration)},
	)
	if s.ExtractionFailures > 0 {
		ui.Warning("%d records staged with extraction problems", s.ExtractionFailures)
	}
	return nil
}

func printRunSummary(s *pipeline.RunSummary) error {
	if outputJSON {
		return ui.JSON(s)
	}
	ui.Section("run " + s.RunID)
	var counters []Counter
	if s.Source != "" {
		counters = append(counters,
			Counter{"Source", s.Source},
			Counter{"Harvested", s.Harvested},
			Counter{"Harvest failures", s.HarvestFailed},
		)
	}
	counters = append(counters, matchCounters(s.Processed, s.MatchedExactURL, s.MatchedBrandName, s.MatchedFuzzy, s.New, s.Quarantined)...)
	counters = append(counters,
		Counter{"Promoted", s.Promoted},
		Counter{"Brands (eligible)", fmt.Sprintf("%d (%d)", s.Brands, s.EligibleBrands)},
		Counter{"Duration", FormatDuration(s.Duration)},
	)
	ui.Counters(counters...)
	if s.ExtractionFailures > 0 {
		ui.Warning("%d records had extraction problems", s.ExtractionFailures)
	}
	warnWriteFailures(s.WriteFailures)
	return nil
}
