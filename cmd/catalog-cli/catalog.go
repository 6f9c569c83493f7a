package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/brand"
	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/pipeline"
	"github.com/spherical-ai/catalog-engine/internal/quality"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

func newMergeCmd() *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge unprocessed staging records into the canonical catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			merger, err := a.merger(ctx)
			if err != nil {
				return err
			}

			opts := pipeline.MergeOptions{BatchID: batch}
			var (
				bar  *progressbar.ProgressBar
				last int
			)
			opts.Progress = func(done, total int) {
				if bar == nil {
					bar = ui.ProgressBar(int64(total), "merging")
				}
				if bar != nil {
					_ = bar.Add(done - last)
				}
				last = done
			}

			summary, err := merger.Merge(ctx, opts)
			if summary == nil {
				return err
			}
			if perr := printMergeSummary(summary); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "merge only this staging batch (default: every unprocessed record)")
	return cmd
}

func printMergeSummary(s *pipeline.MergeSummary) error {
	if outputJSON {
		return ui.JSON(s)
	}
	ui.Section("merge")
	var counters []Counter
	if s.BatchID != "" {
		counters = append(counters, Counter{"Batch", s.BatchID})
	}
	counters = append(counters, matchCounters(s.Processed, s.MatchedExactURL, s.MatchedBrandName, s.MatchedFuzzy, s.New, s.Quarantined)...)
	counters = append(counters,
		Counter{"Extraction failures", s.ExtractionFailures},
		Counter{"Products written", s.Written},
		Counter{"Duration", FormatDuration(s.Duration)},
	)
	ui.Counters(counters...)
	warnWriteFailures(s.WriteFailures)
	return nil
}

// matchCounters lays out how staged records resolved against the catalog.
func matchCounters(processed, exactURL, brandName, fuzzy, created, quarantined int) []Counter {
	return []Counter{
		{"Processed", processed},
		{"Matched (exact URL)", exactURL},
		{"Matched (brand+name)", brandName},
		{"Matched (fuzzy)", fuzzy},
		{"New", created},
		{"Quarantined", quarantined},
	}
}

func warnWriteFailures(keys []string) {
	if len(keys) == 0 {
		return
	}
	ui.Warning("%d products could not be written; their records stay staged", len(keys))
	for _, key := range keys {
		ui.Step("%s", key)
	}
}

func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Promote complete PENDING products to ACTIVE and recompute brand quality",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.quality()
			result, err := svc.Promote(ctx)
			if err != nil {
				return err
			}
			snapshots, err := svc.RecomputeSnapshots(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				return ui.JSON(map[string]interface{}{
					"evaluated": result.Evaluated,
					"promoted":  result.Promoted,
					"failed":    result.Failed,
					"brands":    len(snapshots),
				})
			}
			ui.Success("Promoted %d of %d pending products", result.Promoted, result.Evaluated)
			if len(result.Failed) > 0 {
				ui.Warning("%d promotions failed", len(result.Failed))
			}
			ui.Info("Recomputed quality for %d brands", len(snapshots))
			return nil
		},
	}
}

// operatorActor resolves the administrative actor for an override.
func operatorActor(operator string) quality.Actor {
	if operator == "" {
		operator = os.Getenv("USER")
	}
	if operator == "" {
		operator = "cli"
	}
	return quality.Actor("admin:" + operator)
}

func newApproveCmd() *cobra.Command {
	return newOverrideCmd("approve", "Activate a PENDING product regardless of the gate",
		func(ctx context.Context, svc *quality.Service, key string, actor quality.Actor, reason string) error {
			return svc.Approve(ctx, key, actor, reason)
		})
}

func newRejectCmd() *cobra.Command {
	return newOverrideCmd("reject", "Reject a PENDING or ACTIVE product (terminal)",
		func(ctx context.Context, svc *quality.Service, key string, actor quality.Actor, reason string) error {
			return svc.Reject(ctx, key, actor, reason)
		})
}

func newOverrideCmd(use, short string, apply func(ctx context.Context, svc *quality.Service, key string, actor quality.Actor, reason string) error) *cobra.Command {
	var (
		operator string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   use + " <product-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			key := args[0]
			actor := operatorActor(operator)
			svc := a.quality()
			if err := apply(ctx, svc, key, actor, reason); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("product %q not found", key)
				}
				return fmt.Errorf("%s %s: %w", use, key, err)
			}
			if _, err := svc.RecomputeSnapshots(ctx); err != nil {
				logger.Warn().Err(err).Msg("Brand quality not recomputed")
			}

			if outputJSON {
				return ui.JSON(map[string]string{"product_key": key, "action": use, "actor": string(actor)})
			}
			ui.Success("%s: %s by %s", use, key, actor)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "operator name for the audit trail (default: $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	return cmd
}

func newQualityCmd() *cobra.Command {
	var recompute bool

	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Show per-brand coverage and production eligibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if recompute {
				if _, err := a.quality().RecomputeSnapshots(ctx); err != nil {
					return err
				}
			}
			snapshots, err := a.store.Snapshots.List(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return ui.JSON(snapshots)
			}

			rows := make([][]string, 0, len(snapshots))
			for _, s := range snapshots {
				eligible := "preview"
				if s.ProductionEligible {
					eligible = "production"
				}
				rows = append(rows, []string{
					s.Brand,
					fmt.Sprintf("%d", s.SKUCount),
					fmt.Sprintf("%.1f%%", s.IngredientsCoverage),
					fmt.Sprintf("%.1f%%", s.FormCoverage),
					fmt.Sprintf("%.1f%%", s.LifeStageCoverage),
					fmt.Sprintf("%.1f%%", s.KcalValidCoverage),
					eligible,
				})
			}
			ui.Table([]string{"BRAND", "SKUS", "INGREDIENTS", "FORM", "LIFE STAGE", "KCAL VALID", "VIEW"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute snapshots from the catalog first")
	return cmd
}

func newAliasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Manage the brand alias table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <aliases.yaml>",
		Short: "Upsert curated brand aliases from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read alias file: %w", err)
			}
			aliases, err := brand.ParseAliasFile(data)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.store.Aliases.UpsertMany(ctx, aliases)
			if err != nil {
				return err
			}
			if a.cache != nil {
				if err := a.cache.Delete(ctx, cache.AliasTableKey()); err != nil {
					logger.Warn().Err(err).Msg("Alias cache not invalidated")
				}
			}

			if outputJSON {
				return ui.JSON(map[string]int{"aliases": len(aliases), "changed": changed})
			}
			ui.Success("Imported %d aliases (%d changed)", len(aliases), changed)
			return nil
		},
	})
	return cmd
}
