// Command indexer rebuilds or updates the product search index from the
// catalogue database without running the HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogsearch/internal/app"
	"github.com/utafrali/catalogsearch/internal/config"
	"github.com/utafrali/catalogsearch/internal/service"
	"github.com/utafrali/catalogsearch/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Synchronise the product search index with the catalogue",
		SilenceUsage: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "rebuild",
			Short: "Drop and recreate the index, then index every product",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withIndexer(cmd, func(ctx context.Context, idx *service.Indexer) error {
					report, err := idx.Rebuild(ctx)
					if err != nil {
						return err
					}
					printReport(cmd, report)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "update",
			Short: "Re-index every product into the existing index",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withIndexer(cmd, func(ctx context.Context, idx *service.Indexer) error {
					report, err := idx.Update(ctx)
					if err != nil {
						return err
					}
					printReport(cmd, report)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "product <id>",
			Short: "Index a single product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withIndexer(cmd, func(ctx context.Context, idx *service.Indexer) error {
					if err := idx.IndexProduct(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "product %d indexed\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove a single product from the index",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withIndexer(cmd, func(ctx context.Context, idx *service.Indexer) error {
					if err := idx.DeleteProduct(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "product %d removed\n", id)
					return nil
				})
			},
		},
	)
	return root
}

// withIndexer loads configuration, connects the catalogue and search engine
// and runs fn with the resulting indexer.
func withIndexer(cmd *cobra.Command, fn func(context.Context, *service.Indexer) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("search-indexer", cfg.Logger(), os.Stdout)

	ctx := cmd.Context()
	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer core.Close()

	return fn(ctx, core.Indexer)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}

func printReport(cmd *cobra.Command, r *service.IndexReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: indexed %d, failed %d in %s\n",
		r.Mode, r.Indexed, r.Failed, r.Duration.Round(time.Millisecond))
}
