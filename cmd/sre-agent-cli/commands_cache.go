package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redis-sre/agentcore/toolmanager"
)

// =============================================================================
// Cache Commands
// =============================================================================

func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the tool-result cache",
	}
	cmd.AddCommand(
		buildCacheClearCmd(),
		buildCacheStatsCmd(),
	)
	return cmd
}

func buildCacheClearCmd() *cobra.Command {
	var (
		instance string
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached tool results for an instance scope, or every scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := depsFromContext(cmd)
			if all {
				n, err := d.cache.ClearAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("cleared %d cached entries across all scopes\n", n)
				return nil
			}
			scope := instance
			if scope == "" {
				scope = toolmanager.AllInstancesScope
			}
			n, err := d.cache.Clear(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d cached entries for scope %q\n", n, scope)
			return nil
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "Instance scope to clear (defaults to the cross-instance scope)")
	cmd.Flags().BoolVar(&all, "all", false, "Clear every scope instead of just --instance")
	return cmd
}

func buildCacheStatsCmd() *cobra.Command {
	var (
		instance string
		all      bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report cached-entry counts for an instance scope, or every scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := depsFromContext(cmd)
			if all {
				stats, err := d.cache.StatsAll(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(stats)
				}
				fmt.Printf("total_keys: %d\n", stats.TotalKeys)
				for _, inst := range stats.Instances {
					fmt.Printf("  %s\n", inst)
				}
				return nil
			}
			scope := instance
			if scope == "" {
				scope = toolmanager.AllInstancesScope
			}
			stats, err := d.cache.Stats(cmd.Context(), scope)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(stats)
			}
			fmt.Printf("%s\t%d cached keys\n", stats.Scope, stats.CachedKeys)
			return nil
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "Instance scope to report on (defaults to the cross-instance scope)")
	cmd.Flags().BoolVar(&all, "all", false, "Report every scope instead of just --instance")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}
