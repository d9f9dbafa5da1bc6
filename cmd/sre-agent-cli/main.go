// Command sre-agent-cli is the operator tool for inspecting and managing
// thread, task, cache, and knowledge state directly against Redis, without
// going through a running worker or a chat surface. Grounded on the
// haasonsaas-nexus CLI's cobra command-group layout (one buildXCmd
// constructor per group, each subcommand's logic in its own RunE closure)
// and spec.md §6's CLI surface.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/redis-sre/agentcore/config"
	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/task"
	"github.com/redis-sre/agentcore/thread"
	"github.com/redis-sre/agentcore/toolmanager"
)

// deps bundles the stores every subcommand needs. Built once in root's
// PersistentPreRunE and threaded through via the command context.
type deps struct {
	rdb     *redis.Client
	threads *thread.Store
	tasks   *task.Store
	cache   *toolmanager.Cache
	kb      *knowledge.Store
}

type depsKey struct{}

func depsFromContext(cmd *cobra.Command) *deps {
	return cmd.Context().Value(depsKey{}).(*deps)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sre-agent-cli: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sre-agent-cli",
		Short:         "Operate on Redis SRE Agent thread, task, cache, and knowledge state",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb := redis.NewClient(opts)
			if err := rdb.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("ping redis: %w", err)
			}
			d := &deps{
				rdb:     rdb,
				threads: thread.New(rdb, nil),
				tasks:   task.New(rdb),
				cache:   toolmanager.NewCache(rdb),
				kb:      knowledge.New(rdb, "idx:sre_knowledge"),
			}
			cmd.SetContext(context.WithValue(cmd.Context(), depsKey{}, d))
			return nil
		},
	}
	root.AddCommand(
		buildThreadCmd(),
		buildTaskCmd(),
		buildCacheCmd(),
		buildKnowledgeCmd(),
	)
	return root
}
