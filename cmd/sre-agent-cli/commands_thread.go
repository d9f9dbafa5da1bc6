package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redis-sre/agentcore/qa"
)

// =============================================================================
// Thread Commands
// =============================================================================

func buildThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Inspect and manage conversation threads",
	}
	cmd.AddCommand(
		buildThreadListCmd(),
		buildThreadSourcesCmd(),
		buildThreadDeleteCmd(),
	)
	return cmd
}

func buildThreadListCmd() *cobra.Command {
	var (
		userID string
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads ordered by most recently updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := depsFromContext(cmd)
			summaries, err := d.threads.List(cmd.Context(), userID, limit, offset)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(summaries)
			}
			for _, s := range summaries {
				fmt.Printf("%s\t%s\t%s\t%s\n", s.ThreadID, s.UserID, s.Subject, s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Restrict to threads owned by this user")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of threads to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset into the recency-ordered index")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}

// buildThreadSourcesCmd lists the knowledge-base citations that backed the
// Q&A records attached to a thread, deduplicated by document hash. There is
// no dedicated "thread sources" store method: this composes qa.Store's
// per-thread Q&A listing with each record's Citations field (spec.md §4.6
// describes Citations as part of the Q&A Record, not a separate index).
func buildThreadSourcesCmd() *cobra.Command {
	var (
		threadID string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List knowledge-base sources cited while answering in a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				return fmt.Errorf("--thread-id is required")
			}
			d := depsFromContext(cmd)
			qaStore := qa.New(d.rdb, nil)
			ids, err := qaStore.ListByThread(cmd.Context(), threadID, limit)
			if err != nil {
				return err
			}
			seen := make(map[string]bool)
			var sources []sourceEntry
			for _, id := range ids {
				rec, err := qaStore.Get(cmd.Context(), id)
				if err != nil {
					continue
				}
				for _, c := range rec.Citations {
					if seen[c.DocumentHash] {
						continue
					}
					seen[c.DocumentHash] = true
					sources = append(sources, sourceEntry{
						DocumentHash: c.DocumentHash,
						Title:        c.Title,
						Source:       c.Source,
					})
				}
			}
			if asJSON {
				return printJSON(sources)
			}
			for _, s := range sources {
				fmt.Printf("%s\t%s\t%s\n", s.DocumentHash, s.Title, s.Source)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Thread to list cited sources for (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max number of Q&A records to scan")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}

type sourceEntry struct {
	DocumentHash string `json:"document_hash"`
	Title        string `json:"title"`
	Source       string `json:"source"`
}

func buildThreadDeleteCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a thread and its indexed state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if threadID == "" {
				return fmt.Errorf("--thread-id is required")
			}
			d := depsFromContext(cmd)
			if err := d.threads.Delete(cmd.Context(), threadID); err != nil {
				return err
			}
			fmt.Printf("deleted thread %s\n", threadID)
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread-id", "", "Thread to delete (required)")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
