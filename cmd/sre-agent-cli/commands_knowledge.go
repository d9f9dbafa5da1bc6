package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Knowledge Commands
// =============================================================================

func buildKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect knowledge-base chunks directly",
	}
	cmd.AddCommand(
		buildKnowledgeFragmentsCmd(),
		buildKnowledgeRelatedCmd(),
	)
	return cmd
}

func buildKnowledgeFragmentsCmd() *cobra.Command {
	var (
		documentHash string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "fragments",
		Short: "List every chunk belonging to a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentHash == "" {
				return fmt.Errorf("--document-hash is required")
			}
			d := depsFromContext(cmd)
			chunks, err := d.kb.GetDocumentChunks(cmd.Context(), documentHash)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(chunks)
			}
			for _, c := range chunks {
				fmt.Printf("[%d] %s\n%s\n\n", c.ChunkIndex, c.Title, c.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&documentHash, "document-hash", "", "Document hash to list chunks for (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}

func buildKnowledgeRelatedCmd() *cobra.Command {
	var (
		documentHash string
		chunkIndex   int
		window       int
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "related",
		Short: "Show the chunks surrounding a target chunk within a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentHash == "" {
				return fmt.Errorf("--document-hash is required")
			}
			d := depsFromContext(cmd)
			chunks, err := d.kb.GetRelatedChunks(cmd.Context(), documentHash, chunkIndex, window)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(chunks)
			}
			for _, c := range chunks {
				marker := " "
				if c.IsTargetChunk {
					marker = "*"
				}
				fmt.Printf("%s[%d] %s\n%s\n\n", marker, c.ChunkIndex, c.Title, c.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&documentHash, "document-hash", "", "Document hash to look up (required)")
	cmd.Flags().IntVar(&chunkIndex, "chunk-index", 0, "Target chunk index within the document")
	cmd.Flags().IntVar(&window, "window", 1, "Number of chunks to include on either side of the target")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable JSON")
	return cmd
}
