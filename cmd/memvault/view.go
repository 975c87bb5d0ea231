package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanity-labs/memvault/internal/view"
)

var viewBudget int

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Render the complete-history view (messages merged with summaries)",
	RunE: func(cmd *cobra.Command, args []string) error {
		messages, err := current.log.GetMessages(rootCtx, "", "")
		if err != nil {
			return fmt.Errorf("get messages: %w", err)
		}
		summaries, err := current.log.GetHighestOrderSummaries(rootCtx)
		if err != nil {
			return fmt.Errorf("get highest order summaries: %w", err)
		}

		result := view.Build(messages, summaries, viewBudget)

		if jsonOutput {
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}

		for _, t := range result.Turns {
			fmt.Printf("--- %s ---\n%s\n", t.Role, t.Text)
		}
		fmt.Printf("\n%d tokens, compaction_hint=%v\n", result.TotalTokens, result.CompactionHint)
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	viewCmd.Flags().IntVar(&viewBudget, "budget", 0, "Informational token budget (never drops content)")
}
