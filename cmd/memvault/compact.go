package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sanity-labs/memvault/internal/compaction"
	"github.com/sanity-labs/memvault/internal/distill"
)

var (
	compactForce bool
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Inspect or trigger temporal-log compaction",
}

var compactStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report effective view tokens and whether compaction should trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := compactionConfig()

		tokens, err := compaction.EffectiveViewTokens(rootCtx, current.log)
		if err != nil {
			return fmt.Errorf("effective view tokens: %w", err)
		}
		trigger, err := compaction.ShouldTriggerCompaction(rootCtx, current.log, current.reg, cfg)
		if err != nil {
			return fmt.Errorf("should trigger compaction: %w", err)
		}
		state, err := compaction.GetCompactionState(rootCtx, current.reg)
		if err != nil {
			return fmt.Errorf("get compaction state: %w", err)
		}

		out := struct {
			EffectiveViewTokens int    `json:"effective_view_tokens"`
			ShouldTrigger       bool   `json:"should_trigger"`
			Running             bool   `json:"running"`
			WorkerID            string `json:"worker_id,omitempty"`
		}{tokens, trigger, state.Running, state.WorkerID}

		if jsonOutput {
			b, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		fmt.Printf("effective_view_tokens=%d should_trigger=%v running=%v\n", out.EffectiveViewTokens, out.ShouldTrigger, out.Running)
		return nil
	},
}

var compactRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one distillation worker pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := compactionConfig()
		cfg.Force = cfg.Force || compactForce

		primary, err := distill.NewAnthropicSummarizer(current.cfg.AnthropicAPIKey, current.cfg.AnthropicModel, current.cfg.AuditEnabled, current.cfg.AuditDir)
		if err != nil {
			return fmt.Errorf("build summarizer: %w", err)
		}
		fallback, err := distill.NewAnthropicSummarizer(current.cfg.AnthropicAPIKey, current.cfg.FallbackModel, current.cfg.AuditEnabled, current.cfg.AuditDir)
		if err != nil {
			return fmt.Errorf("build fallback summarizer: %w", err)
		}

		result, err := distill.RunCompactionWorker(rootCtx, current.log, current.reg, current.ids, cfg, current.cfg.RecencyBufferMessages, primary, fallback)
		if err != nil {
			return fmt.Errorf("run compaction worker: %w", err)
		}

		b, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}

func compactionConfig() compaction.Config {
	return compaction.Config{
		Threshold: current.cfg.CompactionThreshold,
		Target:    current.cfg.CompactionTarget,
		Force:     current.cfg.CompactionForce,
		Targets:   compaction.DefaultCompressionTargets(),
	}
}

func init() {
	compactRunCmd.Flags().BoolVar(&compactForce, "force", false, "Run even if effective view tokens are already under target")
	compactCmd.AddCommand(compactStatusCmd, compactRunCmd)
}
