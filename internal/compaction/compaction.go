// Package compaction implements C6: deciding when and what to compact,
// and enforcing the invariant budget around compaction. It is a thin
// layer over C3 (temporal), C4/C5 (coverage/view, via temporal's helpers),
// and C9 (registry) — no I/O of its own beyond what those expose.
package compaction

import (
	"context"
	"fmt"

	"github.com/sanity-labs/memvault/internal/registry"
	"github.com/sanity-labs/memvault/internal/temporal"
	"github.com/sanity-labs/memvault/internal/types"
	"github.com/sanity-labs/memvault/internal/view"
)

// FixedOverheadTokens is the conservative allowance for system prompt,
// tool schemas, and formatting (spec §4.6). It is added to the view's
// TotalTokens to produce "effective view tokens" everywhere in this
// package, but — per the §9 Open Question — is never added inside
// view.Result.TotalTokens itself.
const FixedOverheadTokens = 40000

// CompressionTargets are the tunable (soft) guidance thresholds from
// spec §4.6.
type CompressionTargets struct {
	MessagesPerOrder1GroupMin int
	MessagesPerOrder1GroupMax int
	Order1OutputTokensMin     int
	Order1OutputTokensMax     int
	SummariesPerHigherOrder   struct{ Min, Max int }
	Order2OutputTokensMin     int
	Order2OutputTokensMax     int
	Order3PlusOutputTokensMin int
	Order3PlusOutputTokensMax int
}

// DefaultCompressionTargets returns the defaults named in spec §4.6.
func DefaultCompressionTargets() CompressionTargets {
	ct := CompressionTargets{
		MessagesPerOrder1GroupMin: 15,
		MessagesPerOrder1GroupMax: 25,
		Order1OutputTokensMin:     500,
		Order1OutputTokensMax:     800,
		Order2OutputTokensMin:     300,
		Order2OutputTokensMax:     500,
		Order3PlusOutputTokensMin: 150,
		Order3PlusOutputTokensMax: 250,
	}
	ct.SummariesPerHigherOrder.Min = 4
	ct.SummariesPerHigherOrder.Max = 5
	return ct
}

// Config bundles the tunables callers supply to the control functions.
type Config struct {
	// Threshold is the effective-view-token count above which
	// ShouldTriggerCompaction returns true.
	Threshold int
	// Target is the effective-view-token count CalculateCompactionTarget
	// aims to bring the view down to.
	Target int
	// Force, when true, bypasses the Target check in the C7 outer loop
	// (see internal/distill).
	Force bool
	Targets CompressionTargets
}

// EffectiveViewTokens returns view tokens plus FixedOverheadTokens for the
// full uncompacted history in temporal (spec §4.6, §GLOSSARY).
func EffectiveViewTokens(ctx context.Context, t *temporal.Log) (int, error) {
	messages, err := t.GetMessages(ctx, "", "")
	if err != nil {
		return 0, fmt.Errorf("compaction: get_messages: %w", err)
	}
	summaries, err := t.GetSummaries(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("compaction: get_summaries: %w", err)
	}
	result := view.Build(messages, summaries, 0)
	return result.TotalTokens + FixedOverheadTokens, nil
}

// CompactionState reports whether a temporal-compact worker is running.
type CompactionState struct {
	Running  bool
	WorkerID string
}

// GetCompactionState inspects reg for a running temporal-compact worker
// (spec §4.6).
func GetCompactionState(ctx context.Context, reg *registry.Registry) (CompactionState, error) {
	running, err := reg.GetRunningWorkers(ctx)
	if err != nil {
		return CompactionState{}, fmt.Errorf("compaction: get_running_workers: %w", err)
	}
	for _, w := range running {
		if w.Kind == types.WorkerKindTemporalCompact {
			return CompactionState{Running: true, WorkerID: w.ID}, nil
		}
	}
	return CompactionState{}, nil
}

// ShouldTriggerCompaction is true iff no temporal-compact worker is
// currently running and effective view tokens strictly exceed
// cfg.Threshold (spec §4.6).
func ShouldTriggerCompaction(ctx context.Context, t *temporal.Log, reg *registry.Registry, cfg Config) (bool, error) {
	state, err := GetCompactionState(ctx, reg)
	if err != nil {
		return false, err
	}
	if state.Running {
		return false, nil
	}
	tokens, err := EffectiveViewTokens(ctx, t)
	if err != nil {
		return false, err
	}
	return tokens > cfg.Threshold, nil
}

// CalculateCompactionTarget returns max(0, effective_view_tokens - cfg.Target).
func CalculateCompactionTarget(ctx context.Context, t *temporal.Log, cfg Config) (int, error) {
	tokens, err := EffectiveViewTokens(ctx, t)
	if err != nil {
		return 0, err
	}
	delta := tokens - cfg.Target
	if delta < 0 {
		delta = 0
	}
	return delta, nil
}

// GetMessagesToCompact returns all messages strictly after the last
// summary's end_id, or all messages when there are none (spec §4.6).
func GetMessagesToCompact(ctx context.Context, t *temporal.Log) ([]types.Message, error) {
	lastEnd, ok, err := t.GetLastSummaryEndID(ctx)
	if err != nil {
		return nil, fmt.Errorf("compaction: get_last_summary_end_id: %w", err)
	}
	if !ok {
		return t.GetMessages(ctx, "", "")
	}
	all, err := t.GetMessages(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("compaction: get_messages: %w", err)
	}
	out := make([]types.Message, 0, len(all))
	for _, m := range all {
		if m.ID > lastEnd {
			out = append(out, m)
		}
	}
	return out, nil
}

// ShouldCreateHigherOrderSummary is true when the count of summaries at
// some order reaches the configured minimum group size (spec §4.6).
func ShouldCreateHigherOrderSummary(summariesAtOrder int, targets CompressionTargets) bool {
	return summariesAtOrder >= targets.SummariesPerHigherOrder.Min
}
