// Package distill implements C7: the agentic distillation worker that
// drives an external summarizer to reduce the effective view by writing
// new summary records back into C3. The outer loop and worker-lifecycle
// wiring is grounded on the teacher's internal/compact package (the
// callWithRetry loop shape, worker-record bookkeeping pattern); the
// summarizer itself is a new interface generalizing haikuClient.SummarizeTier1
// into a tool-using, multi-turn protocol.
package distill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sanity-labs/memvault/internal/compaction"
	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/registry"
	"github.com/sanity-labs/memvault/internal/temporal"
	"github.com/sanity-labs/memvault/internal/types"
	"github.com/sanity-labs/memvault/internal/view"
)

// MaxCompactionTurns bounds one worker run's outer loop (spec §4.7.1).
const MaxCompactionTurns = 10

// CreateDistillationArgs is the payload of a create_distillation
// operation (spec §4.7.1).
type CreateDistillationArgs struct {
	StartID            string
	EndID              string
	OperationalContext string
	RetainedFacts      []string
}

// FinishDistillationArgs is the payload of a finish_distillation
// operation.
type FinishDistillationArgs struct {
	Summary string
}

// Operation is exactly one of CreateDistillation or FinishDistillation
// set, mirroring the summarizer's two available tool calls.
type Operation struct {
	CreateDistillation *CreateDistillationArgs
	FinishDistillation *FinishDistillationArgs
}

// TurnResult is what a Summarizer returns for one outer-loop iteration.
type TurnResult struct {
	Text         string
	Operations   []Operation
	InputTokens  int
	OutputTokens int
}

// Summarizer is the C7 collaborator (spec §6): given the current turn
// sequence, a task-explaining prompt, and the vocabulary of referenceable
// ids, it returns zero or more operations for this iteration.
type Summarizer interface {
	GenerateDistillationTurn(ctx context.Context, systemPrompt string, turns []view.Turn, validIDs map[string]bool) (TurnResult, error)
}

// Warning records a validation failure on one operation. Per spec §4.7.2,
// these are not exceptions: the worker logs them and continues the loop
// rather than failing the run.
type Warning struct {
	Operation string
	Message   string
}

// CompactionResult is the background report filed for one worker run.
type CompactionResult struct {
	DistillationsCreated int
	TokensBefore         int
	TokensAfter          int
	TurnsUsed            int
	FinalSummary         string
	Warnings             []Warning
	UsedFallback         bool
}

// RunCompactionWorker drives one full worker run (spec §4.7.3): it
// creates a running worker record, executes the outer loop, and marks
// the worker completed or failed depending on the outcome. Once the outer
// loop has run it files a background report on failure and on success;
// no report is filed when the initial token measurement fails or when
// marking the worker completed fails.
func RunCompactionWorker(ctx context.Context, log *temporal.Log, reg *registry.Registry, gen *idgen.Generator, cfg compaction.Config, recencyBuffer int, primary, fallback Summarizer) (CompactionResult, error) {
	workerID, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("distill: create_worker: %w", err)
	}

	tokensBefore, err := compaction.EffectiveViewTokens(ctx, log)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = reg.KillWorker(ctx, workerID, err)
		} else {
			_ = reg.FailWorker(ctx, workerID, err)
		}
		return CompactionResult{}, fmt.Errorf("distill: measure effective_view_tokens: %w", err)
	}

	result, runErr := runLoop(ctx, log, gen, cfg, recencyBuffer, primary, fallback)
	result.TokensBefore = tokensBefore

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			_ = reg.KillWorker(ctx, workerID, runErr)
		} else {
			_ = reg.FailWorker(ctx, workerID, runErr)
		}
		_, _ = reg.FileReport(ctx, "temporal-compact", reportJSON(result, runErr))
		return result, runErr
	}

	tokensAfter, err := compaction.EffectiveViewTokens(ctx, log)
	if err == nil {
		result.TokensAfter = tokensAfter
	}

	if err := reg.CompleteWorker(ctx, workerID); err != nil {
		return result, fmt.Errorf("distill: complete_worker: %w", err)
	}
	if _, err := reg.FileReport(ctx, "temporal-compact", reportJSON(result, nil)); err != nil {
		return result, fmt.Errorf("distill: file_report: %w", err)
	}
	return result, nil
}

func reportJSON(result CompactionResult, runErr error) string {
	payload := struct {
		CompactionResult
		Error string `json:"error,omitempty"`
	}{CompactionResult: result}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

// runLoop is the agentic protocol's outer loop (spec §4.7.1). It does not
// touch the worker record; RunCompactionWorker wraps it.
func runLoop(ctx context.Context, log *temporal.Log, gen *idgen.Generator, cfg compaction.Config, recencyBuffer int, primary, fallback Summarizer) (CompactionResult, error) {
	var result CompactionResult
	summarizer := primary
	usedFallbackAlready := false

	for turn := 0; turn < MaxCompactionTurns; turn++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		tokens, err := compaction.EffectiveViewTokens(ctx, log)
		if err != nil {
			return result, fmt.Errorf("distill: effective_view_tokens: %w", err)
		}
		if tokens <= cfg.Target && !cfg.Force {
			break
		}

		messages, err := log.GetMessages(ctx, "", "")
		if err != nil {
			return result, fmt.Errorf("distill: get_messages: %w", err)
		}
		summaries, err := log.GetHighestOrderSummaries(ctx)
		if err != nil {
			return result, fmt.Errorf("distill: get_highest_order_summaries: %w", err)
		}

		turns := view.Build(messages, summaries, 0).Turns
		validIDs := computeValidIDs(messages, summaries, recencyBuffer)

		turnResult, err := summarizer.GenerateDistillationTurn(ctx, distillationPrompt, turns, validIDs)
		if err != nil {
			if !usedFallbackAlready && fallback != nil && isPromptTooLong(err) {
				usedFallbackAlready = true
				result.UsedFallback = true
				summarizer = fallback
				continue
			}
			return result, fmt.Errorf("distill: summarizer: %w", err)
		}

		result.TurnsUsed++

		if len(turnResult.Operations) == 0 {
			break
		}

		finished := false
		allMessages := sortedMessages(messages)

		for _, op := range turnResult.Operations {
			switch {
			case op.CreateDistillation != nil:
				if err := applyCreateDistillation(ctx, log, gen, allMessages, summaries, validIDs, *op.CreateDistillation); err != nil {
					result.Warnings = append(result.Warnings, Warning{Operation: "create_distillation", Message: err.Error()})
					continue
				}
				result.DistillationsCreated++

			case op.FinishDistillation != nil:
				result.FinalSummary = op.FinishDistillation.Summary
				finished = true
			}
		}

		if finished {
			break
		}
	}

	return result, nil
}

func isPromptTooLong(err error) bool {
	return errors.Is(err, types.ErrPromptTooLong)
}

func sortedMessages(messages []types.Message) []types.Message {
	out := make([]types.Message, len(messages))
	copy(out, messages)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// distillationPrompt explains the distillation task to the summarizer
// (spec §4.7.1 step 4): preserve actionable facts, excise noise, compress
// older content more aggressively, stay time-aware, and treat eliminating
// a pure-noise range as a valid distillation.
const distillationPrompt = `You are distilling a long-running conversation log down to its actionable facts. Preserve decisions, commitments, and open threads; excise small talk and exploratory dead ends. Compress older content more aggressively than recent content. You may eliminate a range entirely if it contains no lasting information. Use create_distillation to replace a contiguous id range with a narrative and any facts worth retaining verbatim, or finish_distillation once the view is small enough.`
