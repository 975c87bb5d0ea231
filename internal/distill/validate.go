package distill

import (
	"context"
	"fmt"
	"time"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/temporal"
	"github.com/sanity-labs/memvault/internal/types"
)

// computeValidIDs implements spec §4.7.1 step 3: messages are sorted
// ascending by id (lexicographic, per C1), the most recent recencyBuffer
// of them are withheld from the summarizer's vocabulary, and every id
// before that cutoff is valid, along with the start_id/end_id of any
// summary whose end_id falls before the cutoff.
func computeValidIDs(messages []types.Message, summaries []types.Summary, recencyBuffer int) map[string]bool {
	sorted := make([]types.Message, len(messages))
	copy(sorted, messages)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].ID > sorted[j].ID; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	cutoffIndex := len(sorted) - recencyBuffer
	if cutoffIndex < 0 {
		cutoffIndex = 0
	}

	valid := make(map[string]bool, len(sorted)+2*len(summaries))
	for i := 0; i < cutoffIndex; i++ {
		valid[sorted[i].ID] = true
	}

	var cutoffID string
	if cutoffIndex < len(sorted) {
		cutoffID = sorted[cutoffIndex].ID
	}

	for _, s := range summaries {
		if cutoffID == "" || s.EndID <= cutoffID {
			valid[s.StartID] = true
			valid[s.EndID] = true
		}
	}
	return valid
}

// adjustBoundaries implements the tool-call/tool-result pairing rule from
// spec §4.7.1 step 4: a distillation range may never open on a bare
// tool_result or close on a bare tool_call, since that would split a pair
// across the summary boundary.
func adjustBoundaries(allMessages []types.Message, startID, endID string) (string, string, error) {
	byID := make(map[string]types.Message, len(allMessages))
	for _, m := range allMessages {
		byID[m.ID] = m
	}

	start, ok := byID[startID]
	if !ok {
		return "", "", fmt.Errorf("start_id %q is not a message id", startID)
	}
	end, ok := byID[endID]
	if !ok {
		return "", "", fmt.Errorf("end_id %q is not a message id", endID)
	}

	if start.Kind == types.MessageToolResult {
		for i := len(allMessages) - 1; i >= 0; i-- {
			if allMessages[i].ID >= startID {
				continue
			}
			if allMessages[i].Kind == types.MessageToolCall {
				startID = allMessages[i].ID
				break
			}
		}
	}

	if end.Kind == types.MessageToolCall {
		for i := 0; i < len(allMessages); i++ {
			if allMessages[i].ID <= endID {
				continue
			}
			if allMessages[i].Kind == types.MessageToolResult {
				endID = allMessages[i].ID
				break
			}
		}
	}

	return startID, endID, nil
}

// nextOrderNum implements spec §4.7.1's order_num rule: 1 + the highest
// order_num among summaries wholly contained in [startID, endID], or 1 if
// none qualify.
func nextOrderNum(summaries []types.Summary, startID, endID string) int {
	max := 0
	for _, s := range summaries {
		if s.StartID >= startID && s.EndID <= endID && s.OrderNum > max {
			max = s.OrderNum
		}
	}
	return max + 1
}

// estimateTokens is a chars/4 rough token count, used only because the
// summarizer does not report a real tokenizer count for the summary text
// it produces.
func estimateTokens(narrative string, facts []string) int {
	total := len(narrative)
	for _, f := range facts {
		total += len(f)
	}
	return total/4 + 1
}

// applyCreateDistillation validates and executes one create_distillation
// operation (spec §4.7.1 step 4). Validation failures are returned as
// plain errors; the caller (runLoop) records them as Warnings rather than
// failing the worker run, per §4.7.2.
func applyCreateDistillation(ctx context.Context, log *temporal.Log, gen *idgen.Generator, allMessages []types.Message, summaries []types.Summary, validIDs map[string]bool, args CreateDistillationArgs) error {
	if !validIDs[args.StartID] {
		return fmt.Errorf("%w: start_id %q", types.ErrUnknownID, args.StartID)
	}
	if !validIDs[args.EndID] {
		return fmt.Errorf("%w: end_id %q", types.ErrUnknownID, args.EndID)
	}
	if args.StartID > args.EndID {
		return fmt.Errorf("%w: start_id %q is after end_id %q", types.ErrInvalidRange, args.StartID, args.EndID)
	}

	startID, endID, err := adjustBoundaries(allMessages, args.StartID, args.EndID)
	if err != nil {
		return err
	}

	order := nextOrderNum(summaries, startID, endID)

	id, err := gen.Generate(types.PrefixSummary, idgen.Ascending)
	if err != nil {
		return fmt.Errorf("distill: generate summary id: %w", err)
	}

	summary := types.Summary{
		ID:              id,
		OrderNum:        order,
		StartID:         startID,
		EndID:           endID,
		Narrative:       args.OperationalContext,
		KeyObservations: args.RetainedFacts,
		TokenEstimate:   estimateTokens(args.OperationalContext, args.RetainedFacts),
		CreatedAt:       time.Now().UTC(),
	}

	if err := log.CreateSummary(ctx, summary); err != nil {
		return fmt.Errorf("distill: create_summary: %w", err)
	}
	return nil
}
