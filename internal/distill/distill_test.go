package distill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanity-labs/memvault/internal/compaction"
	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/registry"
	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/temporal"
	"github.com/sanity-labs/memvault/internal/types"
	"github.com/sanity-labs/memvault/internal/view"
)

func newTestEnv(t *testing.T) (*temporal.Log, *registry.Registry, *idgen.Generator) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	gen := idgen.New()
	return temporal.New(s), registry.New(s, gen), gen
}

func appendMessages(t *testing.T, log *temporal.Log, gen *idgen.Generator, n int, kind types.MessageKind, tokens int) []types.Message {
	t.Helper()
	var out []types.Message
	for i := 0; i < n; i++ {
		id, err := gen.Generate(types.PrefixMessage, idgen.Ascending)
		require.NoError(t, err)
		m := types.Message{ID: id, Kind: kind, Content: "msg", TokenEstimate: tokens, CreatedAt: time.Now()}
		require.NoError(t, log.AppendMessage(context.Background(), m))
		out = append(out, m)
	}
	return out
}

// fakeSummarizer issues a scripted sequence of TurnResults, one per call.
type fakeSummarizer struct {
	turns []TurnResult
	calls int
	err   error
}

func (f *fakeSummarizer) GenerateDistillationTurn(ctx context.Context, systemPrompt string, turns []view.Turn, validIDs map[string]bool) (TurnResult, error) {
	if f.err != nil {
		return TurnResult{}, f.err
	}
	if f.calls >= len(f.turns) {
		return TurnResult{}, nil
	}
	t := f.turns[f.calls]
	f.calls++
	return t, nil
}

func TestComputeValidIDsExcludesRecencyWindow(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 10, types.MessageUser, 50)

	valid := computeValidIDs(messages, nil, 3)

	for i, m := range messages {
		if i < 7 {
			require.True(t, valid[m.ID], "message %d should be valid", i)
		} else {
			require.False(t, valid[m.ID], "message %d is in the recency window", i)
		}
	}
}

func TestComputeValidIDsIncludesCoveredSummaryBounds(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 10, types.MessageUser, 50)

	sumID, err := gen.Generate(types.PrefixSummary, idgen.Ascending)
	require.NoError(t, err)
	summary := types.Summary{ID: sumID, OrderNum: 1, StartID: messages[0].ID, EndID: messages[2].ID}

	valid := computeValidIDs(messages, []types.Summary{summary}, 3)
	require.True(t, valid[summary.StartID])
	require.True(t, valid[summary.EndID])
}

func TestAdjustBoundariesExtendsAroundToolPairs(t *testing.T) {
	log, _, gen := newTestEnv(t)
	var all []types.Message
	all = append(all, appendMessages(t, log, gen, 1, types.MessageUser, 10)...)
	all = append(all, appendMessages(t, log, gen, 1, types.MessageToolCall, 10)...)
	all = append(all, appendMessages(t, log, gen, 1, types.MessageToolResult, 10)...)
	all = append(all, appendMessages(t, log, gen, 1, types.MessageAssistant, 10)...)

	// start_id is the tool_result: must extend backward to the tool_call.
	startID, endID, err := adjustBoundaries(all, all[2].ID, all[3].ID)
	require.NoError(t, err)
	require.Equal(t, all[1].ID, startID)
	require.Equal(t, all[3].ID, endID)

	// end_id is the tool_call: must extend forward to the tool_result.
	startID, endID, err = adjustBoundaries(all, all[0].ID, all[1].ID)
	require.NoError(t, err)
	require.Equal(t, all[0].ID, startID)
	require.Equal(t, all[2].ID, endID)
}

func TestNextOrderNumSkipsPartiallyOverlapping(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 10, types.MessageUser, 50)

	inside := types.Summary{StartID: messages[1].ID, EndID: messages[3].ID, OrderNum: 1}
	overlapping := types.Summary{StartID: messages[2].ID, EndID: messages[8].ID, OrderNum: 5}

	order := nextOrderNum([]types.Summary{inside, overlapping}, messages[0].ID, messages[5].ID)
	require.Equal(t, 2, order, "only the fully-contained summary should count")
}

func TestNextOrderNumDefaultsToOne(t *testing.T) {
	require.Equal(t, 1, nextOrderNum(nil, "msg_a", "msg_b"))
}

func TestApplyCreateDistillationRejectsIDOutsideValidSet(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 5, types.MessageUser, 50)
	valid := map[string]bool{messages[0].ID: true, messages[1].ID: true}

	err := applyCreateDistillation(context.Background(), log, gen, messages, nil, valid,
		CreateDistillationArgs{StartID: messages[0].ID, EndID: messages[3].ID})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrUnknownID)
}

func TestApplyCreateDistillationRejectsReversedRange(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 5, types.MessageUser, 50)
	valid := computeValidIDs(messages, nil, 0)

	err := applyCreateDistillation(context.Background(), log, gen, messages, nil, valid,
		CreateDistillationArgs{StartID: messages[4].ID, EndID: messages[0].ID})
	require.Error(t, err)
	require.ErrorIs(t, err, types.ErrInvalidRange)
}

func TestApplyCreateDistillationWritesSummary(t *testing.T) {
	log, _, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 5, types.MessageUser, 50)
	valid := computeValidIDs(messages, nil, 0)

	err := applyCreateDistillation(context.Background(), log, gen, messages, nil, valid,
		CreateDistillationArgs{StartID: messages[0].ID, EndID: messages[2].ID, OperationalContext: "did some things", RetainedFacts: []string{"fact one"}})
	require.NoError(t, err)

	summaries, err := log.GetSummaries(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].OrderNum)
	require.Equal(t, messages[0].ID, summaries[0].StartID)
	require.Equal(t, messages[2].ID, summaries[0].EndID)
}

func TestRunCompactionWorkerStopsAtTarget(t *testing.T) {
	log, reg, gen := newTestEnv(t)
	appendMessages(t, log, gen, 3, types.MessageUser, 10)

	cfg := compaction.Config{Target: 1_000_000}
	fake := &fakeSummarizer{}

	result, err := RunCompactionWorker(context.Background(), log, reg, gen, cfg, 20, fake, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.TurnsUsed, "effective view tokens already under target")
	require.Equal(t, 0, fake.calls)
}

func TestRunCompactionWorkerAppliesOperationsAndFinishes(t *testing.T) {
	log, reg, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 5, types.MessageUser, 10000)

	fake := &fakeSummarizer{turns: []TurnResult{
		{Operations: []Operation{{CreateDistillation: &CreateDistillationArgs{
			StartID: messages[0].ID, EndID: messages[2].ID, OperationalContext: "compressed",
		}}}},
		{Operations: []Operation{{FinishDistillation: &FinishDistillationArgs{Summary: "done"}}}},
	}}

	cfg := compaction.Config{Target: 0, Force: true}
	result, err := RunCompactionWorker(context.Background(), log, reg, gen, cfg, 0, fake, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.DistillationsCreated)
	require.Equal(t, "done", result.FinalSummary)
	require.Equal(t, 2, result.TurnsUsed)

	workers, err := reg.GetAllWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, types.WorkerCompleted, workers[0].Status)
}

func TestRunCompactionWorkerStopsWhenSummarizerIssuesNoOperations(t *testing.T) {
	log, reg, gen := newTestEnv(t)
	appendMessages(t, log, gen, 5, types.MessageUser, 10000)

	fake := &fakeSummarizer{turns: []TurnResult{{Operations: nil}}}
	cfg := compaction.Config{Target: 0, Force: true}

	result, err := RunCompactionWorker(context.Background(), log, reg, gen, cfg, 0, fake, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.TurnsUsed)
	require.Equal(t, 0, result.DistillationsCreated)
}

func TestRunCompactionWorkerKillsOnCancellation(t *testing.T) {
	log, reg, gen := newTestEnv(t)
	appendMessages(t, log, gen, 5, types.MessageUser, 10000)

	fake := &fakeSummarizer{err: context.Canceled}
	cfg := compaction.Config{Target: 0, Force: true}

	_, err := RunCompactionWorker(context.Background(), log, reg, gen, cfg, 0, fake, nil)
	require.ErrorIs(t, err, context.Canceled)

	workers, err := reg.GetAllWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, types.WorkerKilled, workers[0].Status)
	require.NotNil(t, workers[0].Error)
}

func TestRunCompactionWorkerRecordsWarningOnInvalidRange(t *testing.T) {
	log, reg, gen := newTestEnv(t)
	messages := appendMessages(t, log, gen, 5, types.MessageUser, 10000)

	fake := &fakeSummarizer{turns: []TurnResult{
		{Operations: []Operation{{CreateDistillation: &CreateDistillationArgs{
			StartID: messages[4].ID, EndID: messages[0].ID, // reversed range, invalid
		}}}},
		{Operations: []Operation{{FinishDistillation: &FinishDistillationArgs{Summary: "done"}}}},
	}}

	cfg := compaction.Config{Target: 0, Force: true}
	result, err := RunCompactionWorker(context.Background(), log, reg, gen, cfg, 0, fake, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.DistillationsCreated)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, "create_distillation", result.Warnings[0].Operation)
}
