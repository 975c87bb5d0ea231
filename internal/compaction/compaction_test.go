package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/registry"
	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/temporal"
	"github.com/sanity-labs/memvault/internal/types"
)

func newTestEnv(t *testing.T) (*temporal.Log, *registry.Registry) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	gen := idgen.New()
	return temporal.New(s), registry.New(s, gen)
}

func appendMessage(t *testing.T, log *temporal.Log, gen *idgen.Generator, tokens int) types.Message {
	t.Helper()
	id, err := gen.Generate(types.PrefixMessage, idgen.Ascending)
	require.NoError(t, err)
	m := types.Message{ID: id, Kind: types.MessageUser, Content: "hi", TokenEstimate: tokens, CreatedAt: time.Now()}
	require.NoError(t, log.AppendMessage(context.Background(), m))
	return m
}

func TestEffectiveViewTokensIncludesFixedOverhead(t *testing.T) {
	log, _ := newTestEnv(t)
	gen := idgen.New()
	appendMessage(t, log, gen, 100)

	tokens, err := EffectiveViewTokens(context.Background(), log)
	require.NoError(t, err)
	require.Equal(t, 100+FixedOverheadTokens, tokens)
}

func TestShouldTriggerCompactionBoundary(t *testing.T) {
	log, reg := newTestEnv(t)
	gen := idgen.New()
	appendMessage(t, log, gen, 10)

	cfg := Config{Threshold: 10 + FixedOverheadTokens}
	trigger, err := ShouldTriggerCompaction(context.Background(), log, reg, cfg)
	require.NoError(t, err)
	require.False(t, trigger, "effective tokens equal to threshold must not trigger")

	cfg.Threshold = 10 + FixedOverheadTokens - 1
	trigger, err = ShouldTriggerCompaction(context.Background(), log, reg, cfg)
	require.NoError(t, err)
	require.True(t, trigger, "effective tokens above threshold must trigger")
}

func TestShouldTriggerCompactionFalseWhileWorkerRunning(t *testing.T) {
	ctx := context.Background()
	log, reg := newTestEnv(t)
	gen := idgen.New()
	appendMessage(t, log, gen, 1_000_000)

	_, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)

	trigger, err := ShouldTriggerCompaction(ctx, log, reg, Config{Threshold: 1})
	require.NoError(t, err)
	require.False(t, trigger, "a running compaction worker suppresses re-triggering")
}

func TestGetCompactionStateReportsWorkerID(t *testing.T) {
	ctx := context.Background()
	log, reg := newTestEnv(t)
	_ = log

	id, err := reg.CreateWorker(ctx, types.WorkerKindTemporalCompact)
	require.NoError(t, err)

	state, err := GetCompactionState(ctx, reg)
	require.NoError(t, err)
	require.True(t, state.Running)
	require.Equal(t, id, state.WorkerID)
}

func TestCalculateCompactionTargetNeverNegative(t *testing.T) {
	log, _ := newTestEnv(t)
	gen := idgen.New()
	appendMessage(t, log, gen, 5)

	target, err := CalculateCompactionTarget(context.Background(), log, Config{Target: 5 + FixedOverheadTokens + 1000})
	require.NoError(t, err)
	require.Equal(t, 0, target)

	target, err = CalculateCompactionTarget(context.Background(), log, Config{Target: 0})
	require.NoError(t, err)
	require.Equal(t, 5+FixedOverheadTokens, target)
}

func TestGetMessagesToCompactAllWhenNoSummaries(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestEnv(t)
	gen := idgen.New()
	m1 := appendMessage(t, log, gen, 1)
	m2 := appendMessage(t, log, gen, 1)

	msgs, err := GetMessagesToCompact(ctx, log)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, m1.ID, msgs[0].ID)
	require.Equal(t, m2.ID, msgs[1].ID)
}

func TestGetMessagesToCompactOnlyAfterLastSummary(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestEnv(t)
	gen := idgen.New()
	m1 := appendMessage(t, log, gen, 1)
	m2 := appendMessage(t, log, gen, 1)
	m3 := appendMessage(t, log, gen, 1)

	sumID, err := gen.Generate(types.PrefixSummary, idgen.Ascending)
	require.NoError(t, err)
	require.NoError(t, log.CreateSummary(ctx, types.Summary{
		ID: sumID, OrderNum: 1, StartID: m1.ID, EndID: m2.ID, Narrative: "n",
	}))

	msgs, err := GetMessagesToCompact(ctx, log)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, m3.ID, msgs[0].ID)
}

func TestShouldCreateHigherOrderSummary(t *testing.T) {
	targets := DefaultCompressionTargets()
	require.False(t, ShouldCreateHigherOrderSummary(targets.SummariesPerHigherOrder.Min-1, targets))
	require.True(t, ShouldCreateHigherOrderSummary(targets.SummariesPerHigherOrder.Min, targets))
}
