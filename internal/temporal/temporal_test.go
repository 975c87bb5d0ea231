package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/types"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func msg(id string, kind types.MessageKind, content string, tokens int) types.Message {
	return types.Message{ID: id, Kind: kind, Content: content, TokenEstimate: tokens, CreatedAt: time.Now()}
}

// TestTokenAccounting is scenario S1 from spec §8.
func TestTokenAccounting(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	require := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require(l.AppendMessage(ctx, msg("msg_000000000001AAAAAAAAAAAAAA", types.MessageUser, "one", 10)))
	require(l.AppendMessage(ctx, msg("msg_000000000002AAAAAAAAAAAAAA", types.MessageAssistant, "two", 15)))
	require(l.AppendMessage(ctx, msg("msg_000000000003AAAAAAAAAAAAAA", types.MessageUser, "three", 20)))

	total, err := l.EstimateUncompactedTokens(ctx)
	require(err)
	if total != 45 {
		t.Fatalf("expected 45 uncompacted tokens, got %d", total)
	}

	require(l.CreateSummary(ctx, types.Summary{
		ID:       "sum_000000000004AAAAAAAAAAAAAA",
		OrderNum: 1,
		StartID:  "msg_000000000001AAAAAAAAAAAAAA",
		EndID:    "msg_000000000002AAAAAAAAAAAAAA",
		Narrative: "one and two",
		TokenEstimate: 5,
		CreatedAt: time.Now(),
	}))

	total, err = l.EstimateUncompactedTokens(ctx)
	require(err)
	if total != 20 {
		t.Fatalf("expected 20 uncompacted tokens after summarizing, got %d", total)
	}
}

func TestAppendMessageDuplicateID(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	m := msg("msg_dup00000001AAAAAAAAAAAAAA", types.MessageUser, "hi", 1)
	if err := l.AppendMessage(ctx, m); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := l.AppendMessage(ctx, m)
	if !errors.Is(err, types.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestGetMessageWithContext(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	ids := []string{
		"msg_000000000001AAAAAAAAAAAAAA",
		"msg_000000000002AAAAAAAAAAAAAA",
		"msg_000000000003AAAAAAAAAAAAAA",
		"msg_000000000004AAAAAAAAAAAAAA",
		"msg_000000000005AAAAAAAAAAAAAA",
	}
	for _, id := range ids {
		if err := l.AppendMessage(ctx, msg(id, types.MessageUser, id, 1)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	window, err := l.GetMessageWithContext(ctx, ids[2], 1, 1)
	if err != nil {
		t.Fatalf("get_message_with_context: %v", err)
	}
	if !window.Found {
		t.Fatalf("expected target found")
	}
	if len(window.Messages) != 3 {
		t.Fatalf("expected 3 messages (before+target+after), got %d", len(window.Messages))
	}
	if window.Messages[0].ID != ids[1] || window.Messages[1].ID != ids[2] || window.Messages[2].ID != ids[3] {
		t.Fatalf("unexpected context window: %+v", window.Messages)
	}
}

func TestGetMessageWithContextMissing(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	window, err := l.GetMessageWithContext(ctx, "msg_doesnotexist0AAAAAAAAAAAA", 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Found {
		t.Fatalf("expected Found=false for missing id")
	}
}

func TestGetHighestOrderSummaries(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	low := types.Summary{ID: "sum_000000000001AAAAAAAAAAAAAA", OrderNum: 1, StartID: "msg_a", EndID: "msg_b", Narrative: "low", CreatedAt: time.Now()}
	high := types.Summary{ID: "sum_000000000002AAAAAAAAAAAAAA", OrderNum: 2, StartID: "msg_a", EndID: "msg_c", Narrative: "high", CreatedAt: time.Now()}
	if err := l.CreateSummary(ctx, low); err != nil {
		t.Fatalf("create low: %v", err)
	}
	if err := l.CreateSummary(ctx, high); err != nil {
		t.Fatalf("create high: %v", err)
	}

	eff, err := l.GetHighestOrderSummaries(ctx)
	if err != nil {
		t.Fatalf("get_highest_order_summaries: %v", err)
	}
	if len(eff) != 1 || eff[0].ID != high.ID {
		t.Fatalf("expected only the high-order summary, got %+v", eff)
	}
}

func TestSearchKeywordAndKindFilter(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	if err := l.AppendMessage(ctx, msg("msg_000000000001AAAAAAAAAAAAAA", types.MessageUser, "deploy the service", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.AppendMessage(ctx, msg("msg_000000000002AAAAAAAAAAAAAA", types.MessageAssistant, "deploy complete", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	hits, err := l.Search(ctx, SearchParams{Query: "deploy", Kinds: []types.MessageKind{types.MessageUser}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Message == nil || hits[0].Message.Kind != types.MessageUser {
		t.Fatalf("expected exactly one user-kind hit, got %+v", hits)
	}
}

func TestSearchFTSFindsMatchWithOrWithoutIndex(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	// The fallback path cannot be forced from this package (the store
	// decides FTSAvailable() itself), so this test checks what holds on
	// either path: a query for a word in an appended message returns at
	// least one hit.
	if err := l.AppendMessage(ctx, msg("msg_000000000001AAAAAAAAAAAAAA", types.MessageUser, "hello world", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	hits, _, err := l.SearchFTS(ctx, "hello", 10)
	if err != nil {
		t.Fatalf("search_fts: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit for 'hello'")
	}
}
