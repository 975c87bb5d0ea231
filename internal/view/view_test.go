package view

import (
	"strings"
	"testing"
	"time"

	"github.com/sanity-labs/memvault/internal/types"
)

func um(id, content string, tokens int) types.Message {
	return types.Message{ID: id, Kind: types.MessageUser, Content: content, TokenEstimate: tokens, CreatedAt: time.Now()}
}

// TestViewInterleave is scenario S5 from spec §8: with s1 subsumed by s2,
// the view emits exactly s2, then m4, m5.
func TestViewInterleave(t *testing.T) {
	messages := []types.Message{
		um("msg_1", "m1", 1),
		um("msg_2", "m2", 1),
		um("msg_3", "m3", 1),
		um("msg_4", "m4", 1),
		um("msg_5", "m5", 1),
	}
	s1 := types.Summary{ID: "sum_1", OrderNum: 1, StartID: "msg_1", EndID: "msg_2", Narrative: "s1"}
	s2 := types.Summary{ID: "sum_2", OrderNum: 2, StartID: "msg_1", EndID: "msg_3", Narrative: "s2"}

	result := Build(messages, []types.Summary{s1, s2}, 0)

	if len(result.Turns) != 3 {
		t.Fatalf("expected 3 turns (s2, m4, m5), got %d: %+v", len(result.Turns), result.Turns)
	}
	if !strings.Contains(result.Turns[0].Text, "distilled from:msg_1 to:msg_3") {
		t.Fatalf("expected first turn to be s2's distillation, got %q", result.Turns[0].Text)
	}
	if !strings.Contains(result.Turns[1].Text, "id:msg_4") {
		t.Fatalf("expected second turn to reference msg_4, got %q", result.Turns[1].Text)
	}
	if !strings.Contains(result.Turns[2].Text, "id:msg_5") {
		t.Fatalf("expected third turn to reference msg_5, got %q", result.Turns[2].Text)
	}
}

func TestViewCoversEveryMessageID(t *testing.T) {
	messages := []types.Message{um("msg_1", "a", 1), um("msg_2", "b", 1), um("msg_3", "c", 1)}
	summary := types.Summary{ID: "sum_1", OrderNum: 1, StartID: "msg_1", EndID: "msg_2", Narrative: "ab"}

	result := Build(messages, []types.Summary{summary}, 0)

	blob := ""
	for _, turn := range result.Turns {
		blob += turn.Text + "\n"
	}
	if !strings.Contains(blob, "from:msg_1 to:msg_2") {
		t.Fatalf("expected msg_1/msg_2 to be covered by the summary tag")
	}
	if !strings.Contains(blob, "id:msg_3") {
		t.Fatalf("expected msg_3 to appear in an id tag")
	}
}

func TestAssistantWithToolCallAndResult(t *testing.T) {
	now := time.Now()
	messages := []types.Message{
		{ID: "msg_1", Kind: types.MessageAssistant, Content: "let me check", CreatedAt: now},
		{ID: "msg_2", Kind: types.MessageToolCall, Content: `{"tool":"search"}`, CreatedAt: now},
		{ID: "msg_3", Kind: types.MessageToolResult, Content: `{"ok":true}`, CreatedAt: now},
		{ID: "msg_4", Kind: types.MessageUser, Content: "thanks", CreatedAt: now},
	}
	result := Build(messages, nil, 0)
	if len(result.Turns) != 3 {
		t.Fatalf("expected assistant+tool+user = 3 turns, got %d: %+v", len(result.Turns), result.Turns)
	}
	if result.Turns[0].Role != "assistant" || len(result.Turns[0].ToolCalls) != 1 {
		t.Fatalf("expected assistant turn with one tool call, got %+v", result.Turns[0])
	}
	if result.Turns[1].Role != "tool" || len(result.Turns[1].ToolResults) != 1 {
		t.Fatalf("expected tool turn with one result, got %+v", result.Turns[1])
	}
	if result.Turns[2].Role != "user" {
		t.Fatalf("expected trailing user turn, got %+v", result.Turns[2])
	}
}

func TestStandaloneToolCallRun(t *testing.T) {
	now := time.Now()
	messages := []types.Message{
		{ID: "msg_1", Kind: types.MessageToolCall, Content: "call", CreatedAt: now},
		{ID: "msg_2", Kind: types.MessageToolResult, Content: "result", CreatedAt: now},
	}
	result := Build(messages, nil, 0)
	if len(result.Turns) != 2 {
		t.Fatalf("expected assistant+tool turns, got %d", len(result.Turns))
	}
	if !strings.Contains(result.Turns[0].Text, "id:msg_1") {
		t.Fatalf("expected standalone tool call turn to carry the id tag, got %q", result.Turns[0].Text)
	}
}

func TestOrphanToolResultDropped(t *testing.T) {
	now := time.Now()
	messages := []types.Message{
		{ID: "msg_1", Kind: types.MessageToolResult, Content: "orphan", CreatedAt: now},
		{ID: "msg_2", Kind: types.MessageUser, Content: "hi", CreatedAt: now},
	}
	result := Build(messages, nil, 0)
	if len(result.Turns) != 1 {
		t.Fatalf("expected orphan result dropped, leaving 1 turn, got %d", len(result.Turns))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning about the orphan tool_result")
	}
}

func TestCompactionHintSetOnOverBudget(t *testing.T) {
	messages := []types.Message{um("msg_1", "a", 100)}
	result := Build(messages, nil, 10)
	if !result.CompactionHint {
		t.Fatalf("expected compaction hint when over budget")
	}
	if len(result.Turns) != 1 {
		t.Fatalf("expected the view to still contain all items even over budget")
	}
}

func TestCompactionHintNotSetAtExactBudget(t *testing.T) {
	messages := []types.Message{um("msg_1", "a", 10)}
	result := Build(messages, nil, 10)
	if result.CompactionHint {
		t.Fatalf("expected no compaction hint when tokens equal budget exactly")
	}
}
