// Package view implements C5: assembling the complete-history view from
// the temporal log into a turn sequence. Nothing here performs I/O or
// suspends (spec §5); Build is a pure function over slices already loaded
// by the caller, matching the teacher's separation of storage
// (internal/storage) from rendering (internal/ui).
package view

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sanity-labs/memvault/internal/coverage"
	"github.com/sanity-labs/memvault/internal/types"
)

// Turn is one rendered conversational turn (spec §4.5.1).
type Turn struct {
	Role        string // "user", "assistant", or "tool"
	Text        string
	ToolCalls   []ToolInvocation
	ToolResults []ToolResultItem
}

// ToolInvocation is one tool_call consumed into an assistant turn.
type ToolInvocation struct {
	MessageID string
	Content   string
}

// ToolResultItem is one tool_result consumed into a tool turn.
type ToolResultItem struct {
	MessageID string
	Content   string
}

// Result is the output of Build.
type Result struct {
	Turns          []Turn
	TotalTokens    int
	CompactionHint bool
	Warnings       []string
}

// node is one item in the merge-interleaved sequence: exactly one of
// Message or Summary is set.
type node struct {
	Message *types.Message
	Summary *types.Summary
}

func (n node) sortKey() string {
	if n.Summary != nil {
		return n.Summary.StartID
	}
	return n.Message.ID
}

// Build assembles the complete-history view (spec §4.5). budget is purely
// informational: Build never drops content to satisfy it, it only sets
// CompactionHint when total tokens exceed it.
func Build(messages []types.Message, summaries []types.Summary, budget int) Result {
	eff := coverage.EffectiveSummaries(summaries)
	unc := coverage.UncoveredMessages(messages, summaries)

	sort.SliceStable(eff, func(i, j int) bool { return eff[i].StartID < eff[j].StartID })
	sort.SliceStable(unc, func(i, j int) bool { return unc[i].ID < unc[j].ID })

	merged := mergeInterleave(eff, unc)

	var result Result
	i := 0
	for i < len(merged) {
		n := merged[i]
		switch {
		case n.Summary != nil:
			result.Turns = append(result.Turns, renderSummary(*n.Summary))
			result.TotalTokens += n.Summary.TokenEstimate
			i++

		case n.Message.Kind == types.MessageUser:
			result.Turns = append(result.Turns, renderUser(*n.Message))
			result.TotalTokens += n.Message.TokenEstimate
			i++

		case n.Message.Kind == types.MessageSystem:
			result.Turns = append(result.Turns, renderSystem(*n.Message))
			result.TotalTokens += n.Message.TokenEstimate
			i++

		case n.Message.Kind == types.MessageAssistant:
			run, next := collectToolRun(merged, i+1)
			asstTurn, toolTurn := renderAssistantWithRun(n.Message, run)
			result.Turns = append(result.Turns, asstTurn)
			result.TotalTokens += n.Message.TokenEstimate + run.tokens()
			if toolTurn != nil {
				result.Turns = append(result.Turns, *toolTurn)
			}
			i = next

		case n.Message.Kind == types.MessageToolCall:
			run, next := collectToolRun(merged, i)
			asstTurn, toolTurn := renderAssistantWithRun(nil, run)
			result.Turns = append(result.Turns, asstTurn)
			result.TotalTokens += run.tokens()
			if toolTurn != nil {
				result.Turns = append(result.Turns, *toolTurn)
			}
			i = next

		case n.Message.Kind == types.MessageToolResult:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("orphan tool_result %s dropped (no preceding tool_call)", n.Message.ID))
			i++

		default:
			result.Turns = append(result.Turns, renderSystem(*n.Message))
			result.TotalTokens += n.Message.TokenEstimate
			i++
		}
	}

	if budget > 0 && result.TotalTokens > budget {
		result.CompactionHint = true
	}
	return result
}

func mergeInterleave(summaries []types.Summary, messages []types.Message) []node {
	out := make([]node, 0, len(summaries)+len(messages))
	si, mi := 0, 0
	for si < len(summaries) && mi < len(messages) {
		s := summaries[si]
		m := messages[mi]
		// Ties are broken toward the summary (spec §4.5 step 4).
		if s.StartID <= m.ID {
			sCopy := s
			out = append(out, node{Summary: &sCopy})
			si++
		} else {
			mCopy := m
			out = append(out, node{Message: &mCopy})
			mi++
		}
	}
	for ; si < len(summaries); si++ {
		sCopy := summaries[si]
		out = append(out, node{Summary: &sCopy})
	}
	for ; mi < len(messages); mi++ {
		mCopy := messages[mi]
		out = append(out, node{Message: &mCopy})
	}
	return out
}

// toolRun is a contiguous run of tool_call/tool_result message nodes
// immediately following a start index in the merged sequence.
type toolRun struct {
	calls      []ToolInvocation
	results    []ToolResultItem
	tokenTotal int
}

// tokens is the summed token estimate of every message in the run.
func (r toolRun) tokens() int { return r.tokenTotal }

func collectToolRun(merged []node, start int) (toolRun, int) {
	var run toolRun
	i := start
	for i < len(merged) {
		n := merged[i]
		if n.Summary != nil {
			break
		}
		switch n.Message.Kind {
		case types.MessageToolCall:
			run.calls = append(run.calls, ToolInvocation{MessageID: n.Message.ID, Content: n.Message.Content})
		case types.MessageToolResult:
			run.results = append(run.results, ToolResultItem{MessageID: n.Message.ID, Content: n.Message.Content})
		default:
			return run, i
		}
		run.tokenTotal += n.Message.TokenEstimate
		i++
	}
	return run, i
}

func renderAssistantWithRun(assistant *types.Message, run toolRun) (Turn, *Turn) {
	var text string
	switch {
	case assistant != nil && len(run.calls) > 0:
		text = fmt.Sprintf("[id:%s…%s] %s", assistant.ID, lastToolID(run), assistant.Content)
	case assistant != nil:
		if assistant.Content == "" {
			text = fmt.Sprintf("[id:%s]", assistant.ID)
		} else {
			text = fmt.Sprintf("[id:%s] %s", assistant.ID, assistant.Content)
		}
	case len(run.calls) > 0:
		text = fmt.Sprintf("[id:%s]", run.calls[0].MessageID)
	}

	asst := Turn{Role: "assistant", Text: text, ToolCalls: run.calls}

	if len(run.results) == 0 {
		return asst, nil
	}
	pairedResults := make([]ToolResultItem, len(run.results))
	copy(pairedResults, run.results)
	tool := Turn{Role: "tool", ToolResults: pairedResults}
	return asst, &tool
}

func lastToolID(run toolRun) string {
	if len(run.results) > 0 {
		return run.results[len(run.results)-1].MessageID
	}
	if len(run.calls) > 0 {
		return run.calls[len(run.calls)-1].MessageID
	}
	return ""
}

func renderUser(m types.Message) Turn {
	ts := m.CreatedAt.UTC().Format("2006-01-02 15:04")
	return Turn{Role: "user", Text: fmt.Sprintf("[%s id:%s] %s", ts, m.ID, m.Content)}
}

func renderSystem(m types.Message) Turn {
	return Turn{Role: "assistant", Text: fmt.Sprintf("[system id:%s] %s", m.ID, m.Content)}
}

func renderSummary(s types.Summary) Turn {
	text := fmt.Sprintf("[distilled from:%s to:%s]\n%s", s.StartID, s.EndID, s.Narrative)
	if len(s.KeyObservations) > 0 {
		var b strings.Builder
		b.WriteString(text)
		b.WriteString("\n\nRetained facts:\n")
		for _, obs := range s.KeyObservations {
			b.WriteString("• ")
			b.WriteString(obs)
			b.WriteString("\n")
		}
		text = strings.TrimRight(b.String(), "\n")
	}
	return Turn{Role: "assistant", Text: text}
}
