package distill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/sanity-labs/memvault/internal/audit"
	"github.com/sanity-labs/memvault/internal/telemetry"
	"github.com/sanity-labs/memvault/internal/types"
	"github.com/sanity-labs/memvault/internal/view"
)

// errAPIKeyRequired mirrors the teacher's internal/compact package: the
// summarizer cannot be constructed without credentials.
var errAPIKeyRequired = errors.New("distill: ANTHROPIC_API_KEY required")

// AnthropicSummarizer is the default Summarizer, generalizing the
// teacher's haikuClient from a single-shot issue summary into a
// tool-using distillation turn.
type AnthropicSummarizer struct {
	client       anthropic.Client
	model        anthropic.Model
	maxRetries   uint64
	auditEnabled bool
	auditDir     string
	auditActor   string
}

// NewAnthropicSummarizer builds a summarizer for the given model. Env var
// ANTHROPIC_API_KEY takes precedence over apiKey, matching the teacher's
// newHaikuClient precedence.
func NewAnthropicSummarizer(apiKey, model string, auditEnabled bool, auditDir string) (*AnthropicSummarizer, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	metricsOnce()

	return &AnthropicSummarizer{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:        anthropic.Model(model),
		maxRetries:   3,
		auditEnabled: auditEnabled,
		auditDir:     auditDir,
		auditActor:   "temporal-compact",
	}, nil
}

var distillMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var metricsInitialized bool

func metricsOnce() {
	if metricsInitialized {
		return
	}
	metricsInitialized = true
	m := telemetry.Meter("github.com/sanity-labs/memvault/distill")
	distillMetrics.inputTokens, _ = m.Int64Counter("memvault.distill.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed by the distillation worker"),
		metric.WithUnit("{token}"))
	distillMetrics.outputTokens, _ = m.Int64Counter("memvault.distill.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated by the distillation worker"),
		metric.WithUnit("{token}"))
	distillMetrics.duration, _ = m.Float64Histogram("memvault.distill.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"))
}

const createDistillationTool = "create_distillation"
const finishDistillationTool = "finish_distillation"

func tools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{OfTool: &anthropic.ToolParam{
			Name:        createDistillationTool,
			Description: anthropic.String("Replace a contiguous id range with a distilled narrative."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"start_id":            map[string]any{"type": "string"},
					"end_id":              map[string]any{"type": "string"},
					"operational_context": map[string]any{"type": "string"},
					"retained_facts": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
			},
		}},
		{OfTool: &anthropic.ToolParam{
			Name:        finishDistillationTool,
			Description: anthropic.String("Signal that the view is small enough and report the final summary."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"summary": map[string]any{"type": "string"},
				},
			},
		}},
	}
}

// GenerateDistillationTurn implements Summarizer. It sends the rendered
// turn sequence plus the system prompt in one user message and interprets
// any tool_use blocks the model returns as Operations.
func (s *AnthropicSummarizer) GenerateDistillationTurn(ctx context.Context, systemPrompt string, turns []view.Turn, validIDs map[string]bool) (TurnResult, error) {
	prompt := renderTurnsPrompt(systemPrompt, turns, validIDs)

	message, err := s.callWithRetry(ctx, prompt)

	if s.auditEnabled {
		entry := &audit.Entry{Kind: "llm_call", Actor: s.auditActor, Model: string(s.model), Prompt: prompt}
		if err != nil {
			entry.Error = err.Error()
		}
		_, _ = audit.Append(s.auditDir, entry) // best effort: audit logging must never fail compaction
	}

	if err != nil {
		return TurnResult{}, err
	}
	return message, nil
}

func (s *AnthropicSummarizer) callWithRetry(ctx context.Context, prompt string) (TurnResult, error) {
	tracer := telemetry.Tracer("github.com/sanity-labs/memvault/distill")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("memvault.distill.model", string(s.model)),
		attribute.String("memvault.distill.operation", "distillation_turn"),
	)

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: tools(),
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)

	var result TurnResult
	operation := func() error {
		t0 := time.Now()
		message, err := s.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
			}
			return err
		}

		modelAttr := attribute.String("memvault.distill.model", string(s.model))
		if distillMetrics.inputTokens != nil {
			distillMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
			distillMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			distillMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		}

		result.InputTokens = int(message.Usage.InputTokens)
		result.OutputTokens = int(message.Usage.OutputTokens)
		result, err = parseResponse(message, result)
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var permanent error
		if pe, ok := err.(*backoff.PermanentError); ok {
			permanent = pe.Err
		} else {
			permanent = err
		}
		if errors.Is(permanent, context.Canceled) || errors.Is(permanent, context.DeadlineExceeded) {
			span.RecordError(permanent)
			return TurnResult{}, permanent
		}
		if isPromptTooLongMessage(permanent) {
			span.RecordError(permanent)
			return TurnResult{}, fmt.Errorf("%w: %v", types.ErrPromptTooLong, permanent)
		}
		span.RecordError(permanent)
		span.SetStatus(codes.Error, permanent.Error())
		return TurnResult{}, fmt.Errorf("%w: %v", types.ErrSummarizer, permanent)
	}

	return result, nil
}

func parseResponse(message *anthropic.Message, result TurnResult) (TurnResult, error) {
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			result.Text += block.Text
		case "tool_use":
			op, err := parseToolUse(block.Name, block.Input)
			if err != nil {
				return result, fmt.Errorf("distill: parse tool_use %s: %w", block.Name, err)
			}
			if op != nil {
				result.Operations = append(result.Operations, *op)
			}
		}
	}
	return result, nil
}

func parseToolUse(name string, input json.RawMessage) (*Operation, error) {
	switch name {
	case createDistillationTool:
		var args CreateDistillationArgs
		if err := json.Unmarshal(input, &jsonCreateDistillation{
			StartID:            &args.StartID,
			EndID:              &args.EndID,
			OperationalContext: &args.OperationalContext,
			RetainedFacts:      &args.RetainedFacts,
		}); err != nil {
			return nil, err
		}
		return &Operation{CreateDistillation: &args}, nil
	case finishDistillationTool:
		var args FinishDistillationArgs
		if err := json.Unmarshal(input, &jsonFinishDistillation{Summary: &args.Summary}); err != nil {
			return nil, err
		}
		return &Operation{FinishDistillation: &args}, nil
	default:
		return nil, nil
	}
}

type jsonCreateDistillation struct {
	StartID            *string   `json:"start_id"`
	EndID              *string   `json:"end_id"`
	OperationalContext *string   `json:"operational_context"`
	RetainedFacts      *[]string `json:"retained_facts"`
}

type jsonFinishDistillation struct {
	Summary *string `json:"summary"`
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func isPromptTooLongMessage(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Error()), "too long")
	}
	return false
}

// renderTurnsPrompt puts the system prompt and the turn sequence, with
// id prefixes visible exactly as the view renders them, into the single
// user message this summarizer sends per outer-loop turn.
func renderTurnsPrompt(systemPrompt string, turns []view.Turn, validIDs map[string]bool) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n--- conversation view ---\n")
	for _, t := range turns {
		b.WriteString(fmt.Sprintf("[%s] %s\n", t.Role, t.Text))
	}
	b.WriteString(fmt.Sprintf("\nvalid_ids: %d ids are referenceable; ids outside this set are in the recency window and cannot be distilled.\n", len(validIDs)))
	return b.String()
}
