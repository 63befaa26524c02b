package llmclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// SummaryResult is what a completed call's transcript is reduced to
// once the call reaches a terminal state (§3's Call.summary/analysis
// fields).
type SummaryResult struct {
	Summary  string
	Analysis string
}

// SummaryClient produces a short summary and a structured analysis
// from a call's full transcript, via an OpenRouter-compatible
// chat-completions endpoint (OPENROUTER_MODEL, §6).
type SummaryClient interface {
	Summarize(ctx context.Context, prompt string, transcript []models.Transcript) (*SummaryResult, error)
}

// OpenRouterSummaryClient wraps github.com/openai/openai-go/v2 pointed
// at an OpenRouter-compatible base URL, the same client construction
// the pack uses for chat-completions calls (manifold's
// internal/llm/openai_client.go), adapted from a generic completion
// helper into a single-purpose call-summary reducer.
type OpenRouterSummaryClient struct {
	cfg    *config.LLMClientConfig
	client openai.Client
}

// NewOpenRouterSummaryClient constructs a client from the LLM client
// config, reading the API key once from its configured env var.
func NewOpenRouterSummaryClient(cfg *config.LLMClientConfig) *OpenRouterSummaryClient {
	apiKey := os.Getenv(cfg.SummaryAPIKeyEnv)
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.SummaryBaseURL),
	)
	return &OpenRouterSummaryClient{cfg: cfg, client: client}
}

func (c *OpenRouterSummaryClient) Summarize(ctx context.Context, prompt string, transcript []models.Transcript) (*SummaryResult, error) {
	conversation := renderTranscript(transcript)

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.cfg.SummaryModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt(prompt)),
			openai.UserMessage(conversation),
		},
		MaxTokens: param.NewOpt(c.cfg.SummaryMaxTokens),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: summary completion failed: %v", ErrRetryable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summary completion returned no choices")
	}

	return parseSummaryCompletion(resp.Choices[0].Message.Content), nil
}

func summarySystemPrompt(callPrompt string) string {
	return "You summarize a completed phone call. The call's original instructions were:\n" + callPrompt +
		"\n\nRespond in exactly two sections, each on its own line, prefixed literally with " +
		"\"SUMMARY:\" and \"ANALYSIS:\". SUMMARY is one or two sentences a human reviewer can " +
		"scan quickly. ANALYSIS is a short structured assessment of whether the call achieved " +
		"its stated goal."
}

// parseSummaryCompletion splits a "SUMMARY: ...\nANALYSIS: ..." reply
// into its two fields, falling back to treating the whole reply as the
// summary if the model didn't follow the requested shape.
func parseSummaryCompletion(content string) *SummaryResult {
	const summaryPrefix = "SUMMARY:"
	const analysisPrefix = "ANALYSIS:"

	summary, analysis := content, ""
	if i := strings.Index(content, analysisPrefix); i >= 0 {
		summary = strings.TrimSpace(content[:i])
		analysis = strings.TrimSpace(content[i+len(analysisPrefix):])
	}
	summary = strings.TrimSpace(strings.TrimPrefix(summary, summaryPrefix))
	return &SummaryResult{Summary: summary, Analysis: analysis}
}

func renderTranscript(transcript []models.Transcript) string {
	var b strings.Builder
	for _, t := range transcript {
		if !t.Final {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Message)
	}
	return b.String()
}
