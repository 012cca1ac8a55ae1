package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/franz/edition-janitor/internal/util"
)

// DefaultModel is fast and cheap enough to run on every near tie
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You help curate a personal music library. You receive several editions
(physical copies) of the same album and choose the one to keep.

Prefer, in order: lossless over lossy, complete track lists over incomplete ones,
higher resolution, then editions carrying extra tracks. "score" is a deterministic
quality estimate; only deviate from the highest score for a concrete reason.

If losing editions have tracks the winner lacks, list their titles in merge_list.

Return ONLY valid JSON:
{
  "winner_index": 0,
  "rationale": "one or two sentences",
  "merge_list": ["track title", "..."]
}`

// OpenAIConfig configures the OpenAI tie-breaker
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for compatible endpoints
	Model   string
}

// OpenAI asks a chat model to break ties
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the OpenAI tie-breaker. Retries are left to the caller.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, option.WithBaseURL(base))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: model}
}

// Evaluate implements TieBreaker
func (o *OpenAI) Evaluate(ctx context.Context, candidates []Candidate) (*Decision, error) {
	payload, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}
	userPrompt := fmt.Sprintf("Choose the edition to keep:\n\n%s", payload)

	jsonObjectFormat := shared.NewResponseFormatJSONObjectParam()

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Model:       shared.ChatModel(o.model),
		Temperature: param.NewOpt(0.1),
		MaxTokens:   param.NewOpt[int64](500),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &jsonObjectFormat,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", util.ErrAIMalformed)
	}

	var d Decision
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrAIMalformed, err)
	}
	if err := validate(&d, len(candidates)); err != nil {
		return nil, err
	}
	return &d, nil
}
