package classifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

const systemPrompt = `You reconcile donations for a student hostel.
You receive an email conversation with the hostel and the list of pending fund allocations it may refer to.
Decide which allocations the hostel explicitly confirmed as received and credited to the student.

Answer with a single JSON object and nothing else:
{"status": "...", "confirmed_alloc_ids": ["..."], "reasoning": "..."}

status must be one of:
- CONFIRMED_ALL: every listed allocation is confirmed
- PARTIAL: only some allocations are confirmed, list them
- AMBIGUOUS: the reply can't be matched to allocations with certainty
- QUERY: the hostel asks a question or reports a problem

Only use alloc_id values from the list. Never guess.`

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI classifies conversations with a chat completion model.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

var _ Classifier = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (o *OpenAI) Classify(ctx context.Context, conversation string, candidates []model.Candidate) (*Verdict, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	prompt, err := userPrompt(conversation, candidates)
	if err != nil {
		return nil, fail(err)
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return nil, fail(errors.Wrap(err, "chat completion request failed"))
	}

	if len(resp.Choices) == 0 {
		return nil, fail(errors.New("empty chat completion"))
	}

	content := resp.Choices[0].Message.Content
	log.WithField("model", resp.Model).Debugf("classifier replied: %s", content)

	verdict, err := ParseVerdict([]byte(content))
	if err != nil {
		return nil, fail(err)
	}

	return verdict, nil
}

func userPrompt(conversation string, candidates []model.Candidate) (string, error) {
	list, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode candidates")
	}

	var b strings.Builder
	b.WriteString("Pending allocations:\n")
	b.Write(list)
	b.WriteString("\n\nConversation:\n")
	b.WriteString(conversation)
	return b.String(), nil
}
