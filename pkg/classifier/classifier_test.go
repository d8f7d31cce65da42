package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxpv/pledgesync/pkg/model"
)

var testCandidates = []model.Candidate{
	{AllocID: "a1", CmsID: "S1", Amount: decimal.NewFromInt(3000)},
	{AllocID: "a2", CmsID: "S2", Amount: decimal.NewFromInt(1000)},
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected *Verdict
	}{
		{
			name:  "confirmed all",
			input: `{"status": "CONFIRMED_ALL", "confirmed_alloc_ids": ["a1", "a2"], "reasoning": "both credited"}`,
			expected: &Verdict{
				Status:            ConfirmedAll,
				ConfirmedAllocIDs: []string{"a1", "a2"},
				Reasoning:         "both credited",
			},
		},
		{
			name:  "partial with duplicates and code fence",
			input: "```json\n{\"status\": \"partial\", \"confirmed_alloc_ids\": [\"a1\", \" a1 \", \"\"]}\n```",
			expected: &Verdict{
				Status:            Partial,
				ConfirmedAllocIDs: []string{"a1"},
			},
		},
		{
			name:  "query drops ids",
			input: `{"status": "QUERY", "confirmed_alloc_ids": ["a1"], "reasoning": "asks for student name"}`,
			expected: &Verdict{
				Status:    Query,
				Reasoning: "asks for student name",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := ParseVerdict([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, verdict)
		})
	}
}

func TestParseVerdict_Invalid(t *testing.T) {
	_, err := ParseVerdict([]byte(`{"status": "MAYBE"}`))
	assert.True(t, errors.Is(err, model.ErrUnknownStatus))

	_, err = ParseVerdict([]byte(`Sure! Here is the answer`))
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	assert.True(t, ConfirmedAll.Confirms())
	assert.True(t, Partial.Confirms())
	assert.False(t, Ambiguous.Confirms())
	assert.True(t, Ambiguous.Escalates())
	assert.True(t, Query.Escalates())
	assert.False(t, Partial.Escalates())
}

func TestOpenAI_Classify(t *testing.T) {
	var request struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &request))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {
					"role": "assistant",
					"content": "{\"status\": \"PARTIAL\", \"confirmed_alloc_ids\": [\"a2\"], \"reasoning\": \"only S2 mentioned\"}"
				}
			}]
		}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})

	verdict, err := client.Classify(context.Background(), "Subject: Re: PLEDGE-2024-001\nS2 received", testCandidates)
	require.NoError(t, err)
	assert.Equal(t, Partial, verdict.Status)
	assert.Equal(t, []string{"a2"}, verdict.ConfirmedAllocIDs)

	assert.Equal(t, "gpt-4o-mini", request.Model)
	require.Len(t, request.Messages, 2)
	assert.Equal(t, "system", request.Messages[0].Role)
	assert.Contains(t, request.Messages[1].Content, `"alloc_id": "a1"`)
	assert.Contains(t, request.Messages[1].Content, "S2 received")
}

func TestOpenAI_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "created": 0, "model": "m",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"status\": \"PERHAPS\"}"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"})

	_, err := client.Classify(context.Background(), "text", testCandidates)
	require.Error(t, err)
	assert.True(t, IsFailure(err))
}

type fakeClassifier struct {
	calls   int
	verdict *Verdict
	err     error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []model.Candidate) (*Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func TestBreaker(t *testing.T) {
	backend := &fakeClassifier{err: errors.New("connection refused")}
	breaker := NewBreaker(backend, 2, time.Hour)

	for i := 0; i < 2; i++ {
		_, err := breaker.Classify(context.Background(), "text", testCandidates)
		assert.True(t, IsFailure(err))
	}

	assert.Equal(t, gobreaker.StateOpen, breaker.State())

	// Open breaker doesn't reach the backend
	_, err := breaker.Classify(context.Background(), "text", testCandidates)
	assert.True(t, IsFailure(err))
	assert.Equal(t, 2, backend.calls)
}

func TestBreaker_PassesVerdict(t *testing.T) {
	backend := &fakeClassifier{verdict: &Verdict{Status: Ambiguous, Reasoning: "unclear"}}
	breaker := NewBreaker(backend, 2, time.Hour)

	verdict, err := breaker.Classify(context.Background(), "text", testCandidates)
	require.NoError(t, err)
	assert.Equal(t, Ambiguous, verdict.Status)
}
