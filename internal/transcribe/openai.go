package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
)

// OpenAITranscriber transcribes audio with the OpenAI API.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber creates a new OpenAI transcriber.
func NewOpenAITranscriber(apiKey string) (*OpenAITranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAITranscriber{
		client: openai.NewClient(apiKey),
		model:  openai.Whisper1,
	}, nil
}

// Name returns the provider name.
func (t *OpenAITranscriber) Name() string {
	return "openai"
}

// Transcribe transcribes the audio file at path, retrying transient
// failures with exponential backoff.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	var resp openai.AudioResponse
	operation := func() error {
		var err error
		resp, err = t.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    t.model,
			FilePath: path,
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return &Result{
		Text:      resp.Text,
		Language:  resp.Language,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
