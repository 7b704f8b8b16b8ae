package ai

import (
	"context"

	"github.com/keagan/reelcutter/internal/captions"
)

// Transcriber turns a speech audio file into word tokens in start order
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]captions.Token, error)
}

// NoopTranscriber returns no tokens, which disables captions
type NoopTranscriber struct{}

// Transcribe implements Transcriber
func (NoopTranscriber) Transcribe(context.Context, string) ([]captions.Token, error) {
	return nil, nil
}
